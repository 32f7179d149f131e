// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/mileage-engine/mileage"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type statusKey struct {
	User    mileage.UserID
	Year    int
	Month   int
	Subject string
}

type Memory struct {
	mu             sync.RWMutex
	locations      map[mileage.LocationID]mileage.Location
	distances      map[mileage.DistanceID]mileage.Distance
	trips          map[mileage.TripID]mileage.Trip
	bearers        map[mileage.BearerID]mileage.CostBearer
	passengerRates map[mileage.UserID]mileage.RateHistory
	statuses       map[statusKey]mileage.SubmissionStatus
}

func NewMemory() *Memory {
	return &Memory{
		locations:      make(map[mileage.LocationID]mileage.Location),
		distances:      make(map[mileage.DistanceID]mileage.Distance),
		trips:          make(map[mileage.TripID]mileage.Trip),
		bearers:        make(map[mileage.BearerID]mileage.CostBearer),
		passengerRates: make(map[mileage.UserID]mileage.RateHistory),
		statuses:       make(map[statusKey]mileage.SubmissionStatus),
	}
}

// Compile-time check that Memory implements the full store contract.
var _ mileage.Store = (*Memory)(nil)

// =============================================================================
// LOCATIONS
// =============================================================================

func (m *Memory) SaveLocation(_ context.Context, loc mileage.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Unique-per-user roles demote the previous holder.
	if loc.Role.UniquePerUser() {
		for id, other := range m.locations {
			if other.UserID == loc.UserID && other.Role == loc.Role && other.ID != loc.ID {
				other.Role = mileage.RoleNone
				m.locations[id] = other
			}
		}
	}
	m.locations[loc.ID] = loc
	return nil
}

func (m *Memory) GetLocation(_ context.Context, user mileage.UserID, id mileage.LocationID) (mileage.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loc, ok := m.locations[id]
	if !ok || loc.UserID != user {
		return mileage.Location{}, mileage.ErrLocationNotFound
	}
	return loc, nil
}

func (m *Memory) ListLocations(_ context.Context, user mileage.UserID) ([]mileage.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []mileage.Location
	for _, loc := range m.locations {
		if loc.UserID == user {
			result = append(result, loc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) DeleteLocation(_ context.Context, user mileage.UserID, id mileage.LocationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, ok := m.locations[id]
	if !ok || loc.UserID != user {
		return mileage.ErrLocationNotFound
	}
	delete(m.locations, id)
	for did, d := range m.distances {
		if d.UserID == user && (d.LocA == id || d.LocB == id) {
			delete(m.distances, did)
		}
	}
	return nil
}

func (m *Memory) FindLocationByRole(_ context.Context, user mileage.UserID, role mileage.LocationRole) (mileage.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, loc := range m.locations {
		if loc.UserID == user && loc.Role == role {
			return loc, nil
		}
	}
	return mileage.Location{}, mileage.ErrLocationNotFound
}

// =============================================================================
// DISTANCES
// =============================================================================

func (m *Memory) FindDistance(_ context.Context, user mileage.UserID, a, b mileage.LocationID) (mileage.Distance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if d, ok := m.findDistanceLocked(user, a, b); ok {
		return d, nil
	}
	return mileage.Distance{}, mileage.ErrDistanceNotFound
}

func (m *Memory) findDistanceLocked(user mileage.UserID, a, b mileage.LocationID) (mileage.Distance, bool) {
	for _, d := range m.distances {
		if d.UserID == user && d.Matches(a, b) {
			return d, true
		}
	}
	return mileage.Distance{}, false
}

func (m *Memory) UpsertDistance(_ context.Context, user mileage.UserID, a, b mileage.LocationID, km decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check-then-write under one lock: an existing record in either order
	// is updated in place, never duplicated reversed.
	if d, ok := m.findDistanceLocked(user, a, b); ok {
		d.Km = km
		m.distances[d.ID] = d
		return nil
	}
	d := mileage.Distance{ID: mileage.NewDistanceID(), UserID: user, LocA: a, LocB: b, Km: km}
	m.distances[d.ID] = d
	return nil
}

func (m *Memory) ListDistances(_ context.Context, user mileage.UserID) ([]mileage.Distance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []mileage.Distance
	for _, d := range m.distances {
		if d.UserID == user {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) DeleteDistance(_ context.Context, user mileage.UserID, a, b mileage.LocationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.findDistanceLocked(user, a, b); ok {
		delete(m.distances, d.ID)
		return nil
	}
	return mileage.ErrDistanceNotFound
}

// =============================================================================
// TRIPS
// =============================================================================

func (m *Memory) CreateTrip(_ context.Context, trip mileage.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trips[trip.ID] = copyTrip(trip)
	return nil
}

func (m *Memory) UpdateTrip(_ context.Context, trip mileage.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.trips[trip.ID]
	if !ok || existing.UserID != trip.UserID {
		return mileage.ErrTripNotFound
	}
	m.trips[trip.ID] = copyTrip(trip)
	return nil
}

func (m *Memory) GetTrip(_ context.Context, user mileage.UserID, id mileage.TripID) (mileage.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trip, ok := m.trips[id]
	if !ok || trip.UserID != user {
		return mileage.Trip{}, mileage.ErrTripNotFound
	}
	return copyTrip(trip), nil
}

func (m *Memory) DeleteTrip(_ context.Context, user mileage.UserID, id mileage.TripID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	trip, ok := m.trips[id]
	if !ok || trip.UserID != user {
		return mileage.ErrTripNotFound
	}
	delete(m.trips, id)
	return nil
}

func (m *Memory) TripsBetween(_ context.Context, user mileage.UserID, from, to mileage.TimePoint) ([]mileage.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []mileage.Trip
	for _, trip := range m.trips {
		if trip.UserID == user && trip.Date.AfterOrEqual(from) && trip.Date.BeforeOrEqual(to) {
			result = append(result, copyTrip(trip))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date.Equal(result[j].Date) {
			return result[i].ID < result[j].ID
		}
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

func (m *Memory) CountTripsForBearer(_ context.Context, user mileage.UserID, id mileage.BearerID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, trip := range m.trips {
		if trip.UserID != user {
			continue
		}
		if trip.BearerID == id {
			count++
		}
		for _, leg := range trip.Legs {
			if leg.BearerID == id {
				count++
			}
		}
	}
	return count, nil
}

func (m *Memory) CountTripsForLocation(_ context.Context, user mileage.UserID, id mileage.LocationID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, trip := range m.trips {
		if trip.UserID != user {
			continue
		}
		if trip.From.LocationID == id || trip.To.LocationID == id {
			count++
			continue
		}
		for _, leg := range trip.Legs {
			if leg.From.LocationID == id || leg.To.LocationID == id {
				count++
				break
			}
		}
	}
	return count, nil
}

func copyTrip(trip mileage.Trip) mileage.Trip {
	trip.Legs = append([]mileage.TripLeg(nil), trip.Legs...)
	trip.Passengers = append([]mileage.Passenger(nil), trip.Passengers...)
	return trip
}

// =============================================================================
// COST BEARERS
// =============================================================================

func (m *Memory) CreateBearer(_ context.Context, b mileage.CostBearer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(b.Rates) == 0 {
		return &mileage.ConstraintViolationError{
			Entity: "cost bearer",
			ID:     string(b.ID),
			Reason: "requires an initial rate entry",
		}
	}
	m.demoteSplitRoleLocked(b)
	b.Rates = append(mileage.RateHistory(nil), b.Rates...)
	mileage.SortHistory(b.Rates)
	m.bearers[b.ID] = b
	return nil
}

func (m *Memory) UpdateBearer(_ context.Context, b mileage.CostBearer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.bearers[b.ID]
	if !ok || existing.UserID != b.UserID {
		return mileage.ErrBearerNotFound
	}
	m.demoteSplitRoleLocked(b)
	b.Rates = existing.Rates // history managed via SetBearerRate
	m.bearers[b.ID] = b
	return nil
}

// demoteSplitRoleLocked keeps split roles unique per user.
func (m *Memory) demoteSplitRoleLocked(b mileage.CostBearer) {
	if b.SplitRole == mileage.SplitRoleNone {
		return
	}
	for id, other := range m.bearers {
		if other.UserID == b.UserID && other.SplitRole == b.SplitRole && other.ID != b.ID {
			other.SplitRole = mileage.SplitRoleNone
			m.bearers[id] = other
		}
	}
}

func (m *Memory) GetBearer(_ context.Context, user mileage.UserID, id mileage.BearerID) (mileage.CostBearer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bearers[id]
	if !ok || b.UserID != user {
		return mileage.CostBearer{}, mileage.ErrBearerNotFound
	}
	return copyBearer(b), nil
}

func (m *Memory) ListBearers(_ context.Context, user mileage.UserID) ([]mileage.CostBearer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []mileage.CostBearer
	for _, b := range m.bearers {
		if b.UserID == user {
			result = append(result, copyBearer(b))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SortOrder == result[j].SortOrder {
			return result[i].Code < result[j].Code
		}
		return result[i].SortOrder < result[j].SortOrder
	})
	return result, nil
}

func (m *Memory) DeleteBearer(_ context.Context, user mileage.UserID, id mileage.BearerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bearers[id]
	if !ok || b.UserID != user {
		return mileage.ErrBearerNotFound
	}
	delete(m.bearers, id)
	return nil
}

func (m *Memory) FindBearerBySplitRole(_ context.Context, user mileage.UserID, role mileage.SplitRole) (mileage.CostBearer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.bearers {
		if b.UserID == user && b.SplitRole == role {
			return copyBearer(b), nil
		}
	}
	return mileage.CostBearer{}, mileage.ErrBearerNotFound
}

func (m *Memory) SetBearerRate(_ context.Context, user mileage.UserID, id mileage.BearerID, entry mileage.RateEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bearers[id]
	if !ok || b.UserID != user {
		return mileage.ErrBearerNotFound
	}
	b.Rates = b.Rates.Set(entry)
	m.bearers[id] = b
	return nil
}

func (m *Memory) DeleteBearerRate(_ context.Context, user mileage.UserID, id mileage.BearerID, effectiveFrom mileage.TimePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bearers[id]
	if !ok || b.UserID != user {
		return mileage.ErrBearerNotFound
	}
	rates, ok := b.Rates.Delete(effectiveFrom)
	if !ok {
		return mileage.ErrRateNotFound
	}
	b.Rates = rates
	m.bearers[id] = b
	return nil
}

func copyBearer(b mileage.CostBearer) mileage.CostBearer {
	b.Rates = append(mileage.RateHistory(nil), b.Rates...)
	return b
}

// =============================================================================
// PASSENGER RATES
// =============================================================================

func (m *Memory) PassengerRates(_ context.Context, user mileage.UserID) (mileage.RateHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append(mileage.RateHistory(nil), m.passengerRates[user]...), nil
}

func (m *Memory) SetPassengerRate(_ context.Context, user mileage.UserID, entry mileage.RateEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.passengerRates[user] = m.passengerRates[user].Set(entry)
	return nil
}

func (m *Memory) DeletePassengerRate(_ context.Context, user mileage.UserID, effectiveFrom mileage.TimePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rates, ok := m.passengerRates[user].Delete(effectiveFrom)
	if !ok {
		return mileage.ErrRateNotFound
	}
	m.passengerRates[user] = rates
	return nil
}

// =============================================================================
// SUBMISSION STATUSES
// =============================================================================

func (m *Memory) GetStatus(_ context.Context, user mileage.UserID, year, month int, subject string) (mileage.SubmissionStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.statuses[statusKey{User: user, Year: year, Month: month, Subject: subject}]
	if !ok {
		return mileage.SubmissionStatus{}, mileage.ErrStatusNotFound
	}
	return st, nil
}

func (m *Memory) SaveStatus(_ context.Context, st mileage.SubmissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses[statusKey{User: st.UserID, Year: st.Year, Month: st.Month, Subject: st.Subject}] = st
	return nil
}

func (m *Memory) DeleteStatus(_ context.Context, user mileage.UserID, year, month int, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, statusKey{User: user, Year: year, Month: month, Subject: subject})
	return nil
}

func (m *Memory) ListStatusesForMonth(_ context.Context, user mileage.UserID, year, month int) ([]mileage.SubmissionStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []mileage.SubmissionStatus
	for k, st := range m.statuses {
		if k.User == user && k.Year == year && k.Month == month {
			result = append(result, st)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Subject < result[j].Subject })
	return result, nil
}
