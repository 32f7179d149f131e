/*
service.go - Orchestration of the reimbursement engine

PURPOSE:
  The Service wires the resolvers, splitter, reporter and status machine
  over one Store and exposes the operations the surrounding HTTP/CRUD layer
  consumes: trip creation/update with autosplit-or-plain-distance
  branching, deletion guards that keep referenced entities alive, rate
  setting for bearers and passenger carry, and the report/status surface.

VALIDATION POLICY:
  Malformed input (missing fields, exclusive-endpoint violations, bad
  dates) is rejected here before any computation or store write begins.

GUARDS:
  - A location referenced by any trip endpoint cannot be deleted.
  - A cost bearer referenced by any trip or leg cannot be deleted.
  - The last rate entry of a bearer (or of the passenger series) cannot be
    deleted.
  All guards surface ConstraintViolationError with the blocking reference
  count.
*/
package mileage

import (
	"context"

	"github.com/shopspring/decimal"
)

type Service struct {
	store     Store
	distances *DistanceResolver
	splitter  *Splitter
	rates     *RateResolver
	reporter  *Reporter
	statuses  *StatusMachine
}

func NewService(store Store) *Service {
	distances := NewDistanceResolver(store)
	return &Service{
		store:     store,
		distances: distances,
		splitter:  NewSplitter(store, store, distances),
		rates:     NewRateResolver(store, store),
		reporter:  NewReporter(store),
		statuses:  NewStatusMachine(store),
	}
}

// =============================================================================
// LOCATIONS
// =============================================================================

func (s *Service) SaveLocation(ctx context.Context, loc Location) (Location, error) {
	if loc.UserID == "" {
		return Location{}, &ValidationError{Field: "user", Message: "required"}
	}
	if loc.Name == "" {
		return Location{}, &ValidationError{Field: "name", Message: "required"}
	}
	if !loc.Role.Valid() {
		return Location{}, &ValidationError{Field: "role", Message: "unknown role " + string(loc.Role)}
	}
	if loc.ID == "" {
		loc.ID = NewLocationID()
	}
	if err := s.store.SaveLocation(ctx, loc); err != nil {
		return Location{}, err
	}
	return loc, nil
}

func (s *Service) GetLocation(ctx context.Context, user UserID, id LocationID) (Location, error) {
	return s.store.GetLocation(ctx, user, id)
}

func (s *Service) ListLocations(ctx context.Context, user UserID) ([]Location, error) {
	return s.store.ListLocations(ctx, user)
}

// DeleteLocation removes a location and its distance records, unless a trip
// still references it.
func (s *Service) DeleteLocation(ctx context.Context, user UserID, id LocationID) error {
	if _, err := s.store.GetLocation(ctx, user, id); err != nil {
		return err
	}
	refs, err := s.store.CountTripsForLocation(ctx, user, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return &ConstraintViolationError{
			Entity:     "location",
			ID:         string(id),
			References: refs,
			Reason:     "referenced by trips",
		}
	}
	return s.store.DeleteLocation(ctx, user, id)
}

// =============================================================================
// DISTANCES
// =============================================================================

func (s *Service) Distance(ctx context.Context, user UserID, a, b LocationID) (decimal.Decimal, error) {
	return s.distances.Resolve(ctx, user, a, b)
}

func (s *Service) UpsertDistance(ctx context.Context, user UserID, a, b LocationID, km decimal.Decimal) error {
	return s.distances.Upsert(ctx, user, a, b, km)
}

func (s *Service) ListDistances(ctx context.Context, user UserID) ([]Distance, error) {
	return s.store.ListDistances(ctx, user)
}

func (s *Service) DeleteDistance(ctx context.Context, user UserID, a, b LocationID) error {
	return s.store.DeleteDistance(ctx, user, a, b)
}

// =============================================================================
// AUTOSPLIT
// =============================================================================

func (s *Service) ComputeAutosplit(ctx context.Context, user UserID, from, to LocationID) (SplitResult, error) {
	if from == "" || to == "" {
		return SplitResult{}, &ValidationError{Field: "location", Message: "from and to required"}
	}
	return s.splitter.Split(ctx, user, from, to)
}

// =============================================================================
// TRIPS
// =============================================================================

// TripInput is the caller-supplied shape for creating or updating a trip.
// Km is a manual override: when set on a non-split trip it takes precedence
// over any resolvable distance.
type TripInput struct {
	Date       TimePoint
	Purpose    string
	Km         decimal.Decimal
	BearerID   BearerID
	From       Endpoint
	To         Endpoint
	Autosplit  bool
	Passengers []Passenger
}

func (in TripInput) validate() error {
	if in.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "required"}
	}
	if err := in.From.Validate(); err != nil {
		return err
	}
	if err := in.To.Validate(); err != nil {
		return err
	}
	for _, p := range in.Passengers {
		if p.Name == "" {
			return &ValidationError{Field: "passenger", Message: "name required"}
		}
		if !p.Direction.Valid() {
			return &ValidationError{Field: "passenger", Message: "unknown direction " + string(p.Direction)}
		}
	}
	if in.Autosplit && (!in.From.IsStored() || !in.To.IsStored()) {
		return &ValidationError{Field: "autosplit", Message: "requires stored locations on both sides"}
	}
	return nil
}

// CreateTrip validates the input, resolves kilometers (autosplit legs or
// plain distance) and persists the trip with its legs and passengers
// atomically.
func (s *Service) CreateTrip(ctx context.Context, user UserID, in TripInput) (Trip, error) {
	trip, err := s.buildTrip(ctx, user, NewTripID(), in)
	if err != nil {
		return Trip{}, err
	}
	if err := s.store.CreateTrip(ctx, trip); err != nil {
		return Trip{}, err
	}
	return trip, nil
}

// UpdateTrip rebuilds the trip from the input (recomputing legs for
// autosplit trips) and replaces it atomically.
func (s *Service) UpdateTrip(ctx context.Context, user UserID, id TripID, in TripInput) (Trip, error) {
	if _, err := s.store.GetTrip(ctx, user, id); err != nil {
		return Trip{}, err
	}
	trip, err := s.buildTrip(ctx, user, id, in)
	if err != nil {
		return Trip{}, err
	}
	if err := s.store.UpdateTrip(ctx, trip); err != nil {
		return Trip{}, err
	}
	return trip, nil
}

func (s *Service) buildTrip(ctx context.Context, user UserID, id TripID, in TripInput) (Trip, error) {
	if err := in.validate(); err != nil {
		return Trip{}, err
	}

	trip := Trip{
		ID:         id,
		UserID:     user,
		Date:       in.Date,
		Purpose:    in.Purpose,
		From:       in.From,
		To:         in.To,
		Autosplit:  in.Autosplit,
		Passengers: in.Passengers,
	}

	if in.Autosplit {
		split, err := s.splitter.Split(ctx, user, in.From.LocationID, in.To.LocationID)
		if err != nil {
			return Trip{}, err
		}
		trip.Km = split.TotalKm
		for _, leg := range split.Legs {
			trip.Legs = append(trip.Legs, TripLeg{
				From:       StoredEndpoint(leg.From),
				To:         StoredEndpoint(leg.To),
				Km:         leg.Km,
				BearerID:   leg.BearerID,
				BearerCode: leg.BearerCode,
			})
		}
		return trip, nil
	}

	if in.BearerID == "" {
		return Trip{}, &ValidationError{Field: "bearer", Message: "required for non-split trips"}
	}
	if _, err := s.store.GetBearer(ctx, user, in.BearerID); err != nil {
		return Trip{}, err
	}
	trip.BearerID = in.BearerID

	switch {
	case in.Km.IsPositive():
		trip.Km = in.Km
	case in.From.IsStored() && in.To.IsStored():
		km, err := s.distances.Resolve(ctx, user, in.From.LocationID, in.To.LocationID)
		if err != nil {
			return Trip{}, err
		}
		trip.Km = km
	default:
		return Trip{}, &ValidationError{Field: "kilometers", Message: "required when no stored distance applies"}
	}
	return trip, nil
}

func (s *Service) GetTrip(ctx context.Context, user UserID, id TripID) (Trip, error) {
	return s.store.GetTrip(ctx, user, id)
}

func (s *Service) DeleteTrip(ctx context.Context, user UserID, id TripID) error {
	return s.store.DeleteTrip(ctx, user, id)
}

// ListTrips returns the user's trips for a month, or for a whole year when
// month is 0.
func (s *Service) ListTrips(ctx context.Context, user UserID, year, month int) ([]Trip, error) {
	if month == 0 {
		p := YearPeriod(year)
		return s.store.TripsBetween(ctx, user, p.Start, p.End)
	}
	if month < 1 || month > 12 {
		return nil, &ValidationError{Field: "month", Message: "must be 1-12"}
	}
	p := MonthPeriod(year, monthOf(month))
	return s.store.TripsBetween(ctx, user, p.Start, p.End)
}

// =============================================================================
// COST BEARERS
// =============================================================================

// BearerInput carries bearer fields plus the initial rate for creation.
type BearerInput struct {
	Name        string
	Code        string
	Active      bool
	SortOrder   int
	SplitRole   SplitRole
	InitialRate RateEntry
}

// CreateBearer persists the bearer with its first rate entry atomically,
// establishing the at-least-one-entry invariant from the start.
func (s *Service) CreateBearer(ctx context.Context, user UserID, in BearerInput) (CostBearer, error) {
	if in.Name == "" {
		return CostBearer{}, &ValidationError{Field: "name", Message: "required"}
	}
	if in.Code == "" {
		return CostBearer{}, &ValidationError{Field: "code", Message: "required"}
	}
	if !in.SplitRole.Valid() {
		return CostBearer{}, &ValidationError{Field: "split_role", Message: "unknown role " + string(in.SplitRole)}
	}
	if err := validateRateEntry(in.InitialRate); err != nil {
		return CostBearer{}, err
	}

	b := CostBearer{
		ID:        NewBearerID(),
		UserID:    user,
		Name:      in.Name,
		Code:      in.Code,
		Active:    in.Active,
		SortOrder: in.SortOrder,
		SplitRole: in.SplitRole,
		Rates:     RateHistory{in.InitialRate},
	}
	if err := s.store.CreateBearer(ctx, b); err != nil {
		return CostBearer{}, err
	}
	return b, nil
}

func (s *Service) UpdateBearer(ctx context.Context, user UserID, id BearerID, in BearerInput) (CostBearer, error) {
	b, err := s.store.GetBearer(ctx, user, id)
	if err != nil {
		return CostBearer{}, err
	}
	if in.Name == "" {
		return CostBearer{}, &ValidationError{Field: "name", Message: "required"}
	}
	if in.Code == "" {
		return CostBearer{}, &ValidationError{Field: "code", Message: "required"}
	}
	if !in.SplitRole.Valid() {
		return CostBearer{}, &ValidationError{Field: "split_role", Message: "unknown role " + string(in.SplitRole)}
	}
	b.Name = in.Name
	b.Code = in.Code
	b.Active = in.Active
	b.SortOrder = in.SortOrder
	b.SplitRole = in.SplitRole
	if err := s.store.UpdateBearer(ctx, b); err != nil {
		return CostBearer{}, err
	}
	return b, nil
}

func (s *Service) GetBearer(ctx context.Context, user UserID, id BearerID) (CostBearer, error) {
	return s.store.GetBearer(ctx, user, id)
}

func (s *Service) ListBearers(ctx context.Context, user UserID) ([]CostBearer, error) {
	return s.store.ListBearers(ctx, user)
}

// DeleteBearer removes a bearer unless any trip or leg still references it.
func (s *Service) DeleteBearer(ctx context.Context, user UserID, id BearerID) error {
	if _, err := s.store.GetBearer(ctx, user, id); err != nil {
		return err
	}
	refs, err := s.store.CountTripsForBearer(ctx, user, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return &ConstraintViolationError{
			Entity:     "cost bearer",
			ID:         string(id),
			References: refs,
			Reason:     "referenced by trips",
		}
	}
	return s.store.DeleteBearer(ctx, user, id)
}

// =============================================================================
// RATES
// =============================================================================

func validateRateEntry(entry RateEntry) error {
	if entry.EffectiveFrom.IsZero() {
		return &ValidationError{Field: "effective_from", Message: "required"}
	}
	if entry.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Message: "must not be negative"}
	}
	return nil
}

// SetRate inserts or replaces (on exact effective date) a rate entry for a
// subject: a cost bearer ID or SubjectPassenger.
func (s *Service) SetRate(ctx context.Context, user UserID, subject string, entry RateEntry) error {
	if err := validateRateEntry(entry); err != nil {
		return err
	}
	if subject == SubjectPassenger {
		return s.store.SetPassengerRate(ctx, user, entry)
	}
	return s.store.SetBearerRate(ctx, user, BearerID(subject), entry)
}

// DeleteRate removes a rate entry, refusing to delete the subject's last
// one - a bearer without any rate could never value a trip again.
func (s *Service) DeleteRate(ctx context.Context, user UserID, subject string, effectiveFrom TimePoint) error {
	if subject == SubjectPassenger {
		hist, err := s.store.PassengerRates(ctx, user)
		if err != nil {
			return err
		}
		if err := guardLastRate(subject, hist, effectiveFrom); err != nil {
			return err
		}
		return s.store.DeletePassengerRate(ctx, user, effectiveFrom)
	}

	b, err := s.store.GetBearer(ctx, user, BearerID(subject))
	if err != nil {
		return err
	}
	if err := guardLastRate(subject, b.Rates, effectiveFrom); err != nil {
		return err
	}
	return s.store.DeleteBearerRate(ctx, user, b.ID, effectiveFrom)
}

func guardLastRate(subject string, hist RateHistory, effectiveFrom TimePoint) error {
	found := false
	for _, e := range hist {
		if e.EffectiveFrom.Equal(effectiveFrom) {
			found = true
			break
		}
	}
	if !found {
		return ErrRateNotFound
	}
	if len(hist) <= 1 {
		return &ConstraintViolationError{
			Entity:     "rate entry",
			ID:         subject,
			References: len(hist),
			Reason:     "cannot delete the last rate entry",
		}
	}
	return nil
}

// PassengerRates returns the user's passenger-carry rate history.
func (s *Service) PassengerRates(ctx context.Context, user UserID) (RateHistory, error) {
	return s.store.PassengerRates(ctx, user)
}

// =============================================================================
// REPORTS & STATUS
// =============================================================================

func (s *Service) MonthlyReport(ctx context.Context, user UserID, year, month int) (*MonthlyReport, error) {
	return s.reporter.Monthly(ctx, user, year, month)
}

func (s *Service) YearlyReport(ctx context.Context, user UserID, year int) (*YearlyReport, error) {
	return s.reporter.Yearly(ctx, user, year)
}

func (s *Service) TransitionStatus(ctx context.Context, user UserID, year, month int, subject string, action StatusAction, date TimePoint) error {
	if month < 1 || month > 12 {
		return &ValidationError{Field: "month", Message: "must be 1-12"}
	}
	return s.statuses.Transition(ctx, user, year, month, subject, action, date)
}
