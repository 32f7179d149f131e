/*
store.go - Persistence interfaces between the domain logic and the database

PURPOSE:
  Defines the repository contract the engine computes against. Different
  implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  LocationStore:      Places, with unique-per-user home/work-site roles
  DistanceStore:      Undirected location-pair distances
  TripStore:          Trips with legs and passengers (atomic multi-row writes)
  BearerStore:        Cost bearers with their rate histories
  PassengerRateStore: Per-user passenger-carry rate history
  StatusStore:        Submission workflow records
  Store:              All of the above (what implementations provide)

ATOMICITY CONTRACT:
  CreateTrip/UpdateTrip persist the trip together with its legs and
  passengers in one transaction - either all rows exist or none do. The same
  holds for CreateBearer with its first rate entry.

SERIALIZATION CONTRACT:
  UpsertDistance and the rate setters are check-then-write operations; the
  implementation must serialize them so no duplicate reversed distance and
  no two rate entries on the same effective date can race into existence.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:  Production SQLite
  - mileage/store/memory.go: In-memory for testing
*/
package mileage

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LOCATION STORE
// =============================================================================

type LocationStore interface {
	// SaveLocation inserts or updates a location. When the location carries a
	// unique-per-user role (home, work site), any previous holder of that
	// role is demoted in the same write.
	SaveLocation(ctx context.Context, loc Location) error

	GetLocation(ctx context.Context, user UserID, id LocationID) (Location, error)

	// ListLocations returns the user's locations ordered by name.
	ListLocations(ctx context.Context, user UserID) ([]Location, error)

	// DeleteLocation removes the location and any distance records touching
	// it. Callers enforce the trips-reference guard first.
	DeleteLocation(ctx context.Context, user UserID, id LocationID) error

	// FindLocationByRole returns the user's location holding the given role,
	// or ErrLocationNotFound.
	FindLocationByRole(ctx context.Context, user UserID, role LocationRole) (Location, error)
}

// =============================================================================
// DISTANCE STORE
// =============================================================================

type DistanceStore interface {
	// FindDistance returns the record for the unordered pair (a, b): a record
	// stored as (b, a) satisfies the lookup. Returns ErrDistanceNotFound when
	// neither order exists.
	FindDistance(ctx context.Context, user UserID, a, b LocationID) (Distance, error)

	// UpsertDistance updates an existing record for the pair in either order
	// in place, or inserts a new one. Never creates a reversed duplicate.
	UpsertDistance(ctx context.Context, user UserID, a, b LocationID, km decimal.Decimal) error

	ListDistances(ctx context.Context, user UserID) ([]Distance, error)

	DeleteDistance(ctx context.Context, user UserID, a, b LocationID) error
}

// =============================================================================
// TRIP STORE
// =============================================================================

type TripStore interface {
	// CreateTrip persists the trip with its legs and passengers atomically.
	CreateTrip(ctx context.Context, trip Trip) error

	// UpdateTrip replaces the trip row and all its legs and passengers
	// atomically.
	UpdateTrip(ctx context.Context, trip Trip) error

	GetTrip(ctx context.Context, user UserID, id TripID) (Trip, error)

	DeleteTrip(ctx context.Context, user UserID, id TripID) error

	// TripsBetween returns the user's trips with Date in [from, to],
	// ordered by date, with legs and passengers loaded.
	TripsBetween(ctx context.Context, user UserID, from, to TimePoint) ([]Trip, error)

	// CountTripsForBearer counts trips and legs referencing the bearer.
	CountTripsForBearer(ctx context.Context, user UserID, id BearerID) (int, error)

	// CountTripsForLocation counts trips and legs with an endpoint at the
	// location.
	CountTripsForLocation(ctx context.Context, user UserID, id LocationID) (int, error)
}

// =============================================================================
// COST BEARER STORE
// =============================================================================

type BearerStore interface {
	// CreateBearer persists the bearer together with its initial rate
	// entries atomically. Implementations reject an empty rate history.
	CreateBearer(ctx context.Context, b CostBearer) error

	// UpdateBearer updates the bearer's fields; the rate history is managed
	// through SetBearerRate/DeleteBearerRate.
	UpdateBearer(ctx context.Context, b CostBearer) error

	// GetBearer returns the bearer with its full rate history.
	GetBearer(ctx context.Context, user UserID, id BearerID) (CostBearer, error)

	// ListBearers returns the user's bearers ordered by sort order, rate
	// histories loaded.
	ListBearers(ctx context.Context, user UserID) ([]CostBearer, error)

	// DeleteBearer removes the bearer and its rate history. Callers enforce
	// the trips-reference guard first.
	DeleteBearer(ctx context.Context, user UserID, id BearerID) error

	// FindBearerBySplitRole returns the user's bearer holding the given
	// autosplit role, or ErrBearerNotFound.
	FindBearerBySplitRole(ctx context.Context, user UserID, role SplitRole) (CostBearer, error)

	// SetBearerRate inserts the entry, or replaces the amount when an entry
	// with the same effective date already exists.
	SetBearerRate(ctx context.Context, user UserID, id BearerID, entry RateEntry) error

	// DeleteBearerRate removes the entry at the exact effective date.
	// Callers enforce the at-least-one-entry guard first.
	DeleteBearerRate(ctx context.Context, user UserID, id BearerID, effectiveFrom TimePoint) error
}

// =============================================================================
// PASSENGER RATE STORE
// =============================================================================

type PassengerRateStore interface {
	// PassengerRates returns the user's passenger-carry rate history,
	// sorted by effective date. Empty history is not an error.
	PassengerRates(ctx context.Context, user UserID) (RateHistory, error)

	// SetPassengerRate inserts or replaces on exact effective date.
	SetPassengerRate(ctx context.Context, user UserID, entry RateEntry) error

	DeletePassengerRate(ctx context.Context, user UserID, effectiveFrom TimePoint) error
}

// =============================================================================
// SUBMISSION STATUS STORE
// =============================================================================

type StatusStore interface {
	// GetStatus returns the record for (user, year, month, subject), or
	// ErrStatusNotFound.
	GetStatus(ctx context.Context, user UserID, year int, month int, subject string) (SubmissionStatus, error)

	// SaveStatus inserts or updates the record keyed by
	// (user, year, month, subject).
	SaveStatus(ctx context.Context, st SubmissionStatus) error

	// DeleteStatus removes the record. Deleting a missing record is a no-op.
	DeleteStatus(ctx context.Context, user UserID, year int, month int, subject string) error

	// ListStatusesForMonth returns all records for the month.
	ListStatusesForMonth(ctx context.Context, user UserID, year int, month int) ([]SubmissionStatus, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is what persistence implementations provide and the Service
// consumes.
type Store interface {
	LocationStore
	DistanceStore
	TripStore
	BearerStore
	PassengerRateStore
	StatusStore
}
