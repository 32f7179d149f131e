/*
Package mileage provides the core trip reimbursement engine.

PURPOSE:
  This package contains the domain types and algorithms for tracking
  business trips and computing what each trip earns back from one or more
  reimbursing cost bearers: distance resolution between stored locations,
  autosplit leg computation through the user's work site, effective-dated
  per-kilometer rate resolution, monthly/yearly aggregation, and the
  submission workflow state machine.

KEY CONCEPTS IN THIS FILE (types.go):
  - Location: A named place, optionally flagged as home/work site/parish
  - Distance: The kilometers between an unordered pair of locations
  - Endpoint: A trip endpoint - either a stored location or a one-off address
  - Trip/TripLeg/Passenger: A dated journey, its split legs, carried people
  - CostBearer/RateEntry: A reimbursing organization and its rate history

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for kilometers, rates and money - never floats
  2. Type Safety: Typed string IDs prevent mixing location/trip/bearer IDs
  3. Referential integrity: Trips reference cost bearers by ID, the short
     code is a display label only - renaming a code never detaches trips
  4. Derived money: Reimbursement values are computed per request, never
     persisted as balances

SEE ALSO:
  - time.go:     TimePoint and reporting periods
  - rates.go:    RateHistory and effective-dated resolution
  - report.go:   Monthly/yearly aggregation
  - status.go:   Submission workflow
*/
package mileage

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type LocationID string
type DistanceID string
type TripID string
type BearerID string

func NewLocationID() LocationID { return LocationID(uuid.NewString()) }
func NewDistanceID() DistanceID { return DistanceID(uuid.NewString()) }
func NewTripID() TripID         { return TripID(uuid.NewString()) }
func NewBearerID() BearerID     { return BearerID(uuid.NewString()) }

// SubjectPassenger is the rate/status subject for passenger-carry
// kilometers. Every other subject is a cost bearer ID.
const SubjectPassenger = "passenger"

// =============================================================================
// LOCATION - Named place owned by a user
// =============================================================================

// LocationRole marks a location's special meaning for the user.
// Home and WorkSite are unique per user; Parish may repeat.
type LocationRole string

const (
	RoleNone     LocationRole = ""
	RoleHome     LocationRole = "home"
	RoleWorkSite LocationRole = "worksite"
	RoleParish   LocationRole = "parish"
)

func (r LocationRole) Valid() bool {
	switch r {
	case RoleNone, RoleHome, RoleWorkSite, RoleParish:
		return true
	}
	return false
}

// UniquePerUser reports whether at most one location per user may carry
// this role.
func (r LocationRole) UniquePerUser() bool {
	return r == RoleHome || r == RoleWorkSite
}

type Location struct {
	ID      LocationID
	UserID  UserID
	Name    string
	Address string
	Role    LocationRole
}

// =============================================================================
// DISTANCE - Kilometers between an unordered pair of locations
// =============================================================================

// Distance records the travel distance between two locations. The pair is
// unordered: (A,B) and (B,A) identify the same record, and at most one
// record exists per pair per user.
type Distance struct {
	ID     DistanceID
	UserID UserID
	LocA   LocationID
	LocB   LocationID
	Km     decimal.Decimal
}

// Matches reports whether the record covers the pair (a, b) in either order.
func (d Distance) Matches(a, b LocationID) bool {
	return (d.LocA == a && d.LocB == b) || (d.LocA == b && d.LocB == a)
}

// =============================================================================
// ENDPOINT - Stored location OR one-off address, never both
// =============================================================================

// Endpoint is a trip endpoint: exactly one of LocationID or Address is set.
type Endpoint struct {
	LocationID LocationID
	Address    string
}

func StoredEndpoint(id LocationID) Endpoint { return Endpoint{LocationID: id} }
func AdHocEndpoint(address string) Endpoint { return Endpoint{Address: address} }

// IsStored reports whether the endpoint references a stored location.
func (e Endpoint) IsStored() bool { return e.LocationID != "" }

func (e Endpoint) IsZero() bool { return e.LocationID == "" && e.Address == "" }

// Validate enforces the exactly-one invariant.
func (e Endpoint) Validate() error {
	if e.LocationID != "" && e.Address != "" {
		return &ValidationError{Field: "endpoint", Message: "location and address are mutually exclusive"}
	}
	if e.IsZero() {
		return &ValidationError{Field: "endpoint", Message: "location or address required"}
	}
	return nil
}

// =============================================================================
// TRIP - A dated journey with optional split legs and passengers
// =============================================================================

// Direction marks on which part of a trip a passenger was carried.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionReturn   Direction = "return"
	DirectionBoth     Direction = "both"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionOutbound, DirectionReturn, DirectionBoth:
		return true
	}
	return false
}

// CountsFor reports whether a passenger with this direction rode on the
// given trip: return trips count return/both, all others outbound/both.
func (d Direction) CountsFor(returnTrip bool) bool {
	if returnTrip {
		return d == DirectionReturn || d == DirectionBoth
	}
	return d == DirectionOutbound || d == DirectionBoth
}

type Passenger struct {
	Name      string
	Workplace string
	Direction Direction
}

// TripLeg is one half of an autosplit trip, attributed to its own cost
// bearer. Leg kilometers always sum to the parent trip's kilometers.
type TripLeg struct {
	From       Endpoint
	To         Endpoint
	Km         decimal.Decimal
	BearerID   BearerID
	BearerCode string
}

type Trip struct {
	ID      TripID
	UserID  UserID
	Date    TimePoint
	Purpose string
	Km      decimal.Decimal

	// BearerID is the reimbursing organization for a non-split trip.
	// Empty on autosplit trips, where each leg carries its own bearer.
	BearerID BearerID

	From       Endpoint
	To         Endpoint
	Autosplit  bool
	Legs       []TripLeg
	Passengers []Passenger
}

// IsReturnPurpose reports whether the purpose text denotes a return leg,
// which flips passenger direction matching in reports.
func IsReturnPurpose(purpose string) bool {
	p := strings.ToLower(purpose)
	return strings.Contains(p, "rückfahrt") ||
		strings.Contains(p, "rueckfahrt") ||
		strings.Contains(p, "return")
}

// =============================================================================
// COST BEARER - Reimbursing organization with a rate history
// =============================================================================

// SplitRole marks which bearer pays which autosplit leg. At most one bearer
// per user holds each role.
type SplitRole string

const (
	SplitRoleNone        SplitRole = ""
	SplitRoleCommute     SplitRole = "commute"     // pays the leg from origin to the work site
	SplitRoleDestination SplitRole = "destination" // pays the leg from the work site onward
)

func (r SplitRole) Valid() bool {
	switch r {
	case SplitRoleNone, SplitRoleCommute, SplitRoleDestination:
		return true
	}
	return false
}

// RateEntry is one point in a per-kilometer rate history.
type RateEntry struct {
	EffectiveFrom TimePoint
	Amount        decimal.Decimal
}

// CostBearer has at least one RateEntry at all times; deleting the last
// entry is forbidden. A bearer cannot be deleted while any trip or leg
// references it.
type CostBearer struct {
	ID        BearerID
	UserID    UserID
	Name      string
	Code      string // short display label, not an identity
	Active    bool
	SortOrder int
	SplitRole SplitRole
	Rates     RateHistory
}
