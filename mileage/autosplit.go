/*
autosplit.go - Splitting a trip across two cost bearers via the work site

PURPOSE:
  A trip from A to B that passes through the user's designated work site W
  is billed to two organizations: the commute bearer pays A->W, the
  destination bearer pays W->B. The split is pure arithmetic over stored
  distances; its total is authoritative for the parent trip.

EDGE CASES:
  - No work site configured: always an error, never defaulted - a silent
    fallback would change financial totals.
  - A leg with zero kilometers is omitted (trip starts or ends exactly at
    the work site).
  - from == to == W: both legs are zero, TotalKm is 0. Valid, not an error.
*/
package mileage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// SplitLeg is one computed half of an autosplit trip.
type SplitLeg struct {
	From       LocationID
	To         LocationID
	Km         decimal.Decimal
	BearerID   BearerID
	BearerCode string
}

// SplitResult holds the computed legs. TotalKm is the sum of the leg
// kilometers and becomes the parent trip's kilometers.
type SplitResult struct {
	TotalKm decimal.Decimal
	Legs    []SplitLeg
}

// Splitter computes autosplit legs from the user's work site, split-role
// bearers and stored distances.
type Splitter struct {
	locations LocationStore
	bearers   BearerStore
	distances *DistanceResolver
}

func NewSplitter(locations LocationStore, bearers BearerStore, distances *DistanceResolver) *Splitter {
	return &Splitter{locations: locations, bearers: bearers, distances: distances}
}

// Split computes the two legs of a trip from -> work site -> to.
func (s *Splitter) Split(ctx context.Context, user UserID, from, to LocationID) (SplitResult, error) {
	work, err := s.locations.FindLocationByRole(ctx, user, RoleWorkSite)
	if err != nil {
		if IsNotFound(err) {
			return SplitResult{}, ErrNoWorkSite
		}
		return SplitResult{}, err
	}

	commute, err := s.splitBearer(ctx, user, SplitRoleCommute)
	if err != nil {
		return SplitResult{}, err
	}
	destination, err := s.splitBearer(ctx, user, SplitRoleDestination)
	if err != nil {
		return SplitResult{}, err
	}

	kmIn, err := s.distances.Resolve(ctx, user, from, work.ID)
	if err != nil {
		return SplitResult{}, err
	}
	kmOut, err := s.distances.Resolve(ctx, user, work.ID, to)
	if err != nil {
		return SplitResult{}, err
	}

	result := SplitResult{TotalKm: decimal.Zero}
	if kmIn.IsPositive() {
		result.Legs = append(result.Legs, SplitLeg{
			From:       from,
			To:         work.ID,
			Km:         kmIn,
			BearerID:   commute.ID,
			BearerCode: commute.Code,
		})
		result.TotalKm = result.TotalKm.Add(kmIn)
	}
	if kmOut.IsPositive() {
		result.Legs = append(result.Legs, SplitLeg{
			From:       work.ID,
			To:         to,
			Km:         kmOut,
			BearerID:   destination.ID,
			BearerCode: destination.Code,
		})
		result.TotalKm = result.TotalKm.Add(kmOut)
	}
	return result, nil
}

func (s *Splitter) splitBearer(ctx context.Context, user UserID, role SplitRole) (CostBearer, error) {
	b, err := s.bearers.FindBearerBySplitRole(ctx, user, role)
	if err != nil {
		if IsNotFound(err) {
			return CostBearer{}, fmt.Errorf("%w: no bearer with role %q", ErrSplitBearerNotConfigured, role)
		}
		return CostBearer{}, err
	}
	return b, nil
}
