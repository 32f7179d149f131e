/*
distance.go - Symmetric distance resolution between stored locations

PURPOSE:
  Distances are user-supplied, not computed from coordinates. The relation
  between two locations is undirected: a record stored for (B, A) answers a
  lookup for (A, B), and an upsert for (A, B) updates a record stored as
  (B, A) in place - two coexisting, potentially conflicting distances for
  the same pair can never exist.
*/
package mileage

import (
	"context"

	"github.com/shopspring/decimal"
)

// DistanceResolver answers "how far is it from A to B" against the stored
// undirected distance relation.
type DistanceResolver struct {
	store DistanceStore
}

func NewDistanceResolver(store DistanceStore) *DistanceResolver {
	return &DistanceResolver{store: store}
}

// Resolve returns the kilometers between the two locations, in either
// stored order. The distance from a location to itself is zero without a
// lookup. Returns ErrDistanceNotFound when no record exists; mapping that
// to a zero display value is an explicit caller decision.
func (r *DistanceResolver) Resolve(ctx context.Context, user UserID, a, b LocationID) (decimal.Decimal, error) {
	if a == b {
		return decimal.Zero, nil
	}
	d, err := r.store.FindDistance(ctx, user, a, b)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Km, nil
}

// Upsert records the kilometers for the unordered pair, updating an
// existing record in either order in place.
func (r *DistanceResolver) Upsert(ctx context.Context, user UserID, a, b LocationID, km decimal.Decimal) error {
	if a == "" || b == "" {
		return &ValidationError{Field: "location", Message: "both locations required"}
	}
	if a == b {
		return &ValidationError{Field: "location", Message: "locations must differ"}
	}
	if km.IsNegative() {
		return &ValidationError{Field: "kilometers", Message: "must not be negative"}
	}
	return r.store.UpsertDistance(ctx, user, a, b, km)
}
