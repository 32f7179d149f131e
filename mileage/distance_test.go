package mileage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/mileage-engine/mileage"
	"github.com/warp/mileage-engine/mileage/store"
)

// =============================================================================
// SYMMETRY
// =============================================================================

func TestDistanceResolver_Symmetric(t *testing.T) {
	// GIVEN: A distance stored for (home, office)
	// WHEN: Resolving (office, home)
	// THEN: The same kilometers come back

	mem := store.NewMemory()
	resolver := mileage.NewDistanceResolver(mem)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	home := mileage.LocationID("loc-home")
	office := mileage.LocationID("loc-office")

	require.NoError(t, resolver.Upsert(ctx, user, home, office, dec("12.5")))

	forward, err := resolver.Resolve(ctx, user, home, office)
	require.NoError(t, err)
	reverse, err := resolver.Resolve(ctx, user, office, home)
	require.NoError(t, err)

	assert.True(t, dec("12.5").Equal(forward))
	assert.True(t, forward.Equal(reverse), "resolution must be order-independent")
}

func TestDistanceResolver_UpsertReversedOrder_UpdatesSameRecord(t *testing.T) {
	// GIVEN: A distance stored for (A, B)
	// WHEN: Upserting (B, A) with a new value
	// THEN: One record exists with the new value, not two conflicting ones

	mem := store.NewMemory()
	resolver := mileage.NewDistanceResolver(mem)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	a := mileage.LocationID("loc-a")
	b := mileage.LocationID("loc-b")

	require.NoError(t, resolver.Upsert(ctx, user, a, b, dec("10")))
	require.NoError(t, resolver.Upsert(ctx, user, b, a, dec("11")))

	all, err := mem.ListDistances(ctx, user)
	require.NoError(t, err)
	require.Len(t, all, 1, "at most one record per unordered pair")

	km, err := resolver.Resolve(ctx, user, a, b)
	require.NoError(t, err)
	assert.True(t, dec("11").Equal(km))
}

// =============================================================================
// EDGE CASES
// =============================================================================

func TestDistanceResolver_SameLocation_ZeroWithoutLookup(t *testing.T) {
	mem := store.NewMemory()
	resolver := mileage.NewDistanceResolver(mem)

	km, err := resolver.Resolve(context.Background(), "u-1", "loc-a", "loc-a")
	require.NoError(t, err)
	assert.True(t, km.IsZero())
}

func TestDistanceResolver_MissingRecord(t *testing.T) {
	mem := store.NewMemory()
	resolver := mileage.NewDistanceResolver(mem)

	_, err := resolver.Resolve(context.Background(), "u-1", "loc-a", "loc-b")
	assert.ErrorIs(t, err, mileage.ErrDistanceNotFound)
}

func TestDistanceResolver_Upsert_Validation(t *testing.T) {
	mem := store.NewMemory()
	resolver := mileage.NewDistanceResolver(mem)
	ctx := context.Background()

	err := resolver.Upsert(ctx, "u-1", "loc-a", "loc-a", dec("5"))
	assert.ErrorIs(t, err, mileage.ErrValidation, "self-distance cannot be stored")

	err = resolver.Upsert(ctx, "u-1", "loc-a", "loc-b", dec("-1"))
	assert.ErrorIs(t, err, mileage.ErrValidation, "negative kilometers rejected")

	err = resolver.Upsert(ctx, "u-1", "", "loc-b", dec("5"))
	assert.ErrorIs(t, err, mileage.ErrValidation)
}

func TestDistanceResolver_ScopedPerUser(t *testing.T) {
	// GIVEN: A distance stored by one user
	// WHEN: Another user resolves the same pair
	// THEN: Nothing is found

	mem := store.NewMemory()
	resolver := mileage.NewDistanceResolver(mem)
	ctx := context.Background()

	require.NoError(t, resolver.Upsert(ctx, "u-1", "loc-a", "loc-b", dec("7")))

	_, err := resolver.Resolve(ctx, "u-2", "loc-a", "loc-b")
	assert.ErrorIs(t, err, mileage.ErrDistanceNotFound)
}
