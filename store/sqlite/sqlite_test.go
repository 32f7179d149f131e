package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/mileage-engine/mileage"
	"github.com/warp/mileage-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func date(year int, month time.Month, day int) mileage.TimePoint {
	return mileage.NewTimePoint(year, month, day)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testBearer(user mileage.UserID, code string) mileage.CostBearer {
	return mileage.CostBearer{
		ID:     mileage.NewBearerID(),
		UserID: user,
		Name:   "Bearer " + code,
		Code:   code,
		Active: true,
		Rates: mileage.RateHistory{
			{EffectiveFrom: date(2024, time.January, 1), Amount: dec("0.30")},
		},
	}
}

// =============================================================================
// LOCATIONS
// =============================================================================

func TestSQLite_LocationRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	loc := mileage.Location{
		ID: mileage.NewLocationID(), UserID: user,
		Name: "Home", Address: "Hauptstraße 1", Role: mileage.RoleHome,
	}
	require.NoError(t, store.SaveLocation(ctx, loc))

	got, err := store.GetLocation(ctx, user, loc.ID)
	require.NoError(t, err)
	assert.Equal(t, loc, got)

	_, err = store.GetLocation(ctx, "other-user", loc.ID)
	assert.ErrorIs(t, err, mileage.ErrLocationNotFound, "locations are scoped per user")
}

func TestSQLite_UniqueRoleDemotion(t *testing.T) {
	// GIVEN: A stored work site
	// WHEN: A second location is saved with the work-site role
	// THEN: The first is demoted in the same transaction

	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	first := mileage.Location{ID: mileage.NewLocationID(), UserID: user, Name: "Old", Role: mileage.RoleWorkSite}
	second := mileage.Location{ID: mileage.NewLocationID(), UserID: user, Name: "New", Role: mileage.RoleWorkSite}
	require.NoError(t, store.SaveLocation(ctx, first))
	require.NoError(t, store.SaveLocation(ctx, second))

	got, err := store.GetLocation(ctx, user, first.ID)
	require.NoError(t, err)
	assert.Equal(t, mileage.RoleNone, got.Role)

	found, err := store.FindLocationByRole(ctx, user, mileage.RoleWorkSite)
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)
}

func TestSQLite_DeleteLocation_CascadesDistances(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	a := mileage.Location{ID: mileage.NewLocationID(), UserID: user, Name: "A"}
	b := mileage.Location{ID: mileage.NewLocationID(), UserID: user, Name: "B"}
	require.NoError(t, store.SaveLocation(ctx, a))
	require.NoError(t, store.SaveLocation(ctx, b))
	require.NoError(t, store.UpsertDistance(ctx, user, a.ID, b.ID, dec("7")))

	require.NoError(t, store.DeleteLocation(ctx, user, a.ID))

	distances, err := store.ListDistances(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, distances)
}

// =============================================================================
// DISTANCES
// =============================================================================

func TestSQLite_DistanceSymmetricUpsert(t *testing.T) {
	// GIVEN: A distance stored as (A, B)
	// WHEN: Looking up (B, A) and upserting (B, A)
	// THEN: The same single record answers and is updated in place

	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	a, b := mileage.LocationID("loc-a"), mileage.LocationID("loc-b")
	require.NoError(t, store.UpsertDistance(ctx, user, a, b, dec("10")))

	d, err := store.FindDistance(ctx, user, b, a)
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(d.Km))

	require.NoError(t, store.UpsertDistance(ctx, user, b, a, dec("11")))

	all, err := store.ListDistances(ctx, user)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, dec("11").Equal(all[0].Km))
}

// =============================================================================
// TRIPS WITH CHILDREN
// =============================================================================

func TestSQLite_TripRoundtrip_WithLegsAndPassengers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	kk := testBearer(user, "KK")
	lk := testBearer(user, "LK")
	require.NoError(t, store.CreateBearer(ctx, kk))
	require.NoError(t, store.CreateBearer(ctx, lk))

	trip := mileage.Trip{
		ID: mileage.NewTripID(), UserID: user,
		Date:      date(2024, time.March, 5),
		Purpose:   "Konvent",
		Km:        dec("13"),
		From:      mileage.StoredEndpoint("loc-home"),
		To:        mileage.StoredEndpoint("loc-dest"),
		Autosplit: true,
		Legs: []mileage.TripLeg{
			{From: mileage.StoredEndpoint("loc-home"), To: mileage.StoredEndpoint("loc-work"),
				Km: dec("5"), BearerID: kk.ID, BearerCode: "KK"},
			{From: mileage.StoredEndpoint("loc-work"), To: mileage.StoredEndpoint("loc-dest"),
				Km: dec("8"), BearerID: lk.ID, BearerCode: "LK"},
		},
		Passengers: []mileage.Passenger{
			{Name: "Anna", Workplace: "Diakonie", Direction: mileage.DirectionBoth},
			{Name: "Ben", Direction: mileage.DirectionReturn},
		},
	}
	require.NoError(t, store.CreateTrip(ctx, trip))

	got, err := store.GetTrip(ctx, user, trip.ID)
	require.NoError(t, err)

	assert.Equal(t, trip.Purpose, got.Purpose)
	assert.True(t, trip.Km.Equal(got.Km))
	require.Len(t, got.Legs, 2)
	assert.Equal(t, kk.ID, got.Legs[0].BearerID)
	assert.True(t, dec("5").Equal(got.Legs[0].Km))
	require.Len(t, got.Passengers, 2)
	assert.Equal(t, "Anna", got.Passengers[0].Name)
	assert.Equal(t, mileage.DirectionBoth, got.Passengers[0].Direction)
}

func TestSQLite_UpdateTrip_ReplacesChildren(t *testing.T) {
	// GIVEN: A split trip with two legs and a passenger
	// WHEN: Updated to a plain trip without children
	// THEN: The old legs and passengers are gone, not accumulated

	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	kk := testBearer(user, "KK")
	require.NoError(t, store.CreateBearer(ctx, kk))

	trip := mileage.Trip{
		ID: mileage.NewTripID(), UserID: user,
		Date: date(2024, time.March, 5), Km: dec("5"),
		From: mileage.AdHocEndpoint("A"), To: mileage.AdHocEndpoint("B"),
		BearerID: kk.ID,
		Legs: []mileage.TripLeg{
			{From: mileage.AdHocEndpoint("A"), To: mileage.AdHocEndpoint("B"),
				Km: dec("5"), BearerID: kk.ID, BearerCode: "KK"},
		},
		Passengers: []mileage.Passenger{{Name: "Anna", Direction: mileage.DirectionBoth}},
	}
	require.NoError(t, store.CreateTrip(ctx, trip))

	trip.Legs = nil
	trip.Passengers = nil
	trip.Km = dec("6")
	require.NoError(t, store.UpdateTrip(ctx, trip))

	got, err := store.GetTrip(ctx, user, trip.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Legs)
	assert.Empty(t, got.Passengers)
	assert.True(t, dec("6").Equal(got.Km))
}

func TestSQLite_TripsBetween_SortedByDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	kk := testBearer(user, "KK")
	require.NoError(t, store.CreateBearer(ctx, kk))

	for _, d := range []mileage.TimePoint{
		date(2024, time.March, 20),
		date(2024, time.March, 1),
		date(2024, time.April, 2),
	} {
		require.NoError(t, store.CreateTrip(ctx, mileage.Trip{
			ID: mileage.NewTripID(), UserID: user, Date: d, Km: dec("1"),
			From: mileage.AdHocEndpoint("A"), To: mileage.AdHocEndpoint("B"),
			BearerID: kk.ID,
		}))
	}

	trips, err := store.TripsBetween(ctx, user, date(2024, time.March, 1), date(2024, time.March, 31))
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, date(2024, time.March, 1), trips[0].Date)
	assert.Equal(t, date(2024, time.March, 20), trips[1].Date)
}

func TestSQLite_CountTripReferences(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	kk := testBearer(user, "KK")
	require.NoError(t, store.CreateBearer(ctx, kk))

	loc := mileage.LocationID("loc-a")
	require.NoError(t, store.CreateTrip(ctx, mileage.Trip{
		ID: mileage.NewTripID(), UserID: user, Date: date(2024, time.March, 1), Km: dec("5"),
		From: mileage.StoredEndpoint(loc), To: mileage.AdHocEndpoint("B"),
		BearerID: kk.ID,
	}))

	bearerRefs, err := store.CountTripsForBearer(ctx, user, kk.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bearerRefs)

	locRefs, err := store.CountTripsForLocation(ctx, user, loc)
	require.NoError(t, err)
	assert.Equal(t, 1, locRefs)
}

// =============================================================================
// BEARERS AND RATES
// =============================================================================

func TestSQLite_BearerRoundtrip_RatesSorted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	b := testBearer(user, "KK")
	b.SplitRole = mileage.SplitRoleCommute
	require.NoError(t, store.CreateBearer(ctx, b))

	// Insert a later and an earlier rate out of order.
	require.NoError(t, store.SetBearerRate(ctx, user, b.ID,
		mileage.RateEntry{EffectiveFrom: date(2024, time.July, 1), Amount: dec("0.35")}))
	require.NoError(t, store.SetBearerRate(ctx, user, b.ID,
		mileage.RateEntry{EffectiveFrom: date(2023, time.January, 1), Amount: dec("0.25")}))

	got, err := store.GetBearer(ctx, user, b.ID)
	require.NoError(t, err)
	assert.Equal(t, mileage.SplitRoleCommute, got.SplitRole)
	require.Len(t, got.Rates, 3)
	assert.Equal(t, date(2023, time.January, 1), got.Rates[0].EffectiveFrom)
	assert.Equal(t, date(2024, time.July, 1), got.Rates[2].EffectiveFrom)
}

func TestSQLite_SetBearerRate_SameDateReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	b := testBearer(user, "KK")
	require.NoError(t, store.CreateBearer(ctx, b))

	require.NoError(t, store.SetBearerRate(ctx, user, b.ID,
		mileage.RateEntry{EffectiveFrom: date(2024, time.January, 1), Amount: dec("0.32")}))

	got, err := store.GetBearer(ctx, user, b.ID)
	require.NoError(t, err)
	require.Len(t, got.Rates, 1, "same effective date must replace, not insert")
	assert.True(t, dec("0.32").Equal(got.Rates[0].Amount))
}

func TestSQLite_CreateBearer_RejectsEmptyRates(t *testing.T) {
	store := newTestStore(t)

	b := testBearer("u-1", "KK")
	b.Rates = nil
	err := store.CreateBearer(context.Background(), b)
	assert.Error(t, err)
}

func TestSQLite_FindBearerBySplitRole(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	commute := testBearer(user, "A")
	commute.SplitRole = mileage.SplitRoleCommute
	require.NoError(t, store.CreateBearer(ctx, commute))

	found, err := store.FindBearerBySplitRole(ctx, user, mileage.SplitRoleCommute)
	require.NoError(t, err)
	assert.Equal(t, commute.ID, found.ID)

	_, err = store.FindBearerBySplitRole(ctx, user, mileage.SplitRoleDestination)
	assert.ErrorIs(t, err, mileage.ErrBearerNotFound)
}

func TestSQLite_PassengerRates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	require.NoError(t, store.SetPassengerRate(ctx, user,
		mileage.RateEntry{EffectiveFrom: date(2024, time.January, 1), Amount: dec("0.05")}))
	require.NoError(t, store.SetPassengerRate(ctx, user,
		mileage.RateEntry{EffectiveFrom: date(2023, time.January, 1), Amount: dec("0.04")}))

	hist, err := store.PassengerRates(ctx, user)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, date(2023, time.January, 1), hist[0].EffectiveFrom)

	require.NoError(t, store.DeletePassengerRate(ctx, user, date(2023, time.January, 1)))
	hist, err = store.PassengerRates(ctx, user)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

// =============================================================================
// SUBMISSION STATUS
// =============================================================================

func TestSQLite_StatusRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	st := mileage.SubmissionStatus{
		UserID: user, Year: 2024, Month: 3, Subject: "bearer-1",
		State:       mileage.StateSubmitted,
		SubmittedOn: date(2024, time.April, 2),
	}
	require.NoError(t, store.SaveStatus(ctx, st))

	got, err := store.GetStatus(ctx, user, 2024, 3, "bearer-1")
	require.NoError(t, err)
	assert.Equal(t, mileage.StateSubmitted, got.State)
	assert.Equal(t, date(2024, time.April, 2), got.SubmittedOn)
	assert.True(t, got.ReceivedOn.IsZero(), "unset dates round-trip as zero")

	// Save again with a received date (upsert on the unique key).
	st.State = mileage.StateReceived
	st.ReceivedOn = date(2024, time.April, 20)
	require.NoError(t, store.SaveStatus(ctx, st))

	got, err = store.GetStatus(ctx, user, 2024, 3, "bearer-1")
	require.NoError(t, err)
	assert.Equal(t, mileage.StateReceived, got.State)
	assert.Equal(t, date(2024, time.April, 20), got.ReceivedOn)
}

func TestSQLite_DeleteStatus_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, store.DeleteStatus(ctx, "u-1", 2024, 3, "bearer-1"))
}

func TestSQLite_ListStatusesForMonth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := mileage.UserID("u-1")

	for _, subject := range []string{"bearer-1", "bearer-2", mileage.SubjectPassenger} {
		require.NoError(t, store.SaveStatus(ctx, mileage.SubmissionStatus{
			UserID: user, Year: 2024, Month: 3, Subject: subject,
			State: mileage.StateSubmitted, SubmittedOn: date(2024, time.April, 2),
		}))
	}
	require.NoError(t, store.SaveStatus(ctx, mileage.SubmissionStatus{
		UserID: user, Year: 2024, Month: 4, Subject: "bearer-1",
		State: mileage.StateSubmitted, SubmittedOn: date(2024, time.May, 2),
	}))

	statuses, err := store.ListStatusesForMonth(ctx, user, 2024, 3)
	require.NoError(t, err)
	assert.Len(t, statuses, 3)
}
