package mileage_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/mileage-engine/mileage"
	"github.com/warp/mileage-engine/mileage/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type reportFixture struct {
	store    *store.Memory
	reporter *mileage.Reporter
	user     mileage.UserID

	kk    mileage.CostBearer // 0.30/km from 2024-01-01, 0.35 from 2024-07-01
	other mileage.CostBearer // flat 0.20/km from 2024-01-01
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()
	user := mileage.UserID("u-1")

	f := &reportFixture{
		store:    mem,
		reporter: mileage.NewReporter(mem),
		user:     user,
	}

	f.kk = mileage.CostBearer{
		ID: mileage.NewBearerID(), UserID: user, Name: "Kirchenkreis", Code: "KK",
		Active: true,
		Rates: mileage.RateHistory{
			rate(date(2024, time.January, 1), "0.30"),
			rate(date(2024, time.July, 1), "0.35"),
		},
	}
	f.other = mileage.CostBearer{
		ID: mileage.NewBearerID(), UserID: user, Name: "Landeskirche", Code: "LK",
		Active: true, SortOrder: 1,
		Rates: mileage.RateHistory{rate(date(2024, time.January, 1), "0.20")},
	}
	require.NoError(t, mem.CreateBearer(ctx, f.kk))
	require.NoError(t, mem.CreateBearer(ctx, f.other))

	return f
}

func (f *reportFixture) addTrip(t *testing.T, trip mileage.Trip) mileage.Trip {
	t.Helper()
	if trip.ID == "" {
		trip.ID = mileage.NewTripID()
	}
	trip.UserID = f.user
	if trip.From.IsZero() {
		trip.From = mileage.AdHocEndpoint("somewhere")
	}
	if trip.To.IsZero() {
		trip.To = mileage.AdHocEndpoint("elsewhere")
	}
	require.NoError(t, f.store.CreateTrip(context.Background(), trip))
	return trip
}

// =============================================================================
// VALUATION BASICS
// =============================================================================

func TestReporter_Monthly_ValuesTripAtEffectiveRate(t *testing.T) {
	// GIVEN: KK reimburses 0.30/km effective 2024-01-01
	// WHEN: Reporting a 10 km trip on 2024-03-01
	// THEN: The trip is worth 3.00

	f := newReportFixture(t)
	f.addTrip(t, mileage.Trip{
		Date:     date(2024, time.March, 1),
		Purpose:  "Visitation",
		Km:       dec("10"),
		BearerID: f.kk.ID,
	})

	report, err := f.reporter.Monthly(context.Background(), f.user, 2024, 3)
	require.NoError(t, err)

	require.Len(t, report.Trips, 1)
	tr := report.Trips[0]
	require.Len(t, tr.Lines, 1)
	assert.True(t, dec("0.30").Equal(tr.Lines[0].Rate))
	assert.True(t, dec("3.00").Equal(tr.Lines[0].Amount), "10 km * 0.30 = 3.00, got %s", tr.Lines[0].Amount)
	assert.True(t, dec("3.00").Equal(report.GrandTotal))

	require.Len(t, report.Bearers, 1)
	assert.Equal(t, "KK", report.Bearers[0].Code)
	assert.True(t, dec("10").Equal(report.Bearers[0].Km))
}

func TestReporter_Yearly_MidYearRateChange(t *testing.T) {
	// GIVEN: KK's rate rises from 0.30 to 0.35 on 2024-07-01
	// WHEN: Reporting a year with one 10 km trip on each side of the change
	// THEN: Each trip keeps the rate effective on its own date

	f := newReportFixture(t)
	f.addTrip(t, mileage.Trip{
		Date: date(2024, time.March, 1), Km: dec("10"), BearerID: f.kk.ID,
	})
	f.addTrip(t, mileage.Trip{
		Date: date(2024, time.September, 1), Km: dec("10"), BearerID: f.kk.ID,
	})

	report, err := f.reporter.Yearly(context.Background(), f.user, 2024)
	require.NoError(t, err)

	assert.Equal(t, 2, report.TripCount)
	require.Len(t, report.Bearers, 1)
	assert.True(t, dec("20").Equal(report.Bearers[0].Km))
	// 10 * 0.30 + 10 * 0.35
	assert.True(t, dec("6.50").Equal(report.Bearers[0].Amount),
		"want 6.50, got %s", report.Bearers[0].Amount)
	assert.True(t, dec("6.50").Equal(report.GrandTotal))
}

func TestReporter_SplitTrip_ContributesPerLeg(t *testing.T) {
	// GIVEN: An autosplit trip with one leg per bearer
	// WHEN: Reporting the month
	// THEN: Each bearer is credited its own leg, valued at its own rate

	f := newReportFixture(t)
	f.addTrip(t, mileage.Trip{
		Date:      date(2024, time.March, 5),
		Km:        dec("13"),
		Autosplit: true,
		From:      mileage.StoredEndpoint("loc-home"),
		To:        mileage.StoredEndpoint("loc-dest"),
		Legs: []mileage.TripLeg{
			{
				From: mileage.StoredEndpoint("loc-home"), To: mileage.StoredEndpoint("loc-work"),
				Km: dec("5"), BearerID: f.kk.ID, BearerCode: "KK",
			},
			{
				From: mileage.StoredEndpoint("loc-work"), To: mileage.StoredEndpoint("loc-dest"),
				Km: dec("8"), BearerID: f.other.ID, BearerCode: "LK",
			},
		},
	})

	report, err := f.reporter.Monthly(context.Background(), f.user, 2024, 3)
	require.NoError(t, err)

	require.Len(t, report.Bearers, 2)
	// Bearer order follows the user's configured sort order.
	assert.Equal(t, "KK", report.Bearers[0].Code)
	assert.True(t, dec("1.50").Equal(report.Bearers[0].Amount)) // 5 * 0.30
	assert.Equal(t, "LK", report.Bearers[1].Code)
	assert.True(t, dec("1.60").Equal(report.Bearers[1].Amount)) // 8 * 0.20

	assert.True(t, dec("3.10").Equal(report.GrandTotal))
}

func TestReporter_ZeroLegSplitTrip_ContributesNothing(t *testing.T) {
	// GIVEN: An autosplit trip from the work site to itself, stored with
	//        zero legs and no bearer of its own
	// WHEN: Reporting its month alongside a normal trip
	// THEN: The report succeeds; the empty trip is listed with a zero total
	//       and does not disturb the other contributions

	svc, user := newTestService(t)
	ctx := context.Background()

	work := createLocation(t, svc, user, "Work", mileage.RoleWorkSite)
	createBearer(t, svc, user, mileage.BearerInput{
		Name: "Commute Org", Code: "A", Active: true, SplitRole: mileage.SplitRoleCommute,
	})
	kk := createBearer(t, svc, user, mileage.BearerInput{
		Name: "Destination Org", Code: "B", Active: true, SortOrder: 1, SplitRole: mileage.SplitRoleDestination,
	})

	empty, err := svc.CreateTrip(ctx, user, mileage.TripInput{
		Date:      date(2024, time.March, 5),
		From:      mileage.StoredEndpoint(work.ID),
		To:        mileage.StoredEndpoint(work.ID),
		Autosplit: true,
	})
	require.NoError(t, err)
	assert.Empty(t, empty.Legs)
	assert.True(t, empty.Km.IsZero())

	_, err = svc.CreateTrip(ctx, user, mileage.TripInput{
		Date: date(2024, time.March, 10), Km: dec("10"), BearerID: kk.ID,
		From: mileage.AdHocEndpoint("A"), To: mileage.AdHocEndpoint("B"),
	})
	require.NoError(t, err)

	report, err := svc.MonthlyReport(ctx, user, 2024, 3)
	require.NoError(t, err)

	require.Len(t, report.Trips, 2)
	assert.Empty(t, report.Trips[0].Lines)
	assert.True(t, report.Trips[0].Total.IsZero())
	assert.True(t, dec("3.00").Equal(report.GrandTotal))
}

// =============================================================================
// PASSENGERS
// =============================================================================

func TestReporter_PassengerDirectionMatching(t *testing.T) {
	// GIVEN: A passenger rate of 0.05/km and an outbound trip carrying one
	//        outbound, one return, and one both-ways passenger
	// WHEN: Reporting
	// THEN: Only outbound and both count: 10 km * 0.05 * 2 = 1.00

	f := newReportFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetPassengerRate(ctx, f.user, rate(date(2024, time.January, 1), "0.05")))

	f.addTrip(t, mileage.Trip{
		Date:     date(2024, time.March, 1),
		Purpose:  "Konvent",
		Km:       dec("10"),
		BearerID: f.kk.ID,
		Passengers: []mileage.Passenger{
			{Name: "Anna", Direction: mileage.DirectionOutbound},
			{Name: "Ben", Direction: mileage.DirectionReturn},
			{Name: "Chris", Direction: mileage.DirectionBoth},
		},
	})

	report, err := f.reporter.Monthly(ctx, f.user, 2024, 3)
	require.NoError(t, err)

	require.Len(t, report.Trips, 1)
	tr := report.Trips[0]
	assert.Equal(t, 2, tr.PassengerCount)
	assert.True(t, dec("1.00").Equal(tr.PassengerAmount), "got %s", tr.PassengerAmount)
	assert.True(t, dec("1.00").Equal(report.PassengerTotal))
}

func TestReporter_ReturnPurpose_FlipsPassengerMatching(t *testing.T) {
	// GIVEN: The trip purpose marks it as a return leg
	// WHEN: Reporting with the same three passengers
	// THEN: Return and both count, outbound does not

	f := newReportFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetPassengerRate(ctx, f.user, rate(date(2024, time.January, 1), "0.05")))

	f.addTrip(t, mileage.Trip{
		Date:     date(2024, time.March, 1),
		Purpose:  "Konvent Rückfahrt",
		Km:       dec("10"),
		BearerID: f.kk.ID,
		Passengers: []mileage.Passenger{
			{Name: "Anna", Direction: mileage.DirectionOutbound},
			{Name: "Ben", Direction: mileage.DirectionReturn},
			{Name: "Chris", Direction: mileage.DirectionBoth},
		},
	})

	report, err := f.reporter.Monthly(ctx, f.user, 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Trips[0].PassengerCount)
}

func TestReporter_PassengerWithoutRate_Fails(t *testing.T) {
	// GIVEN: A trip carrying a passenger but no passenger rate configured
	// WHEN: Reporting
	// THEN: The report aborts instead of valuing the passenger at zero

	f := newReportFixture(t)
	f.addTrip(t, mileage.Trip{
		Date:     date(2024, time.March, 1),
		Km:       dec("10"),
		BearerID: f.kk.ID,
		Passengers: []mileage.Passenger{
			{Name: "Anna", Direction: mileage.DirectionBoth},
		},
	})

	_, err := f.reporter.Monthly(context.Background(), f.user, 2024, 3)
	assert.ErrorIs(t, err, mileage.ErrNoApplicableRate)
}

// =============================================================================
// CONSERVATION
// =============================================================================

func TestReporter_GrandTotalEqualsSumOfTripTotals(t *testing.T) {
	// Conservation: the monthly grand total equals the sum of independently
	// valued trips, mixing split and non-split trips with passengers.

	f := newReportFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetPassengerRate(ctx, f.user, rate(date(2024, time.January, 1), "0.05")))

	f.addTrip(t, mileage.Trip{
		Date: date(2024, time.March, 1), Km: dec("10"), BearerID: f.kk.ID,
	})
	f.addTrip(t, mileage.Trip{
		Date: date(2024, time.March, 8), Km: dec("24.5"), BearerID: f.other.ID,
		Passengers: []mileage.Passenger{{Name: "Anna", Direction: mileage.DirectionBoth}},
	})
	f.addTrip(t, mileage.Trip{
		Date: date(2024, time.March, 15), Km: dec("13"), Autosplit: true,
		From: mileage.StoredEndpoint("loc-home"), To: mileage.StoredEndpoint("loc-dest"),
		Legs: []mileage.TripLeg{
			{From: mileage.StoredEndpoint("loc-home"), To: mileage.StoredEndpoint("loc-work"),
				Km: dec("5"), BearerID: f.kk.ID, BearerCode: "KK"},
			{From: mileage.StoredEndpoint("loc-work"), To: mileage.StoredEndpoint("loc-dest"),
				Km: dec("8"), BearerID: f.other.ID, BearerCode: "LK"},
		},
	})

	report, err := f.reporter.Monthly(ctx, f.user, 2024, 3)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, tr := range report.Trips {
		sum = sum.Add(tr.Total)
	}
	assert.True(t, sum.Equal(report.GrandTotal),
		"grand total %s must equal sum of trip totals %s", report.GrandTotal, sum)
}

// =============================================================================
// SUBMISSION STATE IN MONTHLY REPORTS
// =============================================================================

func TestReporter_OutstandingExcludesReceivedSubjects(t *testing.T) {
	// GIVEN: KK's March claim is already received, LK's is merely submitted
	// WHEN: Reporting March
	// THEN: GrandTotal includes both, OutstandingTotal only LK

	f := newReportFixture(t)
	ctx := context.Background()

	f.addTrip(t, mileage.Trip{
		Date: date(2024, time.March, 1), Km: dec("10"), BearerID: f.kk.ID,
	})
	f.addTrip(t, mileage.Trip{
		Date: date(2024, time.March, 2), Km: dec("10"), BearerID: f.other.ID,
	})

	machine := mileage.NewStatusMachine(f.store)
	require.NoError(t, machine.Transition(ctx, f.user, 2024, 3, string(f.kk.ID),
		mileage.ActionSubmit, date(2024, time.April, 1)))
	require.NoError(t, machine.Transition(ctx, f.user, 2024, 3, string(f.kk.ID),
		mileage.ActionReceive, date(2024, time.April, 15)))
	require.NoError(t, machine.Transition(ctx, f.user, 2024, 3, string(f.other.ID),
		mileage.ActionSubmit, date(2024, time.April, 1)))

	report, err := f.reporter.Monthly(ctx, f.user, 2024, 3)
	require.NoError(t, err)

	assert.True(t, dec("5.00").Equal(report.GrandTotal)) // 3.00 + 2.00
	assert.True(t, dec("2.00").Equal(report.OutstandingTotal),
		"received KK amount must drop out of outstanding, got %s", report.OutstandingTotal)

	require.Len(t, report.Bearers, 2)
	assert.Equal(t, mileage.StateReceived, report.Bearers[0].State)
	assert.Equal(t, mileage.StateSubmitted, report.Bearers[1].State)
}

func TestReporter_PassengerStateTrackedSeparately(t *testing.T) {
	// GIVEN: A trip with a passenger, and the passenger claim received
	// WHEN: Reporting
	// THEN: The passenger total drops out of outstanding while the bearer
	//       total remains

	f := newReportFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetPassengerRate(ctx, f.user, rate(date(2024, time.January, 1), "0.05")))

	f.addTrip(t, mileage.Trip{
		Date: date(2024, time.March, 1), Km: dec("10"), BearerID: f.kk.ID,
		Passengers: []mileage.Passenger{{Name: "Anna", Direction: mileage.DirectionBoth}},
	})

	machine := mileage.NewStatusMachine(f.store)
	require.NoError(t, machine.Transition(ctx, f.user, 2024, 3, mileage.SubjectPassenger,
		mileage.ActionSubmit, date(2024, time.April, 1)))
	require.NoError(t, machine.Transition(ctx, f.user, 2024, 3, mileage.SubjectPassenger,
		mileage.ActionReceive, date(2024, time.April, 15)))

	report, err := f.reporter.Monthly(ctx, f.user, 2024, 3)
	require.NoError(t, err)

	assert.Equal(t, mileage.StateReceived, report.PassengerState)
	assert.True(t, dec("3.50").Equal(report.GrandTotal))       // 3.00 + 0.50
	assert.True(t, dec("3.00").Equal(report.OutstandingTotal)) // passenger excluded
}

// =============================================================================
// ERRORS AND BOUNDARIES
// =============================================================================

func TestReporter_TripBeforeAnyRate_Fails(t *testing.T) {
	// GIVEN: KK's earliest rate is effective 2024-01-01
	// WHEN: Reporting a month containing a 2023 trip
	// THEN: NoApplicableRateError, never a zero-valued line

	f := newReportFixture(t)
	f.addTrip(t, mileage.Trip{
		Date: date(2023, time.December, 15), Km: dec("10"), BearerID: f.kk.ID,
	})

	_, err := f.reporter.Monthly(context.Background(), f.user, 2023, 12)
	require.Error(t, err)
	assert.ErrorIs(t, err, mileage.ErrNoApplicableRate)
}

func TestReporter_Monthly_InvalidMonth(t *testing.T) {
	f := newReportFixture(t)
	_, err := f.reporter.Monthly(context.Background(), f.user, 2024, 13)
	assert.ErrorIs(t, err, mileage.ErrValidation)
}

func TestReporter_MonthBoundaries(t *testing.T) {
	// Trips on the first and last day of March are in; April 1 is out.

	f := newReportFixture(t)
	f.addTrip(t, mileage.Trip{Date: date(2024, time.March, 1), Km: dec("1"), BearerID: f.kk.ID})
	f.addTrip(t, mileage.Trip{Date: date(2024, time.March, 31), Km: dec("1"), BearerID: f.kk.ID})
	f.addTrip(t, mileage.Trip{Date: date(2024, time.April, 1), Km: dec("1"), BearerID: f.kk.ID})

	report, err := f.reporter.Monthly(context.Background(), f.user, 2024, 3)
	require.NoError(t, err)
	assert.Len(t, report.Trips, 2)
}

func TestReporter_EmptyMonth(t *testing.T) {
	f := newReportFixture(t)

	report, err := f.reporter.Monthly(context.Background(), f.user, 2024, 6)
	require.NoError(t, err)

	assert.Empty(t, report.Trips)
	assert.Empty(t, report.Bearers, "bearers without contributions are skipped")
	assert.True(t, report.GrandTotal.IsZero())
	assert.True(t, report.OutstandingTotal.IsZero())
}
