/*
report.go - Monthly and yearly reimbursement aggregation

PURPOSE:
  Combines trips, their (possibly split) kilometers and the rates effective
  on each trip's own date into per-trip and per-period monetary totals.
  Money is always derived here, never read from a persisted balance.

PER-TRIP COMPUTATION:
  1. Kilometers: autosplit trips contribute one line per leg, everything
     else one line from the trip's stored kilometers (a manual value always
     wins over anything recomputable).
  2. Each (km, bearer) line is valued at km * rate, with the rate resolved
     on the trip's date - essential when rates change mid-year.
  3. Passengers whose direction matches the traveled direction contribute
     tripKm * passengerRate * count as a separate passenger total, never
     split by bearer.

ERROR POLICY:
  A missing rate aborts the report with NoApplicableRateError. Coercing it
  to zero would produce a silently wrong total.

MONTHLY EXTRAS:
  Each subject's submission state is attached, and two totals come out of
  the same pass: the original total (everything) and the outstanding total
  (excluding subjects whose claim was already received).
*/
package mileage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REPORT SHAPES
// =============================================================================

// ReportLine is one (kilometers, bearer) contribution of a trip.
type ReportLine struct {
	BearerID   BearerID
	BearerCode string
	Km         decimal.Decimal
	Rate       decimal.Decimal
	Amount     decimal.Decimal
}

// TripReport is one trip with its valued contributions.
type TripReport struct {
	Trip            Trip
	Lines           []ReportLine
	PassengerCount  int
	PassengerRate   decimal.Decimal
	PassengerAmount decimal.Decimal
	Total           decimal.Decimal
}

// BearerTotal is the period total attributed to one cost bearer.
type BearerTotal struct {
	BearerID    BearerID
	Code        string
	Name        string
	Km          decimal.Decimal
	Amount      decimal.Decimal
	State       SubmissionState
	SubmittedOn TimePoint
	ReceivedOn  TimePoint
}

type MonthlyReport struct {
	Year  int
	Month int
	Trips []TripReport

	Bearers              []BearerTotal
	PassengerTotal       decimal.Decimal
	PassengerState       SubmissionState
	PassengerSubmittedOn TimePoint
	PassengerReceivedOn  TimePoint

	// GrandTotal always includes every contribution; OutstandingTotal
	// excludes subjects whose claim is already Received. Both come from the
	// same aggregation pass.
	GrandTotal       decimal.Decimal
	OutstandingTotal decimal.Decimal
}

type YearlyReport struct {
	Year      int
	TripCount int

	Bearers        []BearerTotal
	PassengerTotal decimal.Decimal
	GrandTotal     decimal.Decimal
}

// =============================================================================
// REPORTER
// =============================================================================

type Reporter struct {
	store Store
}

func NewReporter(store Store) *Reporter {
	return &Reporter{store: store}
}

// Monthly computes the report for one calendar month.
func (r *Reporter) Monthly(ctx context.Context, user UserID, year int, month int) (*MonthlyReport, error) {
	if month < 1 || month > 12 {
		return nil, &ValidationError{Field: "month", Message: "must be 1-12"}
	}
	period := MonthPeriod(year, monthOf(month))

	agg, err := r.aggregate(ctx, user, period)
	if err != nil {
		return nil, err
	}

	statuses, err := r.store.ListStatusesForMonth(ctx, user, year, month)
	if err != nil {
		return nil, err
	}
	bySubject := make(map[string]SubmissionStatus, len(statuses))
	for _, st := range statuses {
		bySubject[st.Subject] = st
	}

	report := &MonthlyReport{
		Year:             year,
		Month:            month,
		Trips:            agg.trips,
		PassengerTotal:   agg.passengerTotal,
		PassengerState:   StateNotSubmitted,
		GrandTotal:       decimal.Zero,
		OutstandingTotal: decimal.Zero,
	}

	for _, bt := range agg.bearerTotals() {
		if st, ok := bySubject[string(bt.BearerID)]; ok {
			bt.State = st.State
			bt.SubmittedOn = st.SubmittedOn
			bt.ReceivedOn = st.ReceivedOn
		} else {
			bt.State = StateNotSubmitted
		}
		report.Bearers = append(report.Bearers, bt)
		report.GrandTotal = report.GrandTotal.Add(bt.Amount)
		if bt.State != StateReceived {
			report.OutstandingTotal = report.OutstandingTotal.Add(bt.Amount)
		}
	}

	if st, ok := bySubject[SubjectPassenger]; ok {
		report.PassengerState = st.State
		report.PassengerSubmittedOn = st.SubmittedOn
		report.PassengerReceivedOn = st.ReceivedOn
	}
	report.GrandTotal = report.GrandTotal.Add(agg.passengerTotal)
	if report.PassengerState != StateReceived {
		report.OutstandingTotal = report.OutstandingTotal.Add(agg.passengerTotal)
	}

	return report, nil
}

// Yearly computes the report for one calendar year, grouped by cost bearer.
// Every trip is valued at the rate effective on its own date.
func (r *Reporter) Yearly(ctx context.Context, user UserID, year int) (*YearlyReport, error) {
	agg, err := r.aggregate(ctx, user, YearPeriod(year))
	if err != nil {
		return nil, err
	}

	report := &YearlyReport{
		Year:           year,
		TripCount:      len(agg.trips),
		PassengerTotal: agg.passengerTotal,
		GrandTotal:     agg.passengerTotal,
	}
	for _, bt := range agg.bearerTotals() {
		bt.State = StateNotSubmitted
		report.Bearers = append(report.Bearers, bt)
		report.GrandTotal = report.GrandTotal.Add(bt.Amount)
	}
	return report, nil
}

// =============================================================================
// AGGREGATION PASS
// =============================================================================

type subjectTotal struct {
	km     decimal.Decimal
	amount decimal.Decimal
}

type aggregation struct {
	trips          []TripReport
	bearers        []CostBearer // user's bearers in sort order
	perBearer      map[BearerID]subjectTotal
	passengerTotal decimal.Decimal
}

// bearerTotals returns per-bearer totals in the user's configured sort
// order, skipping bearers without contributions.
func (a *aggregation) bearerTotals() []BearerTotal {
	var totals []BearerTotal
	for _, b := range a.bearers {
		t, ok := a.perBearer[b.ID]
		if !ok {
			continue
		}
		totals = append(totals, BearerTotal{
			BearerID: b.ID,
			Code:     b.Code,
			Name:     b.Name,
			Km:       t.km,
			Amount:   t.amount,
		})
	}
	return totals
}

func (r *Reporter) aggregate(ctx context.Context, user UserID, period Period) (*aggregation, error) {
	bearers, err := r.store.ListBearers(ctx, user)
	if err != nil {
		return nil, err
	}
	byID := make(map[BearerID]CostBearer, len(bearers))
	for _, b := range bearers {
		byID[b.ID] = b
	}

	passengerRates, err := r.store.PassengerRates(ctx, user)
	if err != nil {
		return nil, err
	}

	trips, err := r.store.TripsBetween(ctx, user, period.Start, period.End)
	if err != nil {
		return nil, err
	}

	agg := &aggregation{
		bearers:        bearers,
		perBearer:      make(map[BearerID]subjectTotal),
		passengerTotal: decimal.Zero,
	}

	for _, trip := range trips {
		tr, err := valueTrip(trip, byID, passengerRates)
		if err != nil {
			return nil, err
		}
		for _, line := range tr.Lines {
			t := agg.perBearer[line.BearerID]
			t.km = t.km.Add(line.Km)
			t.amount = t.amount.Add(line.Amount)
			agg.perBearer[line.BearerID] = t
		}
		agg.passengerTotal = agg.passengerTotal.Add(tr.PassengerAmount)
		agg.trips = append(agg.trips, tr)
	}

	return agg, nil
}

// valueTrip computes one trip's contributions independently of any period
// context. This is the unit the conservation property holds over.
func valueTrip(trip Trip, bearers map[BearerID]CostBearer, passengerRates RateHistory) (TripReport, error) {
	tr := TripReport{
		Trip:            trip,
		PassengerAmount: decimal.Zero,
		Total:           decimal.Zero,
	}

	// A split trip is valued per leg, even when the split produced none
	// (trip start and end at the work site itself).
	if trip.Autosplit {
		for _, leg := range trip.Legs {
			line, err := valueLine(leg.Km, leg.BearerID, trip.Date, bearers)
			if err != nil {
				return TripReport{}, err
			}
			tr.Lines = append(tr.Lines, line)
		}
	} else {
		line, err := valueLine(trip.Km, trip.BearerID, trip.Date, bearers)
		if err != nil {
			return TripReport{}, err
		}
		tr.Lines = append(tr.Lines, line)
	}
	for _, line := range tr.Lines {
		tr.Total = tr.Total.Add(line.Amount)
	}

	returnTrip := IsReturnPurpose(trip.Purpose)
	for _, p := range trip.Passengers {
		if p.Direction.CountsFor(returnTrip) {
			tr.PassengerCount++
		}
	}
	if tr.PassengerCount > 0 {
		rate, ok := passengerRates.RateOn(trip.Date)
		if !ok {
			return TripReport{}, &NoApplicableRateError{Subject: SubjectPassenger, Date: trip.Date}
		}
		tr.PassengerRate = rate
		tr.PassengerAmount = trip.Km.Mul(rate).Mul(decimal.NewFromInt(int64(tr.PassengerCount)))
		tr.Total = tr.Total.Add(tr.PassengerAmount)
	}

	return tr, nil
}

func valueLine(km decimal.Decimal, id BearerID, date TimePoint, bearers map[BearerID]CostBearer) (ReportLine, error) {
	b, ok := bearers[id]
	if !ok {
		return ReportLine{}, fmt.Errorf("%w: %s", ErrBearerNotFound, id)
	}
	rate, rateOK := b.Rates.RateOn(date)
	if !rateOK {
		return ReportLine{}, &NoApplicableRateError{Subject: string(id), Date: date}
	}
	return ReportLine{
		BearerID:   b.ID,
		BearerCode: b.Code,
		Km:         km,
		Rate:       rate,
		Amount:     km.Mul(rate),
	}, nil
}
