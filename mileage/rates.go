/*
rates.go - Effective-dated per-kilometer rate resolution

PURPOSE:
  Rates change over time. A trip is always reimbursed at the rate effective
  on the trip's own date, so past trips keep their historical value when a
  new rate is inserted. RateHistory is an explicit sorted time series with a
  binary-search point lookup, instead of ad-hoc "max date <= X" queries at
  every call site.

INVARIANTS:
  - At most one entry per effective date: Set replaces on an exact date
    match instead of inserting a second entry, so resolution is never
    ambiguous.
  - A date before the earliest entry resolves to nothing: callers receive
    NoApplicableRateError and must not substitute zero in financial totals.
*/
package mileage

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE HISTORY - Sorted time series of per-kilometer rates
// =============================================================================

// RateHistory is a slice of rate entries kept sorted ascending by
// EffectiveFrom.
type RateHistory []RateEntry

// RateOn returns the amount of the latest entry with EffectiveFrom <= date.
// The second result is false when the date precedes every entry.
func (h RateHistory) RateOn(date TimePoint) (decimal.Decimal, bool) {
	// First entry strictly after the date; the applicable entry is the one
	// before it.
	i := sort.Search(len(h), func(i int) bool {
		return h[i].EffectiveFrom.After(date)
	})
	if i == 0 {
		return decimal.Zero, false
	}
	return h[i-1].Amount, true
}

// Set returns the history with the entry inserted at its sorted position,
// or with the amount replaced when an entry at the same effective date
// already exists.
func (h RateHistory) Set(entry RateEntry) RateHistory {
	i := sort.Search(len(h), func(i int) bool {
		return h[i].EffectiveFrom.AfterOrEqual(entry.EffectiveFrom)
	})
	if i < len(h) && h[i].EffectiveFrom.Equal(entry.EffectiveFrom) {
		h[i].Amount = entry.Amount
		return h
	}
	h = append(h, RateEntry{})
	copy(h[i+1:], h[i:])
	h[i] = entry
	return h
}

// Delete returns the history without the entry at the exact effective date.
// The second result is false when no such entry exists.
func (h RateHistory) Delete(effectiveFrom TimePoint) (RateHistory, bool) {
	for i, e := range h {
		if e.EffectiveFrom.Equal(effectiveFrom) {
			return append(h[:i:i], h[i+1:]...), true
		}
	}
	return h, false
}

// SortHistory sorts entries ascending by effective date. Store
// implementations use it after loading rows.
func SortHistory(h RateHistory) {
	sort.Slice(h, func(i, j int) bool {
		return h[i].EffectiveFrom.Before(h[j].EffectiveFrom)
	})
}

// =============================================================================
// RATE RESOLVER - Store-backed lookup for bearers and passenger carry
// =============================================================================

type RateResolver struct {
	bearers    BearerStore
	passengers PassengerRateStore
}

func NewRateResolver(bearers BearerStore, passengers PassengerRateStore) *RateResolver {
	return &RateResolver{bearers: bearers, passengers: passengers}
}

// BearerRateOn resolves the cost bearer's rate effective on the given date.
func (r *RateResolver) BearerRateOn(ctx context.Context, user UserID, id BearerID, date TimePoint) (decimal.Decimal, error) {
	b, err := r.bearers.GetBearer(ctx, user, id)
	if err != nil {
		return decimal.Zero, err
	}
	rate, ok := b.Rates.RateOn(date)
	if !ok {
		return decimal.Zero, &NoApplicableRateError{Subject: string(id), Date: date}
	}
	return rate, nil
}

// PassengerRateOn resolves the user's passenger-carry rate effective on the
// given date.
func (r *RateResolver) PassengerRateOn(ctx context.Context, user UserID, date TimePoint) (decimal.Decimal, error) {
	hist, err := r.passengers.PassengerRates(ctx, user)
	if err != nil {
		return decimal.Zero, err
	}
	rate, ok := hist.RateOn(date)
	if !ok {
		return decimal.Zero, &NoApplicableRateError{Subject: SubjectPassenger, Date: date}
	}
	return rate, nil
}
