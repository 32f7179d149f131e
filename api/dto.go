/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

CONVENTIONS:
  - Dates are "2006-01-02" strings
  - Kilometers, rates and amounts are decimal strings ("12.5", "0.30") to
    keep precision across the wire

VALIDATION:
  Structural validation (parsable dates and decimals) happens in handlers;
  business validation lives in the mileage package.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"
	"github.com/warp/mileage-engine/mileage"
)

// =============================================================================
// LOCATIONS
// =============================================================================

type LocationDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Role    string `json:"role,omitempty"`
}

type SaveLocationRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Role    string `json:"role"`
}

func toLocationDTO(loc mileage.Location) LocationDTO {
	return LocationDTO{
		ID:      string(loc.ID),
		Name:    loc.Name,
		Address: loc.Address,
		Role:    string(loc.Role),
	}
}

// =============================================================================
// DISTANCES
// =============================================================================

type DistanceDTO struct {
	LocA string `json:"loc_a"`
	LocB string `json:"loc_b"`
	Km   string `json:"km"`
}

type UpsertDistanceRequest struct {
	LocA string `json:"loc_a"`
	LocB string `json:"loc_b"`
	Km   string `json:"km"`
}

func toDistanceDTO(d mileage.Distance) DistanceDTO {
	return DistanceDTO{LocA: string(d.LocA), LocB: string(d.LocB), Km: d.Km.String()}
}

// =============================================================================
// TRIPS
// =============================================================================

type EndpointDTO struct {
	LocationID string `json:"location_id,omitempty"`
	Address    string `json:"address,omitempty"`
}

func toEndpointDTO(e mileage.Endpoint) EndpointDTO {
	return EndpointDTO{LocationID: string(e.LocationID), Address: e.Address}
}

func (e EndpointDTO) toEndpoint() mileage.Endpoint {
	return mileage.Endpoint{LocationID: mileage.LocationID(e.LocationID), Address: e.Address}
}

type PassengerDTO struct {
	Name      string `json:"name"`
	Workplace string `json:"workplace,omitempty"`
	Direction string `json:"direction"`
}

type TripLegDTO struct {
	From       EndpointDTO `json:"from"`
	To         EndpointDTO `json:"to"`
	Km         string      `json:"km"`
	BearerID   string      `json:"bearer_id"`
	BearerCode string      `json:"bearer_code"`
}

type TripDTO struct {
	ID         string         `json:"id"`
	Date       string         `json:"date"`
	Purpose    string         `json:"purpose,omitempty"`
	Km         string         `json:"km"`
	BearerID   string         `json:"bearer_id,omitempty"`
	From       EndpointDTO    `json:"from"`
	To         EndpointDTO    `json:"to"`
	Autosplit  bool           `json:"autosplit"`
	Legs       []TripLegDTO   `json:"legs,omitempty"`
	Passengers []PassengerDTO `json:"passengers,omitempty"`
}

// TripRequest creates or fully replaces a trip. Km is a manual override;
// leave it empty to resolve from stored distances.
type TripRequest struct {
	Date       string         `json:"date"`
	Purpose    string         `json:"purpose"`
	Km         string         `json:"km"`
	BearerID   string         `json:"bearer_id"`
	From       EndpointDTO    `json:"from"`
	To         EndpointDTO    `json:"to"`
	Autosplit  bool           `json:"autosplit"`
	Passengers []PassengerDTO `json:"passengers"`
}

func toTripDTO(trip mileage.Trip) TripDTO {
	dto := TripDTO{
		ID:        string(trip.ID),
		Date:      trip.Date.String(),
		Purpose:   trip.Purpose,
		Km:        trip.Km.String(),
		BearerID:  string(trip.BearerID),
		From:      toEndpointDTO(trip.From),
		To:        toEndpointDTO(trip.To),
		Autosplit: trip.Autosplit,
	}
	for _, leg := range trip.Legs {
		dto.Legs = append(dto.Legs, TripLegDTO{
			From:       toEndpointDTO(leg.From),
			To:         toEndpointDTO(leg.To),
			Km:         leg.Km.String(),
			BearerID:   string(leg.BearerID),
			BearerCode: leg.BearerCode,
		})
	}
	for _, p := range trip.Passengers {
		dto.Passengers = append(dto.Passengers, PassengerDTO{
			Name:      p.Name,
			Workplace: p.Workplace,
			Direction: string(p.Direction),
		})
	}
	return dto
}

// =============================================================================
// AUTOSPLIT
// =============================================================================

type SplitLegDTO struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Km         string `json:"km"`
	BearerID   string `json:"bearer_id"`
	BearerCode string `json:"bearer_code"`
}

type SplitResultDTO struct {
	TotalKm string        `json:"total_km"`
	Legs    []SplitLegDTO `json:"legs"`
}

func toSplitResultDTO(res mileage.SplitResult) SplitResultDTO {
	dto := SplitResultDTO{TotalKm: res.TotalKm.String()}
	for _, leg := range res.Legs {
		dto.Legs = append(dto.Legs, SplitLegDTO{
			From:       string(leg.From),
			To:         string(leg.To),
			Km:         leg.Km.String(),
			BearerID:   string(leg.BearerID),
			BearerCode: leg.BearerCode,
		})
	}
	return dto
}

// =============================================================================
// COST BEARERS & RATES
// =============================================================================

type RateEntryDTO struct {
	EffectiveFrom string `json:"effective_from"`
	Amount        string `json:"amount"`
}

type BearerDTO struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Code      string         `json:"code"`
	Active    bool           `json:"active"`
	SortOrder int            `json:"sort_order"`
	SplitRole string         `json:"split_role,omitempty"`
	Rates     []RateEntryDTO `json:"rates"`
}

type BearerRequest struct {
	Name      string `json:"name"`
	Code      string `json:"code"`
	Active    bool   `json:"active"`
	SortOrder int    `json:"sort_order"`
	SplitRole string `json:"split_role"`

	// InitialRate is required on creation, ignored on update.
	InitialRate *RateEntryDTO `json:"initial_rate,omitempty"`
}

type SetRateRequest struct {
	EffectiveFrom string `json:"effective_from"`
	Amount        string `json:"amount"`
}

type DeleteRateRequest struct {
	EffectiveFrom string `json:"effective_from"`
}

func toBearerDTO(b mileage.CostBearer) BearerDTO {
	dto := BearerDTO{
		ID:        string(b.ID),
		Name:      b.Name,
		Code:      b.Code,
		Active:    b.Active,
		SortOrder: b.SortOrder,
		SplitRole: string(b.SplitRole),
	}
	for _, e := range b.Rates {
		dto.Rates = append(dto.Rates, RateEntryDTO{
			EffectiveFrom: e.EffectiveFrom.String(),
			Amount:        e.Amount.String(),
		})
	}
	return dto
}

func toRateHistoryDTO(h mileage.RateHistory) []RateEntryDTO {
	var dto []RateEntryDTO
	for _, e := range h {
		dto = append(dto, RateEntryDTO{
			EffectiveFrom: e.EffectiveFrom.String(),
			Amount:        e.Amount.String(),
		})
	}
	return dto
}

// =============================================================================
// REPORTS & STATUS
// =============================================================================

type ReportLineDTO struct {
	BearerID   string `json:"bearer_id"`
	BearerCode string `json:"bearer_code"`
	Km         string `json:"km"`
	Rate       string `json:"rate"`
	Amount     string `json:"amount"`
}

type TripReportDTO struct {
	Trip            TripDTO         `json:"trip"`
	Lines           []ReportLineDTO `json:"lines"`
	PassengerCount  int             `json:"passenger_count,omitempty"`
	PassengerRate   string          `json:"passenger_rate,omitempty"`
	PassengerAmount string          `json:"passenger_amount,omitempty"`
	Total           string          `json:"total"`
}

type BearerTotalDTO struct {
	BearerID    string `json:"bearer_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Km          string `json:"km"`
	Amount      string `json:"amount"`
	State       string `json:"state,omitempty"`
	SubmittedOn string `json:"submitted_on,omitempty"`
	ReceivedOn  string `json:"received_on,omitempty"`
}

type MonthlyReportDTO struct {
	Year             int              `json:"year"`
	Month            int              `json:"month"`
	Trips            []TripReportDTO  `json:"trips"`
	Bearers          []BearerTotalDTO `json:"bearers"`
	PassengerTotal   string           `json:"passenger_total"`
	PassengerState   string           `json:"passenger_state"`
	GrandTotal       string           `json:"grand_total"`
	OutstandingTotal string           `json:"outstanding_total"`
}

type YearlyReportDTO struct {
	Year           int              `json:"year"`
	TripCount      int              `json:"trip_count"`
	Bearers        []BearerTotalDTO `json:"bearers"`
	PassengerTotal string           `json:"passenger_total"`
	GrandTotal     string           `json:"grand_total"`
}

type TransitionStatusRequest struct {
	Subject string `json:"subject"` // bearer ID or "passenger"
	Action  string `json:"action"`  // submit | receive | reset
	Date    string `json:"date,omitempty"`
}

func toTripReportDTO(tr mileage.TripReport) TripReportDTO {
	dto := TripReportDTO{
		Trip:           toTripDTO(tr.Trip),
		PassengerCount: tr.PassengerCount,
		Total:          tr.Total.String(),
	}
	for _, line := range tr.Lines {
		dto.Lines = append(dto.Lines, ReportLineDTO{
			BearerID:   string(line.BearerID),
			BearerCode: line.BearerCode,
			Km:         line.Km.String(),
			Rate:       line.Rate.String(),
			Amount:     line.Amount.String(),
		})
	}
	if tr.PassengerCount > 0 {
		dto.PassengerRate = tr.PassengerRate.String()
		dto.PassengerAmount = tr.PassengerAmount.String()
	}
	return dto
}

func toBearerTotalDTO(bt mileage.BearerTotal) BearerTotalDTO {
	dto := BearerTotalDTO{
		BearerID: string(bt.BearerID),
		Code:     bt.Code,
		Name:     bt.Name,
		Km:       bt.Km.String(),
		Amount:   bt.Amount.String(),
		State:    string(bt.State),
	}
	if !bt.SubmittedOn.IsZero() {
		dto.SubmittedOn = bt.SubmittedOn.String()
	}
	if !bt.ReceivedOn.IsZero() {
		dto.ReceivedOn = bt.ReceivedOn.String()
	}
	return dto
}

func toMonthlyReportDTO(r *mileage.MonthlyReport) MonthlyReportDTO {
	dto := MonthlyReportDTO{
		Year:             r.Year,
		Month:            r.Month,
		PassengerTotal:   r.PassengerTotal.String(),
		PassengerState:   string(r.PassengerState),
		GrandTotal:       r.GrandTotal.String(),
		OutstandingTotal: r.OutstandingTotal.String(),
	}
	for _, tr := range r.Trips {
		dto.Trips = append(dto.Trips, toTripReportDTO(tr))
	}
	for _, bt := range r.Bearers {
		dto.Bearers = append(dto.Bearers, toBearerTotalDTO(bt))
	}
	return dto
}

func toYearlyReportDTO(r *mileage.YearlyReport) YearlyReportDTO {
	dto := YearlyReportDTO{
		Year:           r.Year,
		TripCount:      r.TripCount,
		PassengerTotal: r.PassengerTotal.String(),
		GrandTotal:     r.GrandTotal.String(),
	}
	for _, bt := range r.Bearers {
		dto.Bearers = append(dto.Bearers, toBearerTotalDTO(bt))
	}
	return dto
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseOptionalDate(s string) (mileage.TimePoint, error) {
	if s == "" {
		return mileage.TimePoint{}, nil
	}
	return mileage.ParseTimePoint(s)
}
