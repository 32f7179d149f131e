/*
handlers.go - HTTP API handlers for the mileage reimbursement engine

PURPOSE:
  Exposes the reimbursement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Locations:
    GET    /api/locations              List stored locations
    POST   /api/locations              Create location
    GET    /api/locations/{id}         Get location
    PUT    /api/locations/{id}         Update location
    DELETE /api/locations/{id}         Delete location (guarded)

  Distances:
    GET    /api/distances              List distance records
    GET    /api/distances/resolve      Resolve km between two locations
    PUT    /api/distances              Upsert a distance record
    DELETE /api/distances              Delete a distance record

  Trips:
    GET    /api/trips?year=&month=     List trips for a month or year
    POST   /api/trips                  Create trip
    GET    /api/trips/{id}             Get trip
    PUT    /api/trips/{id}             Update trip (legs recomputed)
    DELETE /api/trips/{id}             Delete trip
    GET    /api/autosplit?from=&to=    Preview an autosplit

  Cost bearers:
    GET    /api/bearers                List cost bearers
    POST   /api/bearers                Create bearer with initial rate
    GET    /api/bearers/{id}           Get bearer
    PUT    /api/bearers/{id}           Update bearer
    DELETE /api/bearers/{id}           Delete bearer (guarded)
    PUT    /api/bearers/{id}/rates     Set a rate entry
    DELETE /api/bearers/{id}/rates     Delete a rate entry (guarded)

  Passenger rate:
    GET    /api/passenger-rate         Rate history for passenger carry
    PUT    /api/passenger-rate         Set a rate entry
    DELETE /api/passenger-rate         Delete a rate entry (guarded)

  Reports:
    GET    /api/reports/{year}                 Yearly report
    GET    /api/reports/{year}/{month}         Monthly report
    POST   /api/reports/{year}/{month}/status  Submission status transition

USER SCOPING:
  All data is scoped per user. The user is taken from the X-User-ID
  header; absent headers fall back to "default" so single-user
  deployments work without any client changes.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unsplittable trips
  - 404: Entity not found
  - 409: Invalid status transition, deletion guard violations
  - 422: No applicable rate for a trip date
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/warp/mileage-engine/mileage"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *mileage.Service
}

// NewHandler creates a new handler over the given service.
func NewHandler(service *mileage.Service) *Handler {
	return &Handler{Service: service}
}

// userID resolves the requesting user from the X-User-ID header.
func userID(r *http.Request) mileage.UserID {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return mileage.UserID(id)
	}
	return "default"
}

// =============================================================================
// LOCATION HANDLERS
// =============================================================================

// ListLocations returns the user's stored locations.
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.Service.ListLocations(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	dtos := make([]LocationDTO, len(locations))
	for i, loc := range locations {
		dtos[i] = toLocationDTO(loc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLocation creates a new stored location.
func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req SaveLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON: "+err.Error())
		return
	}

	loc, err := h.Service.SaveLocation(r.Context(), mileage.Location{
		UserID:  userID(r),
		Name:    req.Name,
		Address: req.Address,
		Role:    mileage.LocationRole(req.Role),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLocationDTO(loc))
}

// GetLocation returns a single location.
func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	id := mileage.LocationID(chi.URLParam(r, "id"))
	loc, err := h.Service.GetLocation(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLocationDTO(loc))
}

// UpdateLocation replaces a location's name, address, and role.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	id := mileage.LocationID(chi.URLParam(r, "id"))
	if _, err := h.Service.GetLocation(r.Context(), user, id); err != nil {
		writeError(w, err)
		return
	}

	var req SaveLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON: "+err.Error())
		return
	}

	loc, err := h.Service.SaveLocation(r.Context(), mileage.Location{
		ID:      id,
		UserID:  user,
		Name:    req.Name,
		Address: req.Address,
		Role:    mileage.LocationRole(req.Role),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLocationDTO(loc))
}

// DeleteLocation deletes a location unless trips still reference it.
func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	id := mileage.LocationID(chi.URLParam(r, "id"))
	if err := h.Service.DeleteLocation(r.Context(), userID(r), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DISTANCE HANDLERS
// =============================================================================

// ListDistances returns all stored distance records.
func (h *Handler) ListDistances(w http.ResponseWriter, r *http.Request) {
	distances, err := h.Service.ListDistances(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	dtos := make([]DistanceDTO, len(distances))
	for i, d := range distances {
		dtos[i] = toDistanceDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResolveDistance returns the km between two locations, order-independent.
func (h *Handler) ResolveDistance(w http.ResponseWriter, r *http.Request) {
	a := mileage.LocationID(r.URL.Query().Get("a"))
	b := mileage.LocationID(r.URL.Query().Get("b"))
	if a == "" || b == "" {
		writeBadRequest(w, "Query parameters 'a' and 'b' are required")
		return
	}

	km, err := h.Service.Distance(r.Context(), userID(r), a, b)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DistanceDTO{LocA: string(a), LocB: string(b), Km: km.String()})
}

// UpsertDistance stores or replaces a distance record between two locations.
func (h *Handler) UpsertDistance(w http.ResponseWriter, r *http.Request) {
	var req UpsertDistanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON: "+err.Error())
		return
	}
	km, err := parseOptionalDecimal(req.Km)
	if err != nil {
		writeBadRequest(w, "Invalid km: "+err.Error())
		return
	}

	a, b := mileage.LocationID(req.LocA), mileage.LocationID(req.LocB)
	if err := h.Service.UpsertDistance(r.Context(), userID(r), a, b, km); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DistanceDTO{LocA: req.LocA, LocB: req.LocB, Km: km.String()})
}

// DeleteDistance removes a distance record.
func (h *Handler) DeleteDistance(w http.ResponseWriter, r *http.Request) {
	a := mileage.LocationID(r.URL.Query().Get("a"))
	b := mileage.LocationID(r.URL.Query().Get("b"))
	if a == "" || b == "" {
		writeBadRequest(w, "Query parameters 'a' and 'b' are required")
		return
	}
	if err := h.Service.DeleteDistance(r.Context(), userID(r), a, b); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// AUTOSPLIT HANDLER
// =============================================================================

// PreviewAutosplit computes the commute/destination split between two
// stored locations without creating a trip.
func (h *Handler) PreviewAutosplit(w http.ResponseWriter, r *http.Request) {
	from := mileage.LocationID(r.URL.Query().Get("from"))
	to := mileage.LocationID(r.URL.Query().Get("to"))

	result, err := h.Service.ComputeAutosplit(r.Context(), userID(r), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSplitResultDTO(result))
}

// =============================================================================
// TRIP HANDLERS
// =============================================================================

// ListTrips returns trips for ?year=&month=. A missing month lists the
// whole year.
func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeBadRequest(w, "Query parameter 'year' is required")
		return
	}
	month := 0
	if m := r.URL.Query().Get("month"); m != "" {
		month, err = strconv.Atoi(m)
		if err != nil {
			writeBadRequest(w, "Invalid month: "+m)
			return
		}
	}

	trips, err := h.Service.ListTrips(r.Context(), userID(r), year, month)
	if err != nil {
		writeError(w, err)
		return
	}

	dtos := make([]TripDTO, len(trips))
	for i, trip := range trips {
		dtos[i] = toTripDTO(trip)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTrip creates a trip, resolving kilometers and autosplit legs.
func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeTripInput(w, r)
	if !ok {
		return
	}
	trip, err := h.Service.CreateTrip(r.Context(), userID(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTripDTO(trip))
}

// GetTrip returns a single trip with legs and passengers.
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	id := mileage.TripID(chi.URLParam(r, "id"))
	trip, err := h.Service.GetTrip(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTripDTO(trip))
}

// UpdateTrip replaces a trip. Autosplit legs are recomputed from the
// current location and distance data.
func (h *Handler) UpdateTrip(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeTripInput(w, r)
	if !ok {
		return
	}
	id := mileage.TripID(chi.URLParam(r, "id"))
	trip, err := h.Service.UpdateTrip(r.Context(), userID(r), id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTripDTO(trip))
}

// DeleteTrip removes a trip with its legs and passengers.
func (h *Handler) DeleteTrip(w http.ResponseWriter, r *http.Request) {
	id := mileage.TripID(chi.URLParam(r, "id"))
	if err := h.Service.DeleteTrip(r.Context(), userID(r), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeTripInput(w http.ResponseWriter, r *http.Request) (mileage.TripInput, bool) {
	var req TripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON: "+err.Error())
		return mileage.TripInput{}, false
	}

	date, err := parseOptionalDate(req.Date)
	if err != nil {
		writeBadRequest(w, "Invalid date: "+req.Date)
		return mileage.TripInput{}, false
	}
	km, err := parseOptionalDecimal(req.Km)
	if err != nil {
		writeBadRequest(w, "Invalid km: "+err.Error())
		return mileage.TripInput{}, false
	}

	in := mileage.TripInput{
		Date:      date,
		Purpose:   req.Purpose,
		Km:        km,
		BearerID:  mileage.BearerID(req.BearerID),
		From:      req.From.toEndpoint(),
		To:        req.To.toEndpoint(),
		Autosplit: req.Autosplit,
	}
	for _, p := range req.Passengers {
		in.Passengers = append(in.Passengers, mileage.Passenger{
			Name:      p.Name,
			Workplace: p.Workplace,
			Direction: mileage.Direction(p.Direction),
		})
	}
	return in, true
}

// =============================================================================
// COST BEARER HANDLERS
// =============================================================================

// ListBearers returns the user's cost bearers in sort order.
func (h *Handler) ListBearers(w http.ResponseWriter, r *http.Request) {
	bearers, err := h.Service.ListBearers(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	dtos := make([]BearerDTO, len(bearers))
	for i, b := range bearers {
		dtos[i] = toBearerDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBearer creates a cost bearer together with its first rate entry.
func (h *Handler) CreateBearer(w http.ResponseWriter, r *http.Request) {
	var req BearerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON: "+err.Error())
		return
	}
	if req.InitialRate == nil {
		writeBadRequest(w, "initial_rate is required")
		return
	}
	entry, ok := h.decodeRateEntry(w, req.InitialRate.EffectiveFrom, req.InitialRate.Amount)
	if !ok {
		return
	}

	b, err := h.Service.CreateBearer(r.Context(), userID(r), mileage.BearerInput{
		Name:        req.Name,
		Code:        req.Code,
		Active:      req.Active,
		SortOrder:   req.SortOrder,
		SplitRole:   mileage.SplitRole(req.SplitRole),
		InitialRate: entry,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBearerDTO(b))
}

// GetBearer returns a single cost bearer with its rate history.
func (h *Handler) GetBearer(w http.ResponseWriter, r *http.Request) {
	id := mileage.BearerID(chi.URLParam(r, "id"))
	b, err := h.Service.GetBearer(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBearerDTO(b))
}

// UpdateBearer replaces a bearer's fields. Rates are managed through the
// rates subresource and stay untouched here.
func (h *Handler) UpdateBearer(w http.ResponseWriter, r *http.Request) {
	var req BearerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON: "+err.Error())
		return
	}

	id := mileage.BearerID(chi.URLParam(r, "id"))
	b, err := h.Service.UpdateBearer(r.Context(), userID(r), id, mileage.BearerInput{
		Name:      req.Name,
		Code:      req.Code,
		Active:    req.Active,
		SortOrder: req.SortOrder,
		SplitRole: mileage.SplitRole(req.SplitRole),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBearerDTO(b))
}

// DeleteBearer deletes a bearer unless trips still reference it.
func (h *Handler) DeleteBearer(w http.ResponseWriter, r *http.Request) {
	id := mileage.BearerID(chi.URLParam(r, "id"))
	if err := h.Service.DeleteBearer(r.Context(), userID(r), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

// SetBearerRate inserts or replaces a rate entry for a bearer.
func (h *Handler) SetBearerRate(w http.ResponseWriter, r *http.Request) {
	h.setRate(w, r, chi.URLParam(r, "id"))
}

// DeleteBearerRate removes a rate entry from a bearer, never the last one.
func (h *Handler) DeleteBearerRate(w http.ResponseWriter, r *http.Request) {
	h.deleteRate(w, r, chi.URLParam(r, "id"))
}

// GetPassengerRates returns the passenger-carry rate history.
func (h *Handler) GetPassengerRates(w http.ResponseWriter, r *http.Request) {
	hist, err := h.Service.PassengerRates(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := toRateHistoryDTO(hist)
	if dtos == nil {
		dtos = []RateEntryDTO{}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SetPassengerRate inserts or replaces a passenger-carry rate entry.
func (h *Handler) SetPassengerRate(w http.ResponseWriter, r *http.Request) {
	h.setRate(w, r, mileage.SubjectPassenger)
}

// DeletePassengerRate removes a passenger-carry rate entry, never the last.
func (h *Handler) DeletePassengerRate(w http.ResponseWriter, r *http.Request) {
	h.deleteRate(w, r, mileage.SubjectPassenger)
}

func (h *Handler) setRate(w http.ResponseWriter, r *http.Request, subject string) {
	var req SetRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON: "+err.Error())
		return
	}
	entry, ok := h.decodeRateEntry(w, req.EffectiveFrom, req.Amount)
	if !ok {
		return
	}
	if err := h.Service.SetRate(r.Context(), userID(r), subject, entry); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RateEntryDTO{
		EffectiveFrom: entry.EffectiveFrom.String(),
		Amount:        entry.Amount.String(),
	})
}

func (h *Handler) deleteRate(w http.ResponseWriter, r *http.Request, subject string) {
	var req DeleteRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON: "+err.Error())
		return
	}
	effectiveFrom, err := parseOptionalDate(req.EffectiveFrom)
	if err != nil || effectiveFrom.IsZero() {
		writeBadRequest(w, "Invalid effective_from: "+req.EffectiveFrom)
		return
	}
	if err := h.Service.DeleteRate(r.Context(), userID(r), subject, effectiveFrom); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeRateEntry(w http.ResponseWriter, effectiveFrom, amount string) (mileage.RateEntry, bool) {
	from, err := parseOptionalDate(effectiveFrom)
	if err != nil {
		writeBadRequest(w, "Invalid effective_from: "+effectiveFrom)
		return mileage.RateEntry{}, false
	}
	amt, err := parseOptionalDecimal(amount)
	if err != nil {
		writeBadRequest(w, "Invalid amount: "+err.Error())
		return mileage.RateEntry{}, false
	}
	return mileage.RateEntry{EffectiveFrom: from, Amount: amt}, true
}

// =============================================================================
// REPORT & STATUS HANDLERS
// =============================================================================

// YearlyReport returns per-bearer totals for a calendar year.
func (h *Handler) YearlyReport(w http.ResponseWriter, r *http.Request) {
	year, ok := h.pathInt(w, r, "year")
	if !ok {
		return
	}
	report, err := h.Service.YearlyReport(r.Context(), userID(r), year)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toYearlyReportDTO(report))
}

// MonthlyReport returns valued trips, per-bearer totals, and submission
// statuses for a calendar month.
func (h *Handler) MonthlyReport(w http.ResponseWriter, r *http.Request) {
	year, ok := h.pathInt(w, r, "year")
	if !ok {
		return
	}
	month, ok := h.pathInt(w, r, "month")
	if !ok {
		return
	}
	report, err := h.Service.MonthlyReport(r.Context(), userID(r), year, month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthlyReportDTO(report))
}

// TransitionStatus applies a submission-status action (submit, receive,
// reset) to one subject of a monthly report.
func (h *Handler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	year, ok := h.pathInt(w, r, "year")
	if !ok {
		return
	}
	month, ok := h.pathInt(w, r, "month")
	if !ok {
		return
	}

	var req TransitionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON: "+err.Error())
		return
	}
	if req.Subject == "" {
		writeBadRequest(w, "subject is required")
		return
	}
	date, err := parseOptionalDate(req.Date)
	if err != nil {
		writeBadRequest(w, "Invalid date: "+req.Date)
		return
	}

	action := mileage.StatusAction(req.Action)
	if !action.Valid() {
		writeBadRequest(w, "Unknown action: "+req.Action)
		return
	}

	if err := h.Service.TransitionStatus(r.Context(), userID(r), year, month, req.Subject, action, date); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := chi.URLParam(r, name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeBadRequest(w, "Invalid "+name+": "+raw)
		return 0, false
	}
	return v, true
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case mileage.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, mileage.ErrInvalidTransition),
		errors.Is(err, mileage.ErrConstraintViolation):
		status = http.StatusConflict
	case errors.Is(err, mileage.ErrNoApplicableRate):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, mileage.ErrValidation),
		errors.Is(err, mileage.ErrNoWorkSite),
		errors.Is(err, mileage.ErrSplitBearerNotConfigured):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
