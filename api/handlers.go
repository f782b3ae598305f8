/*
handlers.go - HTTP API handlers for the intake ledger

PURPOSE:
  Exposes the Tracker, the replay Engine and the StatsService via REST.
  Handles HTTP request/response and JSON serialization; every rule lives
  in the intake package.

ENDPOINTS (all under /api/owners/{owner}):
  Food items:
    GET    /food-items                 List (?status=active|settled)
    POST   /food-items                 Prepare
    GET    /food-items/{id}            Get one
    DELETE /food-items/{id}            Delete item and its events
    POST   /food-items/{id}/water      Add water
    POST   /food-items/{id}/food       Add food
    POST   /food-items/{id}/remaining  Record remaining
    POST   /food-items/{id}/settle     Settle
    POST   /food-items/{id}/replay     Replay one item

  Events:
    GET    /events                     List (?type=&related_id=&from=&to=)
    POST   /observations               Record an independent observation
    PUT    /events/{id}                Correct raw fields
    DELETE /events/{id}                Delete

  Stats / maintenance:
    GET    /stats/daily                ?date=YYYY-MM-DD&days=N
    POST   /replay                     Replay all of the owner's items
    GET    /verify                     Count decomposed consumption events

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, negative consumption
  - 404: Unknown id or another owner's id
  - 409: Settled item, non-editable event
  - 503: Store unavailable
  - 500: Anything else

SECURITY NOTE:
  No authentication. The owner in the path is trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/intake-ledger/intake"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   intake.Store
	Tracker *intake.Tracker
	Engine  *intake.Engine
	Stats   *intake.StatsService
	Logger  *slog.Logger
}

// NewHandler creates a new handler with the given collaborators.
func NewHandler(store intake.Store, tracker *intake.Tracker, engine *intake.Engine, stats *intake.StatsService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Store: store, Tracker: tracker, Engine: engine, Stats: stats, Logger: logger}
}

// =============================================================================
// FOOD ITEM HANDLERS
// =============================================================================

// ListFoodTypes returns every food type with its bound-water fraction.
func (h *Handler) ListFoodTypes(w http.ResponseWriter, r *http.Request) {
	types := intake.FoodTypes()
	dtos := make([]FoodTypeDTO, len(types))
	for i, t := range types {
		dtos[i] = FoodTypeDTO{ID: string(t), BoundWaterFraction: t.BoundWaterFraction()}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListFoodItems(w http.ResponseWriter, r *http.Request) {
	filter := intake.FoodItemFilter{Status: intake.Status(r.URL.Query().Get("status"))}
	var err error
	if filter.From, filter.To, err = parseRange(r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid time range", err)
		return
	}

	items, err := h.Tracker.FoodItems(r.Context(), owner(r), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list food items", err)
		return
	}
	dtos := make([]FoodItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toFoodItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) PrepareFoodItem(w http.ResponseWriter, r *http.Request) {
	var req PrepareRequest
	if !decode(w, r, &req) {
		return
	}
	tr, err := h.Tracker.Prepare(r.Context(), intake.PrepareInput{
		Owner:         owner(r),
		FoodType:      intake.FoodType(req.FoodType),
		FoodName:      req.FoodName,
		InitialMass:   req.InitialMass,
		InitialWater:  req.InitialWater,
		At:            timeOrZero(req.At),
		FullyConsumed: req.FullyConsumed,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to prepare food item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransitionDTO(tr))
}

func (h *Handler) GetFoodItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Tracker.FoodItem(r.Context(), owner(r), foodItemID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to get food item", err)
		return
	}
	writeJSON(w, http.StatusOK, toFoodItemDTO(item))
}

func (h *Handler) DeleteFoodItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Tracker.DeleteFoodItem(r.Context(), owner(r), foodItemID(r)); err != nil {
		h.writeDomainError(w, "Failed to delete food item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddWater(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	tr, err := h.Tracker.AddWater(r.Context(), owner(r), foodItemID(r), req.Amount, timeOrZero(req.At))
	h.writeTransition(w, "Failed to add water", tr, err)
}

func (h *Handler) AddFood(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	tr, err := h.Tracker.AddFood(r.Context(), owner(r), foodItemID(r), req.Amount, timeOrZero(req.At))
	h.writeTransition(w, "Failed to add food", tr, err)
}

func (h *Handler) RecordRemaining(w http.ResponseWriter, r *http.Request) {
	var req RemainingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ObservedTotal == nil {
		writeError(w, http.StatusBadRequest, "observed_total is required", nil)
		return
	}
	tr, err := h.Tracker.RecordRemaining(r.Context(), owner(r), foodItemID(r), *req.ObservedTotal, timeOrZero(req.At))
	h.writeTransition(w, "Failed to record remaining", tr, err)
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var req RemainingRequest
	if !decode(w, r, &req) {
		return
	}
	tr, err := h.Tracker.Settle(r.Context(), owner(r), foodItemID(r), req.ObservedTotal, timeOrZero(req.At))
	h.writeTransition(w, "Failed to settle", tr, err)
}

func (h *Handler) ReplayFoodItem(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.ReplayItem(r.Context(), owner(r), foodItemID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to replay food item", err)
		return
	}
	writeJSON(w, http.StatusOK, toReplayReportDTO(report))
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := intake.EventFilter{RelatedID: intake.FoodItemID(q.Get("related_id"))}
	for _, t := range q["type"] {
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Types = append(filter.Types, intake.EventType(part))
			}
		}
	}
	var err error
	if filter.From, filter.To, err = parseRange(r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid time range", err)
		return
	}

	events, err := h.Tracker.Events(r.Context(), owner(r), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list events", err)
		return
	}
	dtos := make([]EventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toEventDTO(ev)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RecordObservation(w http.ResponseWriter, r *http.Request) {
	var req ObservationRequest
	if !decode(w, r, &req) {
		return
	}
	t := intake.EventType(req.Type)
	if !t.Valid() || t.IsLinked() {
		writeError(w, http.StatusBadRequest, "Unknown observation type: "+req.Type, nil)
		return
	}
	payload, err := intake.DecodePayload(t, req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payload", err)
		return
	}
	ev, err := h.Tracker.RecordObservation(r.Context(), owner(r), timeOrZero(req.At), payload)
	if err != nil {
		h.writeDomainError(w, "Failed to record observation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(ev))
}

func (h *Handler) CorrectEvent(w http.ResponseWriter, r *http.Request) {
	var req CorrectionRequest
	if !decode(w, r, &req) {
		return
	}
	id := intake.EventID(chi.URLParam(r, "id"))

	var c intake.Correction
	c.Timestamp = req.Timestamp
	if len(req.Payload) > 0 {
		current, err := h.Store.GetEvent(r.Context(), owner(r), id)
		if err != nil {
			h.writeDomainError(w, "Failed to get event", err)
			return
		}
		payload, err := intake.DecodePayload(current.Type, req.Payload)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payload", err)
			return
		}
		c.Payload = payload
	}

	ev, err := h.Tracker.CorrectEvent(r.Context(), owner(r), id, c)
	if err != nil {
		h.writeDomainError(w, "Failed to correct event", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(ev))
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := intake.EventID(chi.URLParam(r, "id"))
	if err := h.Tracker.DeleteEvent(r.Context(), owner(r), id); err != nil {
		h.writeDomainError(w, "Failed to delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// STATS AND MAINTENANCE
// =============================================================================

func (h *Handler) DailyStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := h.Stats.Location

	day := time.Now().In(loc)
	if s := q.Get("date"); s != "" {
		parsed, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (expected YYYY-MM-DD)", err)
			return
		}
		day = parsed
	}
	days := 1
	if s := q.Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 366 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 366", err)
			return
		}
		days = n
	}

	summaries, err := h.Stats.Daily(r.Context(), owner(r), day, days)
	if err != nil {
		h.writeDomainError(w, "Failed to compute stats", err)
		return
	}
	dtos := make([]SummaryDTO, len(summaries))
	for i, s := range summaries {
		dtos[i] = toSummaryDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ReplayOwner(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.ReplayOwner(r.Context(), owner(r))
	if err != nil {
		h.writeDomainError(w, "Failed to replay", err)
		return
	}
	writeJSON(w, http.StatusOK, toReplayReportDTO(report))
}

func (h *Handler) ReplayAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.ReplayAll(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to replay", err)
		return
	}
	writeJSON(w, http.StatusOK, toReplayReportDTO(report))
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	v, err := h.Engine.Verify(r.Context(), owner(r))
	if err != nil {
		h.writeDomainError(w, "Failed to verify", err)
		return
	}
	writeJSON(w, http.StatusOK, VerificationDTO{
		WithDecomposition:    v.WithDecomposition,
		WithoutDecomposition: v.WithoutDecomposition,
		Complete:             v.Complete(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func owner(r *http.Request) intake.OwnerID {
	return intake.OwnerID(chi.URLParam(r, "owner"))
}

func foodItemID(r *http.Request) intake.FoodItemID {
	return intake.FoodItemID(chi.URLParam(r, "id"))
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// parseRange reads RFC 3339 ?from= and ?to= query parameters.
func parseRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			return
		}
	}
	if s := q.Get("to"); s != "" {
		to, err = time.Parse(time.RFC3339, s)
	}
	return
}

// decode reads a JSON body into dst. An empty body leaves dst zero.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func (h *Handler) writeTransition(w http.ResponseWriter, message string, tr intake.Transition, err error) {
	if err != nil {
		h.writeDomainError(w, message, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionDTO(tr))
}

// writeDomainError maps intake error classes to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case intake.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, intake.ErrAlreadySettled), errors.Is(err, intake.ErrEventNotEditable):
		writeError(w, http.StatusConflict, message, err)
	case intake.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case intake.IsRetryable(err):
		h.Logger.Error(message, "error", err)
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.Logger.Error(message, "error", err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decimalPtr is used by scenario loaders.
func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
