// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the allocation service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Shivanand-hulikatti/ticket-allocation/internal/lock"
	"github.com/Shivanand-hulikatti/ticket-allocation/internal/model"
	"github.com/Shivanand-hulikatti/ticket-allocation/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// EventHandler holds all HTTP handlers for the ticket allocation API.
type EventHandler struct {
	svc      *service.AllocationService
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.AllocationService, log logrus.FieldLogger) *EventHandler {
	return &EventHandler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// Routes mounts the event API on r.
func (h *EventHandler) Routes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/status", h.GetStatus)
			r.Get("/queue", h.ListWaiting)
			r.Post("/bookings", h.Book)
			r.Get("/bookings", h.ListBookings)
			r.Get("/bookings/{requesterId}", h.GetBooking)
			r.Delete("/bookings/{requesterId}", h.Cancel)
		})
	})
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeValid decodes the body into dst and runs struct validation.
// It writes the 400 response itself and reports whether to continue.
func (h *EventHandler) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
			}
			writeError(w, http.StatusBadRequest, "invalid request body: "+strings.Join(msgs, ", "))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeServiceError maps allocation errors to status codes. Storage
// failures are logged and answered with a generic message.
func (h *EventHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, model.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking not found")
	case errors.Is(err, model.ErrDuplicateBooking):
		writeError(w, http.StatusConflict, "you already have an active booking for this event")
	case errors.Is(err, lock.ErrSaturated):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "event is busy, retry later")
	case errors.Is(err, lock.ErrTimeout):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "timed out waiting for event, retry later")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller left before the event lock was granted. Nothing changed.
		h.log.WithError(err).WithField("path", r.URL.Path).Debug("request abandoned")
		writeError(w, http.StatusServiceUnavailable, "request cancelled before it could be served")
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	event, err := h.svc.InitializeEvent(r.Context(), req.Name, req.TotalTickets)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// GetStatus handles GET /events/{id}/status
func (h *EventHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetEventStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Book handles POST /events/{id}/bookings
// 201 either way; the booking status says confirmed or waiting.
func (h *EventHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req model.BookRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	booking, err := h.svc.BookTicket(r.Context(), chi.URLParam(r, "id"), req.RequesterID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// Cancel handles DELETE /events/{id}/bookings/{requesterId}
func (h *EventHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CancelBooking(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "requesterId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetBooking handles GET /events/{id}/bookings/{requesterId}
func (h *EventHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.svc.GetBooking(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "requesterId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// ListBookings handles GET /events/{id}/bookings
func (h *EventHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.svc.ListBookings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if bookings == nil {
		bookings = []model.Booking{}
	}
	writeJSON(w, http.StatusOK, bookings)
}

// ListWaiting handles GET /events/{id}/queue
func (h *EventHandler) ListWaiting(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListWaiting(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.WaitingQueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
