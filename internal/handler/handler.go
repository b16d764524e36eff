// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/mpokorn/EventGo-backend/internal/model"
	"github.com/mpokorn/EventGo-backend/internal/repository"
	"github.com/mpokorn/EventGo-backend/internal/service"
)

// WaitlistHandler holds all HTTP handlers for the waitlist/ticket core.
type WaitlistHandler struct {
	waitlist   *service.WaitlistService
	refunds    *service.RefundService
	acceptance *service.AcceptanceService
	sweeper    *service.Sweeper
	ledger     *service.Ledger
	validate   *validator.Validate
	logger     *logrus.Logger
}

// NewWaitlistHandler constructs a WaitlistHandler.
func NewWaitlistHandler(
	waitlist *service.WaitlistService,
	refunds *service.RefundService,
	acceptance *service.AcceptanceService,
	sweeper *service.Sweeper,
	ledger *service.Ledger,
	logger *logrus.Logger,
) *WaitlistHandler {
	return &WaitlistHandler{
		waitlist:   waitlist,
		refunds:    refunds,
		acceptance: acceptance,
		sweeper:    sweeper,
		ledger:     ledger,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Routes mounts all handlers on a chi router.
func (h *WaitlistHandler) Routes(r chi.Router) {
	r.Route("/events/{eventID}/waitlist", func(r chi.Router) {
		r.Post("/", h.JoinWaitlist)
		r.Delete("/", h.LeaveWaitlist)
		r.Get("/position", h.Position)
	})
	r.Route("/tickets/{ticketID}", func(r chi.Router) {
		r.Get("/", h.GetTicket)
		r.Post("/return", h.SelfReturn)
		r.Post("/refund", h.OrganizerRefund)
	})
	r.Route("/offers/{transactionID}", func(r chi.Router) {
		r.Post("/accept", h.AcceptOffer)
		r.Post("/decline", h.DeclineOffer)
	})
}

// InternalRoutes mounts the ops endpoints. These are driven by the
// scheduler and operators, not end users, so they carry no user identity
// and must be mounted outside the Identity middleware.
func (h *WaitlistHandler) InternalRoutes(r chi.Router) {
	r.Route("/internal", func(r chi.Router) {
		r.Post("/sweep", h.RunSweep)
		r.Post("/ticket-types/{ticketTypeID}/recount", h.Recount)
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

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps the domain error taxonomy to HTTP statuses.
func (h *WaitlistHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrForbidden):
		writeError(w, http.StatusForbidden, "you do not own this resource")
	case errors.Is(err, repository.ErrInvalidState):
		writeError(w, http.StatusConflict, "operation not valid in the current state")
	case errors.Is(err, repository.ErrDuplicateEntry):
		writeError(w, http.StatusConflict, "you are already on the waitlist for this event")
	case errors.Is(err, repository.ErrNotSoldOut):
		writeError(w, http.StatusConflict, "event still has available tickets")
	case errors.Is(err, repository.ErrEventEnded):
		writeError(w, http.StatusGone, "event has already ended")
	case errors.Is(err, repository.ErrReservationExpired):
		writeError(w, http.StatusGone, "your 30-minute reservation window has expired; the offer has moved to the next person")
	default:
		h.logger.WithError(err).Error("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type idParams struct {
	ID     string `validate:"required,uuid4"`
	UserID string `validate:"required"`
}

func (h *WaitlistHandler) checkParams(w http.ResponseWriter, id, userID string) bool {
	if err := h.validate.Struct(idParams{ID: id, UserID: userID}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid identifier")
		return false
	}
	return true
}

// ─── Waitlist ─────────────────────────────────────────────────────────────────

// JoinWaitlist handles POST /events/{eventID}/waitlist
// Adds the caller to the event's waitlist, or resolves to an immediate
// offer when a returned ticket is already available.
func (h *WaitlistHandler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	userID := UserID(r.Context())
	if !h.checkParams(w, eventID, userID) {
		return
	}

	res, err := h.waitlist.Join(r.Context(), userID, eventID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// leaveRequest optionally names a specific entry; when absent the caller's
// own (event, user) entry is removed.
type leaveRequest struct {
	EntryID string `json:"entry_id,omitempty" validate:"omitempty,uuid4"`
}

// LeaveWaitlist handles DELETE /events/{eventID}/waitlist
func (h *WaitlistHandler) LeaveWaitlist(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	userID := UserID(r.Context())
	if !h.checkParams(w, eventID, userID) {
		return
	}

	var req leaveRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if err := h.validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid entry id")
			return
		}
	}

	var (
		deleted *model.WaitlistEntry
		err     error
	)
	if req.EntryID != "" {
		deleted, err = h.waitlist.Leave(r.Context(), req.EntryID)
	} else {
		deleted, err = h.waitlist.LeaveByUser(r.Context(), eventID, userID)
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

// Position handles GET /events/{eventID}/waitlist/position
func (h *WaitlistHandler) Position(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	userID := UserID(r.Context())
	if !h.checkParams(w, eventID, userID) {
		return
	}

	pos, err := h.waitlist.Position(r.Context(), eventID, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"position": pos})
}

// ─── Tickets ──────────────────────────────────────────────────────────────────

// GetTicket handles GET /tickets/{ticketID}
// Owners can inspect their ticket, including pending_return state.
func (h *WaitlistHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	userID := UserID(r.Context())
	if !h.checkParams(w, ticketID, userID) {
		return
	}

	ticket, err := h.refunds.GetOwnedTicket(r.Context(), ticketID, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// SelfReturn handles POST /tickets/{ticketID}/return
// The owner puts an active ticket up for transfer on a sold-out event.
func (h *WaitlistHandler) SelfReturn(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	userID := UserID(r.Context())
	if !h.checkParams(w, ticketID, userID) {
		return
	}

	res, err := h.refunds.SelfReturn(r.Context(), ticketID, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// OrganizerRefund handles POST /tickets/{ticketID}/refund
// The event organizer refunds an attendee's active ticket immediately.
func (h *WaitlistHandler) OrganizerRefund(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	userID := UserID(r.Context())
	if !h.checkParams(w, ticketID, userID) {
		return
	}

	res, err := h.refunds.OrganizerRefund(r.Context(), ticketID, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Offers ───────────────────────────────────────────────────────────────────

// AcceptOffer handles POST /offers/{transactionID}/accept
func (h *WaitlistHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")
	userID := UserID(r.Context())
	if !h.checkParams(w, transactionID, userID) {
		return
	}

	res, err := h.acceptance.Accept(r.Context(), transactionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeclineOffer handles POST /offers/{transactionID}/decline
func (h *WaitlistHandler) DeclineOffer(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")
	userID := UserID(r.Context())
	if !h.checkParams(w, transactionID, userID) {
		return
	}

	res, err := h.acceptance.Decline(r.Context(), transactionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Internal/ops ─────────────────────────────────────────────────────────────

// RunSweep handles POST /internal/sweep
// Triggers one synchronous expiration sweep pass.
func (h *WaitlistHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.Run(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Recount handles POST /internal/ticket-types/{ticketTypeID}/recount
// Repairs sold-counter drift from live ticket rows.
func (h *WaitlistHandler) Recount(w http.ResponseWriter, r *http.Request) {
	ticketTypeID := chi.URLParam(r, "ticketTypeID")
	if err := h.validate.Var(ticketTypeID, "required,uuid4"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid identifier")
		return
	}

	res, err := h.ledger.Recount(r.Context(), ticketTypeID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
