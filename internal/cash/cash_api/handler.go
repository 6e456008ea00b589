package cash_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"ms-pos/internal/apperr"
	"ms-pos/internal/auth"
	"ms-pos/internal/cash"
	"ms-pos/internal/logger"
	"ms-pos/internal/models"
	"ms-pos/internal/tenant"
	"ms-pos/internal/utils"
)

type Handler struct {
	CashService *cash.CashService
	Logger      *logger.Logger
}

func NewHandler(cashService *cash.CashService, log *logger.Logger) *Handler {
	return &Handler{CashService: cashService, Logger: log}
}

func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())
	actor := auth.ActorFrom(r.Context())

	var body struct {
		OpeningBalance *decimal.Decimal `json:"opening_balance,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			utils.WriteError(w, "invalid request body", apperr.Validation("malformed JSON body"))
			return
		}
	}

	session, err := h.CashService.Open(r.Context(), tenantID, actor, body.OpeningBalance)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("OpenSession: %v", err))
		utils.WriteError(w, "could not open session", err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("session opened", session))
}

func (h *Handler) GetOpenSession(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())

	session, err := h.CashService.OpenSession(r.Context(), tenantID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOpenSession: %v", err))
		utils.WriteError(w, "could not look up open session", err)
		return
	}
	if session == nil {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("no open session", nil))
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("open session", session))
}

func (h *Handler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())
	actor := auth.ActorFrom(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	var body struct {
		Kind            models.MovementKind `json:"kind"`
		Amount          decimal.Decimal     `json:"amount"`
		PaymentMethodID string              `json:"payment_method_id"`
		Note            string              `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteError(w, "invalid request body", apperr.Validation("malformed JSON body"))
		return
	}

	movement, err := h.CashService.RecordMovement(r.Context(), tenantID, actor, sessionID, body.Kind, body.Amount, body.PaymentMethodID, body.Note)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("RecordMovement: %v", err))
		utils.WriteError(w, "could not record movement", err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("movement recorded", movement))
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())
	actor := auth.ActorFrom(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	var body struct {
		CountedBalance decimal.Decimal `json:"counted_balance"`
		Note           string          `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteError(w, "invalid request body", apperr.Validation("malformed JSON body"))
		return
	}

	session, err := h.CashService.Close(r.Context(), tenantID, actor, sessionID, body.CountedBalance, body.Note)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CloseSession: %v", err))
		utils.WriteError(w, "could not close session", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("session closed", session))
}

func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())
	actor := auth.ActorFrom(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	report, err := h.CashService.Reconciliation(r.Context(), tenantID, actor, sessionID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetReconciliation: %v", err))
		utils.WriteError(w, "could not build reconciliation", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("reconciliation", report))
}
