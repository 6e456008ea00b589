package order_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"ms-pos/internal/apperr"
	"ms-pos/internal/auth"
	"ms-pos/internal/logger"
	"ms-pos/internal/models"
	"ms-pos/internal/order"
	"ms-pos/internal/tenant"
	"ms-pos/internal/utils"
)

type Handler struct {
	OrderService *order.OrderService
	Logger       *logger.Logger
}

func NewHandler(orderService *order.OrderService, log *logger.Logger) *Handler {
	return &Handler{OrderService: orderService, Logger: log}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())
	actor := auth.ActorFrom(r.Context())

	var req order.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateOrder: failed to decode request body: %v", err))
		utils.WriteError(w, "invalid request body", apperr.Validation("malformed JSON body"))
		return
	}

	created, err := h.OrderService.Create(r.Context(), tenantID, actor, req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateOrder: %v", err))
		utils.WriteError(w, "could not create order", err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("order created", created))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())

	filter := order.ListFilter{
		Status: models.OrderStatus(r.URL.Query().Get("status")),
		Mode:   models.DeliveryMode(r.URL.Query().Get("type")),
		Search: r.URL.Query().Get("search"),
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			utils.WriteError(w, "invalid filter", apperr.Validation("from must be YYYY-MM-DD"))
			return
		}
		filter.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			utils.WriteError(w, "invalid filter", apperr.Validation("to must be YYYY-MM-DD"))
			return
		}
		// Inclusive end date.
		filter.To = t.Add(24 * time.Hour)
	}

	orders, err := h.OrderService.List(r.Context(), tenantID, filter)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListOrders: %v", err))
		utils.WriteError(w, "could not list orders", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("orders", orders))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())
	orderID := chi.URLParam(r, "orderId")

	o, err := h.OrderService.Get(r.Context(), tenantID, orderID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOrder: %v", err))
		utils.WriteError(w, "could not load order", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("order", o))
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())
	actor := auth.ActorFrom(r.Context())
	orderID := chi.URLParam(r, "orderId")

	var body struct {
		Status models.OrderStatus `json:"status"`
		Force  bool               `json:"force,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteError(w, "invalid request body", apperr.Validation("malformed JSON body"))
		return
	}

	updated, err := h.OrderService.SetStatus(r.Context(), tenantID, actor, orderID, body.Status, body.Force)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("UpdateStatus: %v", err))
		utils.WriteError(w, "could not update status", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("status updated", updated))
}

func (h *Handler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())
	actor := auth.ActorFrom(r.Context())
	orderID := chi.URLParam(r, "orderId")

	var body struct {
		Amount          decimal.Decimal `json:"amount"`
		PaymentMethodID string          `json:"payment_method_id"`
		Note            string          `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteError(w, "invalid request body", apperr.Validation("malformed JSON body"))
		return
	}

	result, err := h.OrderService.RegisterPayment(r.Context(), tenantID, actor, orderID, body.Amount, body.PaymentMethodID, body.Note)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("RegisterPayment: %v", err))
		utils.WriteError(w, "could not register payment", err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("payment registered", result))
}

func (h *Handler) AddItems(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())
	actor := auth.ActorFrom(r.Context())
	orderID := chi.URLParam(r, "orderId")

	var body struct {
		Items []order.ItemRequest `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteError(w, "invalid request body", apperr.Validation("malformed JSON body"))
		return
	}

	updated, err := h.OrderService.AddItems(r.Context(), tenantID, actor, orderID, body.Items)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("AddItems: %v", err))
		utils.WriteError(w, "could not add items", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("items added", updated))
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())
	actor := auth.ActorFrom(r.Context())
	orderID := chi.URLParam(r, "orderId")

	if err := h.OrderService.Delete(r.Context(), tenantID, actor, orderID); err != nil {
		h.Logger.Error("API", fmt.Sprintf("DeleteOrder: %v", err))
		utils.WriteError(w, "could not delete order", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
