package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/domain"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/repository"
)

// OrdersAPI is the order lifecycle surface the gateway exposes.
type OrdersAPI interface {
	GetOrder(ctx context.Context, orderNumber, requesterID string) (*domain.Order, error)
	ListOrders(ctx context.Context, q repository.ListQuery) ([]*domain.Order, *repository.Pagination, error)
	UpdateStatus(ctx context.Context, orderNumber, requesterID string, newStatus domain.Status, note, trackingNumber string, estimatedDelivery *time.Time) (*domain.Order, error)
	UpdateItemStatus(ctx context.Context, orderNumber, requesterID string, newStatus domain.Status, trackingNumber string, estimatedDelivery *time.Time) (*domain.Order, error)
	Cancel(ctx context.Context, orderNumber, requesterID, reason string) (*domain.Order, error)
	AddMessage(ctx context.Context, orderNumber, requesterID, recipientID, text string) (*domain.Order, error)
}

type OrdersHandler struct {
	orders OrdersAPI
}

func NewOrdersHandler(orders OrdersAPI) *OrdersHandler {
	return &OrdersHandler{orders: orders}
}

type UpdateStatusRequestDTO struct {
	Status            string     `json:"status"`
	Note              string     `json:"note,omitempty"`
	TrackingNumber    string     `json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	ItemsOnly         bool       `json:"items_only,omitempty"`
}

type CancelRequestDTO struct {
	Reason string `json:"reason,omitempty"`
}

type MessageRequestDTO struct {
	ToID string `json:"to_id"`
	Text string `json:"text"`
}

type ListOrdersResponseDTO struct {
	Orders     []*domain.Order        `json:"orders"`
	Pagination *repository.Pagination `json:"pagination"`
}

// GET /api/v1/orders?role=buyer&status=pending&page=1&page_size=20
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	q := repository.ListQuery{
		UserID:    userID,
		Role:      r.URL.Query().Get("role"),
		Status:    domain.Status(r.URL.Query().Get("status")),
		SortBy:    r.URL.Query().Get("sort_by"),
		SortOrder: r.URL.Query().Get("sort_order"),
	}
	if q.Role == "" {
		q.Role = "buyer"
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))

	orders, pagination, err := h.orders.ListOrders(r.Context(), q)
	if err != nil {
		handleError(w, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}

	respondJSON(w, http.StatusOK, ListOrdersResponseDTO{Orders: orders, Pagination: pagination})
}

// GET /api/v1/orders/{order_number}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orderNumber := chi.URLParam(r, "order_number")
	if orderNumber == "" {
		respondError(w, http.StatusBadRequest, "missing_order_number", "order_number is required")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderNumber, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// PATCH /api/v1/orders/{order_number}/status
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orderNumber := chi.URLParam(r, "order_number")
	if orderNumber == "" {
		respondError(w, http.StatusBadRequest, "missing_order_number", "order_number is required")
		return
	}

	var req UpdateStatusRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Status == "" {
		respondError(w, http.StatusBadRequest, "missing_status", "status is required")
		return
	}

	var order *domain.Order
	var err error
	if req.ItemsOnly {
		order, err = h.orders.UpdateItemStatus(r.Context(), orderNumber, userID,
			domain.Status(req.Status), req.TrackingNumber, req.EstimatedDelivery)
	} else {
		order, err = h.orders.UpdateStatus(r.Context(), orderNumber, userID,
			domain.Status(req.Status), req.Note, req.TrackingNumber, req.EstimatedDelivery)
	}
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// POST /api/v1/orders/{order_number}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orderNumber := chi.URLParam(r, "order_number")
	if orderNumber == "" {
		respondError(w, http.StatusBadRequest, "missing_order_number", "order_number is required")
		return
	}

	var req CancelRequestDTO
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by buyer"
	}

	order, err := h.orders.Cancel(r.Context(), orderNumber, userID, req.Reason)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// POST /api/v1/orders/{order_number}/messages
func (h *OrdersHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orderNumber := chi.URLParam(r, "order_number")
	if orderNumber == "" {
		respondError(w, http.StatusBadRequest, "missing_order_number", "order_number is required")
		return
	}

	var req MessageRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	order, err := h.orders.AddMessage(r.Context(), orderNumber, userID, req.ToID, req.Text)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}
