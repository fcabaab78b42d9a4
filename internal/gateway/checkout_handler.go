package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/checkout"
	orderdomain "github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/domain"
)

// CheckoutAPI runs the cart-to-order conversion.
type CheckoutAPI interface {
	CreateOrder(ctx context.Context, req *checkout.Request) (*orderdomain.Order, error)
}

type CheckoutHandler struct {
	checkout CheckoutAPI
}

func NewCheckoutHandler(c CheckoutAPI) *CheckoutHandler {
	return &CheckoutHandler{checkout: c}
}

type AddressDTO struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type CreateOrderRequestDTO struct {
	ShippingAddress AddressDTO `json:"shipping_address"`
	BillingAddress  AddressDTO `json:"billing_address"`
	PaymentMethod   string     `json:"payment_method"`
	Notes           string     `json:"notes,omitempty"`
}

// POST /api/v1/orders
func (h *CheckoutHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		respondError(w, http.StatusBadRequest, "missing_idempotency_key", "Idempotency-Key header is required")
		return
	}

	var req CreateOrderRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	order, err := h.checkout.CreateOrder(r.Context(), &checkout.Request{
		UserID:          userID,
		IdempotencyKey:  idempotencyKey,
		ShippingAddress: toAddress(req.ShippingAddress),
		BillingAddress:  toAddress(req.BillingAddress),
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
	})
	if err != nil {
		log.Printf("checkout failed request_id=%s user=%s: %v", getRequestID(r.Context()), userID, err)
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

func toAddress(dto AddressDTO) orderdomain.Address {
	return orderdomain.Address{
		Name:       dto.Name,
		Line1:      dto.Line1,
		Line2:      dto.Line2,
		City:       dto.City,
		State:      dto.State,
		PostalCode: dto.PostalCode,
		Country:    dto.Country,
	}
}
