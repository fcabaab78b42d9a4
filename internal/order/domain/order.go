package domain

import (
	"errors"
	"time"
)

var (
	ErrNoItems        = errors.New("order must have at least one item")
	ErrInvalidStatus  = errors.New("unknown order status")
	ErrInvalidMove    = errors.New("status transition not allowed")
	ErrMissingAddress = errors.New("shipping and billing addresses are required")
)

type Address struct {
	Name       string `bson:"name" json:"name"`
	Line1      string `bson:"line1" json:"line1"`
	Line2      string `bson:"line2,omitempty" json:"line2,omitempty"`
	City       string `bson:"city" json:"city"`
	State      string `bson:"state" json:"state"`
	PostalCode string `bson:"postal_code" json:"postal_code"`
	Country    string `bson:"country" json:"country"`
}

func (a Address) Empty() bool {
	return a.Line1 == "" && a.City == "" && a.PostalCode == ""
}

type PaymentDetails struct {
	Method        string  `bson:"method" json:"method"`
	Status        string  `bson:"status" json:"status"`
	Amount        float64 `bson:"amount" json:"amount"`
	TransactionID string  `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
}

type Totals struct {
	Subtotal     float64 `bson:"subtotal" json:"subtotal"`
	ShippingCost float64 `bson:"shipping_cost" json:"shipping_cost"`
	Tax          float64 `bson:"tax" json:"tax"`
	Total        float64 `bson:"total" json:"total"`
}

type Item struct {
	ProductID         string     `bson:"product_id" json:"product_id"`
	SellerID          string     `bson:"seller_id" json:"seller_id"`
	Title             string     `bson:"title" json:"title"`
	Quantity          int        `bson:"quantity" json:"quantity"`
	PriceSnapshot     float64    `bson:"price_snapshot" json:"price_snapshot"`
	ShippingCost      float64    `bson:"shipping_cost" json:"shipping_cost"`
	Status            Status     `bson:"status" json:"status"`
	TrackingNumber    string     `bson:"tracking_number,omitempty" json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time `bson:"estimated_delivery,omitempty" json:"estimated_delivery,omitempty"`
	// StockReleased flips once this line's reservation went back to the
	// ledger after the item was cancelled.
	StockReleased bool `bson:"stock_released" json:"-"`
}

type TimelineEntry struct {
	Status    Status    `bson:"status" json:"status"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Note      string    `bson:"note" json:"note"`
	ActorID   string    `bson:"actor_id" json:"actor_id"`
}

type Message struct {
	FromID    string    `bson:"from_id" json:"from_id"`
	ToID      string    `bson:"to_id" json:"to_id"`
	Text      string    `bson:"text" json:"text"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Order is keyed by its human-readable order number. Identity, line items
// and price snapshots are immutable after creation; only statuses, the
// timeline and the communication log change.
type Order struct {
	OrderNumber     string          `bson:"_id" json:"order_number"`
	BuyerID         string          `bson:"buyer_id" json:"buyer_id"`
	Items           []Item          `bson:"items" json:"items"`
	ShippingAddress Address         `bson:"shipping_address" json:"shipping_address"`
	BillingAddress  Address         `bson:"billing_address" json:"billing_address"`
	Payment         PaymentDetails  `bson:"payment" json:"payment"`
	Totals          Totals          `bson:"totals" json:"totals"`
	Status          Status          `bson:"status" json:"status"`
	Timeline        []TimelineEntry `bson:"timeline" json:"timeline"`
	Communication   []Message       `bson:"communication" json:"communication"`
	Notes           string          `bson:"notes,omitempty" json:"notes,omitempty"`
	StockReleased   bool            `bson:"stock_released" json:"-"`
	// Version guards every load-then-write against concurrent updates of
	// the same order. The store rejects a write whose version no longer
	// matches.
	Version   int64     `bson:"version" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NewOrder builds a pending order with computed totals and the creation
// timeline entry. Required fields are validated here, not at storage
// time.
func NewOrder(orderNumber, buyerID string, items []Item, shipping, billing Address, paymentMethod, notes string, now time.Time) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if shipping.Empty() || billing.Empty() {
		return nil, ErrMissingAddress
	}

	var subtotal, shippingCost float64
	for i := range items {
		items[i].Status = StatusPending
		subtotal += items[i].PriceSnapshot * float64(items[i].Quantity)
		shippingCost += items[i].ShippingCost
	}

	totals := Totals{
		Subtotal:     subtotal,
		ShippingCost: shippingCost,
		Tax:          0,
		Total:        subtotal + shippingCost,
	}

	return &Order{
		OrderNumber:     orderNumber,
		BuyerID:         buyerID,
		Items:           items,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		Payment: PaymentDetails{
			Method: paymentMethod,
			Status: "pending",
			Amount: totals.Total,
		},
		Totals: totals,
		Status: StatusPending,
		Timeline: []TimelineEntry{{
			Status:    StatusPending,
			Timestamp: now,
			Note:      "Order created",
			ActorID:   buyerID,
		}},
		Communication: []Message{},
		Notes:         notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ApplyStatus moves the order to next, appends exactly one timeline entry
// and cascades the change onto eligible items. The caller persists the
// result in a single write.
func (o *Order) ApplyStatus(next Status, note, actorID string, now time.Time) error {
	if !next.IsValid() {
		return ErrInvalidStatus
	}
	if !CanTransition(o.Status, next) {
		return ErrInvalidMove
	}

	o.Status = next
	o.Timeline = append(o.Timeline, TimelineEntry{
		Status:    next,
		Timestamp: now,
		Note:      note,
		ActorID:   actorID,
	})
	o.UpdatedAt = now

	if cascades(next) {
		for i := range o.Items {
			if itemAdvances(o.Items[i].Status, next) {
				o.Items[i].Status = next
			}
		}
	}
	return nil
}

// ApplyItemStatus moves only sellerID's items to next, leaving the other
// sellers' items alone. The order-level status is not cascaded; partial
// fulfillment keeps the order at its current status until an order-wide
// update is made.
func (o *Order) ApplyItemStatus(sellerID string, next Status, trackingNumber string, estimatedDelivery *time.Time, now time.Time) (int, error) {
	if !ValidItemStatus(next) {
		return 0, ErrInvalidStatus
	}

	moved := 0
	for i := range o.Items {
		item := &o.Items[i]
		if item.SellerID != sellerID || item.Status.IsTerminal() {
			continue
		}
		if !itemAdvances(item.Status, next) && next != StatusReturned {
			continue
		}
		if next == StatusReturned && item.Status != StatusDelivered {
			continue
		}
		item.Status = next
		if trackingNumber != "" {
			item.TrackingNumber = trackingNumber
		}
		if estimatedDelivery != nil {
			item.EstimatedDelivery = estimatedDelivery
		}
		moved++
	}
	if moved > 0 {
		o.UpdatedAt = now
	}
	return moved, nil
}

// AppendMessage adds to the communication log. No status or stock side
// effects.
func (o *Order) AppendMessage(fromID, toID, text string, now time.Time) {
	o.Communication = append(o.Communication, Message{
		FromID:    fromID,
		ToID:      toID,
		Text:      text,
		Timestamp: now,
	})
	o.UpdatedAt = now
}

// HasSeller reports whether sellerID sells any item on the order.
func (o *Order) HasSeller(sellerID string) bool {
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

// VisibleTo reports whether userID may read the order.
func (o *Order) VisibleTo(userID string) bool {
	return o.BuyerID == userID || o.HasSeller(userID)
}
