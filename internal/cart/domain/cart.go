package domain

import "time"

// FlatShippingFee is charged once per line that opted into shipping.
const FlatShippingFee = 49.0

type Cart struct {
	ID           string     `bson:"_id,omitempty" json:"id,omitempty"`
	UserID       string     `bson:"user_id" json:"user_id"`
	Items        []CartItem `bson:"items" json:"items"`
	Subtotal     float64    `bson:"subtotal" json:"subtotal"`
	ShippingCost float64    `bson:"shipping_cost" json:"shipping_cost"`
	Total        float64    `bson:"total" json:"total"`
	Version      int64      `bson:"version" json:"-"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy. Every caller mutates its own copy; the
// instance held by the cache or a concurrent reader stays untouched.
func (c *Cart) Clone() *Cart {
	copied := *c
	copied.Items = append([]CartItem(nil), c.Items...)
	return &copied
}

type CartItem struct {
	ProductID        string    `bson:"product_id" json:"product_id"`
	Quantity         int       `bson:"quantity" json:"quantity"`
	UnitPriceAtAdd   float64   `bson:"unit_price_at_add" json:"unit_price_at_add"`
	ShippingSelected bool      `bson:"shipping_selected" json:"shipping_selected"`
	AddedAt          time.Time `bson:"added_at" json:"added_at"`
}

// DeriveTotals recomputes subtotal, shipping cost and total from the
// items. Called before every persist so the stored totals always satisfy
// subtotal == Σ(unit_price_at_add × quantity) and
// total == subtotal + shipping_cost.
func (c *Cart) DeriveTotals() {
	var subtotal, shipping float64
	for _, item := range c.Items {
		subtotal += item.UnitPriceAtAdd * float64(item.Quantity)
		if item.ShippingSelected {
			shipping += FlatShippingFee
		}
	}
	c.Subtotal = subtotal
	c.ShippingCost = shipping
	c.Total = subtotal + shipping
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// FindItem returns the line for productID, or nil.
func (c *Cart) FindItem(productID string) *CartItem {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}
