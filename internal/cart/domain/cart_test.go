package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTotals(t *testing.T) {
	cart := &Cart{
		UserID: "user123",
		Items: []CartItem{
			{ProductID: "p1", Quantity: 2, UnitPriceAtAdd: 100, ShippingSelected: true},
			{ProductID: "p2", Quantity: 3, UnitPriceAtAdd: 50, ShippingSelected: false},
		},
	}

	cart.DeriveTotals()

	assert.Equal(t, 350.0, cart.Subtotal)
	assert.Equal(t, FlatShippingFee, cart.ShippingCost)
	assert.Equal(t, 350.0+FlatShippingFee, cart.Total)
}

func TestDeriveTotals_EmptyCart(t *testing.T) {
	cart := &Cart{UserID: "user123"}
	cart.DeriveTotals()

	assert.Zero(t, cart.Subtotal)
	assert.Zero(t, cart.ShippingCost)
	assert.Zero(t, cart.Total)
	assert.True(t, cart.IsEmpty())
}

func TestFindItem(t *testing.T) {
	cart := &Cart{
		Items: []CartItem{
			{ProductID: "p1", Quantity: 1},
			{ProductID: "p2", Quantity: 2},
		},
	}

	item := cart.FindItem("p2")
	assert.NotNil(t, item)
	assert.Equal(t, 2, item.Quantity)

	assert.Nil(t, cart.FindItem("missing"))
}
