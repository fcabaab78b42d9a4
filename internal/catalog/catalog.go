package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrProductNotFound = errors.New("product not found")

type ProductStatus string

const (
	StatusActive   ProductStatus = "active"
	StatusInactive ProductStatus = "inactive"
	StatusSoldOut  ProductStatus = "sold_out"
)

type Product struct {
	ID        string        `bson:"_id,omitempty"`
	SellerID  string        `bson:"seller_id"`
	Title     string        `bson:"title"`
	Price     float64       `bson:"price"`
	Stock     int           `bson:"stock"`
	Status    ProductStatus `bson:"status"`
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

func (p *Product) Sellable() bool {
	return p.Status == StatusActive
}

// ProductReader is the slice of the catalog the engine consumes. The
// catalog service owns product CRUD; the engine only reads status, price
// and seller for snapshotting.
type ProductReader interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
}
