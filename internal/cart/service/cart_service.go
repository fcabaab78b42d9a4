package service

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/cart/cache"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/cart/domain"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/cart/repository"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/catalog"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrProductUnavailable = errors.New("product is not available for sale")
	ErrItemNotFound       = errors.New("item not found in cart")
)

// staleRetries bounds the reload loop when a concurrent write for the
// same user invalidates a mutation's version.
const staleRetries = 3

type CartService struct {
	repo     repository.CartRepository
	cache    cache.CartCache
	products catalog.ProductReader
	sfg      singleflight.Group // Prevents cache stampede
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, products catalog.ProductReader) *CartService {
	return &CartService{
		repo:     repo,
		cache:    cache,
		products: products,
	}
}

func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {

		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil // cart is in cache
		}

		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Printf("cache get error: %v \n", err) // log cache error but continue
		}

		cart, errGet := s.repo.GetCart(ctx, userID)
		if errGet != nil && errors.Is(errGet, repository.ErrCartNotFound) {
			// Carts are created lazily on first access.
			return &domain.Cart{
				UserID:    userID,
				Items:     nil,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}, nil
		}
		if errGet != nil {
			return nil, errGet
		}

		// set cache
		go func() {
			errSet := s.cache.Set(context.Background(), userID, cart)
			if errSet != nil {
				log.Printf("cache set error: %v \n", errSet)
			}
		}()

		return cart, nil
	})

	if err != nil {
		return nil, err
	}

	// Coalesced callers all receive the same instance from singleflight;
	// hand each its own copy so a mutation never reaches into another
	// request's cart.
	return v.(*domain.Cart).Clone(), nil
}

// AddItem validates the product against the catalog, then either merges
// the quantity into an existing line or appends a new line carrying the
// current catalog price. The cart is not mutated on validation failure.
func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int, shippingSelected bool) (*domain.Cart, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	if !product.Sellable() {
		return nil, ErrProductUnavailable
	}

	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		if existing := cart.FindItem(productID); existing != nil {
			existing.Quantity += quantity
			existing.ShippingSelected = shippingSelected
			return nil
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:        productID,
			Quantity:         quantity,
			UnitPriceAtAdd:   product.Price,
			ShippingSelected: shippingSelected,
			AddedAt:          time.Now(),
		})
		return nil
	})
}

// UpdateQuantity sets a line's quantity. A quantity of zero or less
// removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, userID, productID)
	}

	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		item := cart.FindItem(productID)
		if item == nil {
			return ErrItemNotFound
		}
		item.Quantity = quantity
		return nil
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		found := false
		items := cart.Items[:0]
		for _, item := range cart.Items {
			if item.ProductID == productID {
				found = true
				continue
			}
			items = append(items, item)
		}
		if !found {
			return ErrItemNotFound
		}
		cart.Items = items
		return nil
	})
}

// ClearCart empties the cart but keeps the document.
func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	errClear := s.repo.ClearItems(ctx, userID)
	if errClear != nil && !errors.Is(errClear, repository.ErrCartNotFound) {
		log.Printf("repo clear cart error: %v \n", errClear)
		return errClear
	}

	s.invalidateCache(userID)
	return nil
}

// mutate runs apply on a freshly loaded copy of the user's cart and
// persists the result. A version conflict from a concurrent write for
// the same user reloads and reapplies; neither change is lost.
func (s *CartService) mutate(ctx context.Context, userID string, apply func(*domain.Cart) error) (*domain.Cart, error) {
	for try := 0; try < staleRetries; try++ {
		cart, err := s.GetCart(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := apply(cart); err != nil {
			return nil, err
		}

		updated, err := s.persist(ctx, cart)
		if errors.Is(err, repository.ErrStaleCart) {
			s.invalidateCache(userID)
			continue
		}
		return updated, err
	}
	return nil, repository.ErrStaleCart
}

// persist derives totals, writes the cart and invalidates the cache.
func (s *CartService) persist(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	cart.DeriveTotals()

	if err := s.repo.UpsertCart(ctx, cart); err != nil {
		if !errors.Is(err, repository.ErrStaleCart) {
			log.Printf("repo upsert cart error: %v \n", err)
		}
		return nil, err
	}

	s.invalidateCache(cart.UserID)
	return cart, nil
}

func (s *CartService) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	errInvalidate := s.cache.Delete(ctx, userID)
	if errInvalidate != nil {
		log.Printf("cache invalidate error: %v \n", errInvalidate)
	}
}
