package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/apperr"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/domain"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/repository"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/stock"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/pkg/logging"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/pkg/metrics"
)

const (
	releaseRetries = 3
	// casRetries bounds the reload loop when a write loses the store's
	// version check to a concurrent update of the same order.
	casRetries = 3
)

// OrderService runs the order state machine: status transitions, the
// audit timeline, cancellation stock release and the communication log.
// Every mutation is load-then-write guarded by the order's version, so
// two concurrent updates serialize instead of overwriting each other.
type OrderService struct {
	repo    repository.OrderRepository
	ledger  stock.Ledger
	metrics *metrics.EngineMetrics
	now     func() time.Time
}

func NewOrderService(repo repository.OrderRepository, ledger stock.Ledger, m *metrics.EngineMetrics) *OrderService {
	return &OrderService{
		repo:    repo,
		ledger:  ledger,
		metrics: m,
		now:     time.Now,
	}
}

func (s *OrderService) GetOrder(ctx context.Context, orderNumber, requesterID string) (*domain.Order, error) {
	order, err := s.load(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if !order.VisibleTo(requesterID) {
		return nil, apperr.Authorization("requester is not a party to this order")
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, q repository.ListQuery) ([]*domain.Order, *repository.Pagination, error) {
	if q.Role != "buyer" && q.Role != "seller" {
		return nil, nil, apperr.Validation("role must be buyer or seller")
	}
	if q.Status != "" && !q.Status.IsValid() {
		return nil, nil, apperr.Validation("unknown status filter")
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}

	orders, pag, err := s.repo.ListOrders(ctx, q)
	if err != nil {
		return nil, nil, apperr.Transient("failed to list orders", err)
	}
	return orders, pag, nil
}

// UpdateStatus is the order-wide transition: one timeline entry, the item
// cascade, and for cancellations the stock release compensation. The
// requester must sell on the order.
func (s *OrderService) UpdateStatus(ctx context.Context, orderNumber, requesterID string, newStatus domain.Status, note, trackingNumber string, estimatedDelivery *time.Time) (*domain.Order, error) {
	for try := 0; try < casRetries; try++ {
		order, err := s.load(ctx, orderNumber)
		if err != nil {
			return nil, err
		}
		if !order.HasSeller(requesterID) {
			return nil, apperr.Authorization("only a seller on the order can update its status")
		}

		if err := order.ApplyStatus(newStatus, note, requesterID, s.now()); err != nil {
			return nil, mapDomainErr(err)
		}

		if trackingNumber != "" || estimatedDelivery != nil {
			for i := range order.Items {
				if order.Items[i].SellerID != requesterID {
					continue
				}
				if trackingNumber != "" {
					order.Items[i].TrackingNumber = trackingNumber
				}
				if estimatedDelivery != nil {
					order.Items[i].EstimatedDelivery = estimatedDelivery
				}
			}
		}

		if newStatus == domain.StatusCancelled {
			updated, err := s.persistCancellation(ctx, order)
			if errors.Is(err, repository.ErrStaleOrder) {
				continue
			}
			return updated, err
		}

		err = s.repo.UpdateOrder(ctx, order, nil)
		if errors.Is(err, repository.ErrStaleOrder) {
			continue
		}
		if err != nil {
			return nil, apperr.Transient("failed to persist status update", err)
		}
		s.countTransition(newStatus)
		return order, nil
	}
	return nil, apperr.Conflict("order was modified concurrently, retry")
}

// UpdateItemStatus advances only the requesting seller's items. Partial
// fulfillment never runs the order-wide cascade; cancelling releases the
// cancelled lines' stock.
func (s *OrderService) UpdateItemStatus(ctx context.Context, orderNumber, requesterID string, newStatus domain.Status, trackingNumber string, estimatedDelivery *time.Time) (*domain.Order, error) {
	for try := 0; try < casRetries; try++ {
		order, err := s.load(ctx, orderNumber)
		if err != nil {
			return nil, err
		}
		if !order.HasSeller(requesterID) {
			return nil, apperr.Authorization("only a seller on the order can update item statuses")
		}

		moved, err := order.ApplyItemStatus(requesterID, newStatus, trackingNumber, estimatedDelivery, s.now())
		if err != nil {
			return nil, mapDomainErr(err)
		}
		if moved == 0 {
			return nil, apperr.Conflict("no items eligible for that transition")
		}

		err = s.repo.UpdateOrder(ctx, order, nil)
		if errors.Is(err, repository.ErrStaleOrder) {
			continue
		}
		if err != nil {
			return nil, apperr.Transient("failed to persist item status update", err)
		}

		if newStatus == domain.StatusCancelled {
			s.releaseCancelledItems(ctx, order)
		}
		return order, nil
	}
	return nil, apperr.Conflict("order was modified concurrently, retry")
}

// Cancel is the buyer-initiated cancellation, permitted only before
// fulfillment starts. The released stock mirrors the reservation taken at
// checkout.
func (s *OrderService) Cancel(ctx context.Context, orderNumber, requesterID, reason string) (*domain.Order, error) {
	for try := 0; try < casRetries; try++ {
		order, err := s.load(ctx, orderNumber)
		if err != nil {
			return nil, err
		}
		if order.BuyerID != requesterID {
			return nil, apperr.Authorization("only the buyer can cancel the order")
		}
		if !domain.CanBuyerCancel(order.Status) {
			return nil, apperr.Conflict(fmt.Sprintf("order in status %s can no longer be cancelled", order.Status))
		}

		if err := order.ApplyStatus(domain.StatusCancelled, reason, requesterID, s.now()); err != nil {
			return nil, mapDomainErr(err)
		}

		updated, err := s.persistCancellation(ctx, order)
		if errors.Is(err, repository.ErrStaleOrder) {
			continue
		}
		return updated, err
	}
	return nil, apperr.Conflict("order was modified concurrently, retry")
}

func (s *OrderService) AddMessage(ctx context.Context, orderNumber, requesterID, recipientID, text string) (*domain.Order, error) {
	if text == "" {
		return nil, apperr.Validation("message text is required")
	}

	for try := 0; try < casRetries; try++ {
		order, err := s.load(ctx, orderNumber)
		if err != nil {
			return nil, err
		}
		if !order.VisibleTo(requesterID) {
			return nil, apperr.Authorization("requester is not a party to this order")
		}

		order.AppendMessage(requesterID, recipientID, text, s.now())

		err = s.repo.UpdateOrder(ctx, order, nil)
		if errors.Is(err, repository.ErrStaleOrder) {
			continue
		}
		if err != nil {
			return nil, apperr.Transient("failed to persist message", err)
		}
		return order, nil
	}
	return nil, apperr.Conflict("order was modified concurrently, retry")
}

// ReleaseCancelledStock is the recovery entry point: it finishes the
// compensation for any cancelled items still holding stock, whether the
// whole order was cancelled or a single seller's lines.
func (s *OrderService) ReleaseCancelledStock(ctx context.Context, order *domain.Order) error {
	lines := cancelledUnreleased(order)
	if len(lines) == 0 {
		if order.Status == domain.StatusCancelled && !order.StockReleased {
			// Items are back in the ledger; only the flags are missing.
			return s.repo.MarkStockReleased(ctx, order.OrderNumber)
		}
		return nil
	}
	if err := s.releaseLines(ctx, order.OrderNumber, lines, true); err != nil {
		return err
	}
	return s.repo.MarkStockReleased(ctx, order.OrderNumber)
}

func (s *OrderService) load(ctx context.Context, orderNumber string) (*domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, apperr.NotFound("order not found")
		}
		return nil, apperr.Transient("failed to load order", err)
	}
	return order, nil
}

// persistCancellation writes the cancelled order together with its outbox
// event, then releases the cancelled lines. The release must run to
// completion: until it does, the items stay flagged unreleased and the
// recovery loop keeps retrying them.
func (s *OrderService) persistCancellation(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	event, err := repository.NewCancellationEvent(order)
	if err != nil {
		return nil, apperr.Transient("failed to build cancellation event", err)
	}
	if err := s.repo.UpdateOrder(ctx, order, event); err != nil {
		if errors.Is(err, repository.ErrStaleOrder) {
			return nil, err
		}
		return nil, apperr.Transient("failed to persist cancellation", err)
	}
	s.countTransition(domain.StatusCancelled)

	s.releaseCancelledItems(ctx, order)
	return order, nil
}

// releaseCancelledItems gives back the stock behind the order's
// cancelled, unreleased lines and flags them released. Failures are left
// to the recovery loop; the cancellation itself is already committed.
func (s *OrderService) releaseCancelledItems(ctx context.Context, order *domain.Order) {
	lines := cancelledUnreleased(order)
	if len(lines) == 0 {
		return
	}
	if err := s.releaseLines(ctx, order.OrderNumber, lines, false); err != nil {
		log.Printf("stock release incomplete for order %s: %v", order.OrderNumber, err)
		return
	}
	if err := s.repo.MarkStockReleased(ctx, order.OrderNumber); err != nil {
		log.Printf("failed to mark stock released for order %s: %v", order.OrderNumber, err)
		return
	}
	for i := range order.Items {
		if order.Items[i].Status == domain.StatusCancelled {
			order.Items[i].StockReleased = true
		}
	}
	if order.Status == domain.StatusCancelled {
		order.StockReleased = true
	}
}

func (s *OrderService) releaseLines(ctx context.Context, orderNumber string, lines []repository.ReservedLine, recovery bool) error {
	step := "cancel_release"
	if recovery {
		step = "cancel_release_recovery"
	}
	for _, line := range lines {
		var err error
		for attempt := 0; attempt < releaseRetries; attempt++ {
			err = s.ledger.Release(ctx, line.ProductID, line.Quantity)
			if err == nil {
				break
			}
		}
		if err != nil {
			logging.Log(logging.Fields{
				Component: "order-service",
				OrderNum:  orderNumber,
				Step:      step,
				Status:    "failed",
				Message:   err.Error(),
			})
			return fmt.Errorf("failed to release %d units of %s: %w", line.Quantity, line.ProductID, err)
		}
	}
	return nil
}

// cancelledUnreleased selects the lines whose reservation is still out:
// items at cancelled whose release flag has not flipped. Items cancelled
// and compensated earlier are excluded, so a later order-wide
// cancellation never releases the same line twice.
func cancelledUnreleased(order *domain.Order) []repository.ReservedLine {
	lines := make([]repository.ReservedLine, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Status != domain.StatusCancelled || item.StockReleased {
			continue
		}
		lines = append(lines, repository.ReservedLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	return lines
}

func (s *OrderService) countTransition(status domain.Status) {
	if s.metrics == nil {
		return
	}
	s.metrics.Transitions.WithLabelValues(status.String()).Inc()
}

func mapDomainErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidStatus):
		return apperr.Wrap(apperr.KindValidation, "unknown status", err)
	case errors.Is(err, domain.ErrInvalidMove):
		return apperr.Wrap(apperr.KindConflict, "status transition not allowed", err)
	default:
		return err
	}
}
