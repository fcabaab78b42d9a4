package outbox

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/domain"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/repository"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/stock"
)

const (
	eventBatchSize    = 100
	recoveryBatchSize = 50
)

// StockReleaser finishes the compensation for a cancelled order whose
// reservations are still held.
type StockReleaser interface {
	ReleaseCancelledStock(ctx context.Context, order *domain.Order) error
}

// Poller drains the transactional outbox into kafka and runs the
// recovery sweep: reservations stuck on dead checkout attempts and
// cancelled orders whose stock release did not finish.
type Poller struct {
	eventTick    time.Duration
	recoveryTick time.Duration
	staleAge     time.Duration
	events       repository.OutboxRepository
	attempts     repository.AttemptRepository
	orders       repository.OrderRepository
	releaser     StockReleaser
	ledger       stock.Ledger
	writer       *kafka.Writer
}

func NewPoller(
	events repository.OutboxRepository,
	attempts repository.AttemptRepository,
	orders repository.OrderRepository,
	releaser StockReleaser,
	ledger stock.Ledger,
	brokers ...string,
) *Poller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  "order-events",
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Poller{
		eventTick:    time.Second,
		recoveryTick: time.Second * 30,
		staleAge:     time.Minute * 5,
		events:       events,
		attempts:     attempts,
		orders:       orders,
		releaser:     releaser,
		ledger:       ledger,
		writer:       w,
	}
}

func (p *Poller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	recoveryTicker := time.NewTicker(p.recoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.publishPending(ctx)
		case <-recoveryTicker.C:
			p.recoverStaleAttempts(ctx)
			p.recoverCancelledOrders(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) publishPending(ctx context.Context) {
	events, err := p.events.GetUnprocessedEvents(ctx, eventBatchSize)
	if err != nil {
		log.Printf("failed to fetch outbox events: %v", err)
		return
	}

	for _, event := range events {
		if errPublish := p.publish(ctx, event); errPublish != nil {
			log.Printf("failed to publish event id=%s: %v", event.ID, errPublish)
			continue
		}
		if errMark := p.events.MarkEventAsProcessed(ctx, event.ID); errMark != nil {
			log.Printf("failed to mark event processed id=%s: %v", event.ID, errMark)
			continue
		}
	}
}

// recoverStaleAttempts compensates checkout attempts that died mid-flight.
// Attempts that recorded lines get those reservations returned to the
// ledger; attempts that never got that far carry no lines and just fail.
// Lines are recorded before the ledger decrement, so a crash between the
// two can make this release exceed what was actually taken.
func (p *Poller) recoverStaleAttempts(ctx context.Context) {
	attempts, err := p.attempts.FindStaleAttempts(ctx, p.staleAge, recoveryBatchSize)
	if err != nil {
		log.Printf("failed to find stale checkout attempts: %v", err)
		return
	}
	for _, attempt := range attempts {
		log.Printf("recovering stale checkout attempt %s", attempt.ID)

		released := true
		for _, line := range attempt.Lines {
			if errRelease := p.ledger.Release(ctx, line.ProductID, line.Quantity); errRelease != nil {
				log.Printf("failed to release %d units of %s for attempt %s: %v",
					line.Quantity, line.ProductID, attempt.ID, errRelease)
				released = false
				break
			}
		}
		if !released {
			// Leave the attempt as is; the next sweep retries it.
			continue
		}

		if errFail := p.attempts.MarkAttemptFailed(ctx, attempt.ID, "checkout attempt expired"); errFail != nil {
			log.Printf("failed to fail stale attempt %s: %v", attempt.ID, errFail)
		}
	}
}

func (p *Poller) recoverCancelledOrders(ctx context.Context) {
	orders, err := p.orders.FindUnreleasedCancelled(ctx, recoveryBatchSize)
	if err != nil {
		log.Printf("failed to find unreleased cancelled orders: %v", err)
		return
	}
	for _, order := range orders {
		log.Printf("recovering stock release for cancelled order %s", order.OrderNumber)
		if errRelease := p.releaser.ReleaseCancelledStock(ctx, order); errRelease != nil {
			log.Printf("stock release for order %s failed: %v", order.OrderNumber, errRelease)
		}
	}
}

func (p *Poller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.OrderNumber), // partitions by order for ordering
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
