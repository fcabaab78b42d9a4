package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/domain"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/repository"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/stock"
)

type fakeEvents struct {
	Events      []*repository.OutboxEvent
	GetErr      error
	ProcessedID string
}

func (f *fakeEvents) GetUnprocessedEvents(context.Context, int) ([]*repository.OutboxEvent, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	if len(f.Events) > 0 {
		ev := []*repository.OutboxEvent{f.Events[0]}
		f.Events = f.Events[1:]
		return ev, nil
	}
	return nil, nil
}

func (f *fakeEvents) MarkEventAsProcessed(_ context.Context, id string) error {
	f.ProcessedID = id
	return nil
}

type fakeAttempts struct {
	Stale     []*repository.CheckoutAttempt
	FindErr   error
	FailedIDs []string
}

func (f *fakeAttempts) ClaimAttempt(context.Context, string, string) (*repository.CheckoutAttempt, bool, error) {
	return nil, false, errors.New("not implemented")
}

func (f *fakeAttempts) MarkAttemptReserving(context.Context, string, []repository.ReservedLine) error {
	return nil
}

func (f *fakeAttempts) MarkAttemptReserved(context.Context, string) error {
	return nil
}

func (f *fakeAttempts) MarkAttemptFailed(_ context.Context, id, _ string) error {
	f.FailedIDs = append(f.FailedIDs, id)
	return nil
}

func (f *fakeAttempts) GetAttempt(context.Context, string) (*repository.CheckoutAttempt, error) {
	return nil, repository.ErrAttemptNotFound
}

func (f *fakeAttempts) FindStaleAttempts(context.Context, time.Duration, int) ([]*repository.CheckoutAttempt, error) {
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	return f.Stale, nil
}

type fakeOrders struct {
	Unreleased []*domain.Order
}

func (f *fakeOrders) CreateOrder(context.Context, *domain.Order, string) error { return nil }

func (f *fakeOrders) GetOrder(context.Context, string) (*domain.Order, error) {
	return nil, repository.ErrOrderNotFound
}

func (f *fakeOrders) ListOrders(context.Context, repository.ListQuery) ([]*domain.Order, *repository.Pagination, error) {
	return nil, nil, nil
}

func (f *fakeOrders) UpdateOrder(context.Context, *domain.Order, *repository.OutboxEvent) error {
	return nil
}

func (f *fakeOrders) MarkStockReleased(context.Context, string) error { return nil }

func (f *fakeOrders) FindUnreleasedCancelled(context.Context, int) ([]*domain.Order, error) {
	return f.Unreleased, nil
}

type fakeReleaser struct {
	Released []string
	Err      error
}

func (f *fakeReleaser) ReleaseCancelledStock(_ context.Context, order *domain.Order) error {
	if f.Err != nil {
		return f.Err
	}
	f.Released = append(f.Released, order.OrderNumber)
	return nil
}

func newTestPoller(events *fakeEvents, attempts *fakeAttempts, orders *fakeOrders, releaser *fakeReleaser, ledger stock.Ledger) *Poller {
	return &Poller{
		eventTick:    time.Second,
		recoveryTick: time.Second,
		staleAge:     time.Minute,
		events:       events,
		attempts:     attempts,
		orders:       orders,
		releaser:     releaser,
		ledger:       ledger,
	}
}

func TestRecoverStaleAttempts_ReleasesAndFails(t *testing.T) {
	ledger := stock.NewMemoryLedger()
	ledger.SetStock("p1", 10)
	ledger.SetStock("p2", 10)
	require.NoError(t, ledger.Reserve(context.Background(), "p1", 3))
	require.NoError(t, ledger.Reserve(context.Background(), "p2", 1))

	attempts := &fakeAttempts{Stale: []*repository.CheckoutAttempt{{
		ID:     "attempt-1",
		Status: repository.AttemptReserved,
		Lines: []repository.ReservedLine{
			{ProductID: "p1", Quantity: 3},
			{ProductID: "p2", Quantity: 1},
		},
	}}}

	p := newTestPoller(&fakeEvents{}, attempts, &fakeOrders{}, &fakeReleaser{}, ledger)
	p.recoverStaleAttempts(context.Background())

	assert.Equal(t, 10, ledger.Stock("p1"))
	assert.Equal(t, 10, ledger.Stock("p2"))
	assert.Equal(t, []string{"attempt-1"}, attempts.FailedIDs)
}

func TestRecoverStaleAttempts_ReservingLinesComeBack(t *testing.T) {
	// died after recording its lines, somewhere inside the reserve loop
	ledger := stock.NewMemoryLedger()
	ledger.SetStock("p1", 10)
	require.NoError(t, ledger.Reserve(context.Background(), "p1", 2))

	attempts := &fakeAttempts{Stale: []*repository.CheckoutAttempt{{
		ID:     "attempt-1",
		Status: repository.AttemptReserving,
		Lines:  []repository.ReservedLine{{ProductID: "p1", Quantity: 2}},
	}}}

	p := newTestPoller(&fakeEvents{}, attempts, &fakeOrders{}, &fakeReleaser{}, ledger)
	p.recoverStaleAttempts(context.Background())

	assert.Equal(t, 10, ledger.Stock("p1"))
	assert.Equal(t, []string{"attempt-1"}, attempts.FailedIDs)
}

func TestRecoverStaleAttempts_PendingHasNothingToRelease(t *testing.T) {
	// died before recording any lines: no ledger movement, just failed
	ledger := stock.NewMemoryLedger()
	ledger.SetStock("p1", 10)

	attempts := &fakeAttempts{Stale: []*repository.CheckoutAttempt{{
		ID:     "attempt-1",
		Status: repository.AttemptPending,
	}}}

	p := newTestPoller(&fakeEvents{}, attempts, &fakeOrders{}, &fakeReleaser{}, ledger)
	p.recoverStaleAttempts(context.Background())

	assert.Equal(t, 10, ledger.Stock("p1"))
	assert.Equal(t, []string{"attempt-1"}, attempts.FailedIDs)
}

func TestRecoverStaleAttempts_ReleaseFailureKeepsAttempt(t *testing.T) {
	// p1 exists, p2 does not: the second release fails and the attempt
	// must stay reserved for the next sweep.
	ledger := stock.NewMemoryLedger()
	ledger.SetStock("p1", 10)

	attempts := &fakeAttempts{Stale: []*repository.CheckoutAttempt{{
		ID:     "attempt-1",
		Status: repository.AttemptReserved,
		Lines: []repository.ReservedLine{
			{ProductID: "p1", Quantity: 3},
			{ProductID: "p2", Quantity: 1},
		},
	}}}

	p := newTestPoller(&fakeEvents{}, attempts, &fakeOrders{}, &fakeReleaser{}, ledger)
	p.recoverStaleAttempts(context.Background())

	assert.Empty(t, attempts.FailedIDs)
}

func TestRecoverStaleAttempts_FindError(t *testing.T) {
	attempts := &fakeAttempts{FindErr: errors.New("store down")}
	p := newTestPoller(&fakeEvents{}, attempts, &fakeOrders{}, &fakeReleaser{}, stock.NewMemoryLedger())

	// must not panic, just log and return
	p.recoverStaleAttempts(context.Background())
	assert.Empty(t, attempts.FailedIDs)
}

func TestRecoverCancelledOrders(t *testing.T) {
	orders := &fakeOrders{Unreleased: []*domain.Order{
		{OrderNumber: "ECO2509010001", Status: domain.StatusCancelled},
		{OrderNumber: "ECO2509010002", Status: domain.StatusCancelled},
	}}
	releaser := &fakeReleaser{}

	p := newTestPoller(&fakeEvents{}, &fakeAttempts{}, orders, releaser, stock.NewMemoryLedger())
	p.recoverCancelledOrders(context.Background())

	assert.Equal(t, []string{"ECO2509010001", "ECO2509010002"}, releaser.Released)
}

func TestRecoverCancelledOrders_ReleaserErrorDoesNotPanic(t *testing.T) {
	orders := &fakeOrders{Unreleased: []*domain.Order{
		{OrderNumber: "ECO2509010001", Status: domain.StatusCancelled},
	}}
	releaser := &fakeReleaser{Err: errors.New("ledger down")}

	p := newTestPoller(&fakeEvents{}, &fakeAttempts{}, orders, releaser, stock.NewMemoryLedger())
	p.recoverCancelledOrders(context.Background())

	assert.Empty(t, releaser.Released)
}

func TestPoller_PublishesEventsToKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka container test in short mode")
	}

	ctx := context.Background()
	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	defer func() {
		if errTerm := kafkaContainer.Terminate(ctx); errTerm != nil {
			t.Logf("failed to terminate kafka container: %v", errTerm)
		}
	}()

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	events := &fakeEvents{Events: []*repository.OutboxEvent{{
		ID:          "evt-1",
		Type:        repository.EventOrderCreated,
		OrderNumber: "ECO2509010001",
		Payload:     []byte(`{"order_number":"ECO2509010001","buyer_id":"buyer1"}`),
		CreatedAt:   time.Now(),
	}}}

	p := NewPoller(events, &fakeAttempts{}, &fakeOrders{}, &fakeReleaser{}, stock.NewMemoryLedger(), brokers...)
	defer p.writer.Close()

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	go p.Run(runCtx)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  brokers,
		Topic:    "order-events",
		GroupID:  "test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(runCtx)
	require.NoError(t, err)

	assert.Equal(t, "ECO2509010001", string(msg.Key))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "ECO2509010001", payload["order_number"])
	assert.Equal(t, "buyer1", payload["buyer_id"])

	assert.Eventually(t, func() bool {
		return events.ProcessedID == "evt-1"
	}, 10*time.Second, 100*time.Millisecond)
}
