package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"sabzar/internal/service/hold/domain"
	"sabzar/internal/service/hold/domain/port"
	"sabzar/internal/service/hold/infrastructure/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.HoldEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.HoldEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

// fakeGateway 按顺序返回预设的错误，错误用完后成功。
type fakeGateway struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	lastRq port.CreateOrderRequest
}

func (g *fakeGateway) CreateOrder(_ context.Context, req port.CreateOrderRequest) (*port.RemoteOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastRq = req
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return nil, err
	}
	return &port.RemoteOrder{ID: fmt.Sprintf("order_%s", req.Receipt), Amount: req.AmountMinor, Currency: req.Currency, Status: "created"}, nil
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type policyFunc func(ctx context.Context, userID string, lines []domain.Line) error

func (f policyFunc) Check(ctx context.Context, userID string, lines []domain.Line) error {
	return f(ctx, userID, lines)
}

type fixture struct {
	clock   *fakeClock
	ledger  *memory.StockLedger
	repo    *memory.HoldRepository
	catalog *memory.Catalog
	events  *recordingPublisher
	holds   *HoldService
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		clock:   newFakeClock(),
		ledger:  memory.NewStockLedger(),
		repo:    memory.NewHoldRepository(),
		catalog: memory.NewCatalog(),
		events:  &recordingPublisher{},
	}
	var seq atomic.Int64
	base := []Option{
		WithClock(f.clock.Now),
		WithEventPublisher(f.events),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
	}
	f.holds = NewHoldService(f.repo, f.ledger, f.catalog, 15*time.Minute, "INR", append(base, opts...)...)
	return f
}

func (f *fixture) addProduct(id string, price string, stock int) {
	f.catalog.Put(id, "product "+id, decimal.RequireFromString(price))
	if err := f.ledger.SetStock(context.Background(), id, stock); err != nil {
		panic(err)
	}
}

func testAddress() domain.Address {
	return domain.Address{
		Name:          "Ravi",
		PhoneNumber:   "9876543210",
		Pincode:       "110001",
		HouseNumber:   "7B",
		StreetAddress: "Janpath",
		City:          "New Delhi",
		State:         "DL",
	}
}

func holdRequest(lines ...LineRequest) *CreateHoldRequest {
	return &CreateHoldRequest{UserID: "user-1", Lines: lines, Address: testAddress()}
}

func line(productID string, qty int) LineRequest {
	return LineRequest{ProductID: productID, Quantity: qty}
}
