package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quantari/tradecore/internal/domain"
	"github.com/quantari/tradecore/internal/exchange"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustPair(t *testing.T, symbol string) domain.TradingPair {
	t.Helper()
	pair, err := domain.ParsePair(symbol)
	if err != nil {
		t.Fatalf("ParsePair(%q) failed: %v", symbol, err)
	}
	return pair
}

func mustAsset(t *testing.T, symbol string) domain.Asset {
	t.Helper()
	asset, err := domain.AssetFromSymbol(symbol)
	if err != nil {
		t.Fatalf("AssetFromSymbol(%q) failed: %v", symbol, err)
	}
	return asset
}

func mustAmount(t *testing.T, value string, asset domain.Asset) domain.Amount {
	t.Helper()
	a, err := domain.NewAmountFromString(value, asset)
	if err != nil {
		t.Fatalf("NewAmountFromString(%q) failed: %v", value, err)
	}
	return a
}

func mustPrice(t *testing.T, value string, pair domain.TradingPair) domain.Price {
	t.Helper()
	p, err := domain.NewPriceFromString(value, pair)
	if err != nil {
		t.Fatalf("NewPriceFromString(%q) failed: %v", value, err)
	}
	return p
}

func mustSnapshot(t *testing.T, pair domain.TradingPair, bids, asks [][2]string, capturedAt time.Time) *domain.OrderBookSnapshot {
	t.Helper()
	build := func(raw [][2]string) []domain.OrderBookLevel {
		levels := make([]domain.OrderBookLevel, 0, len(raw))
		for _, r := range raw {
			lvl, err := domain.NewOrderBookLevel(
				mustPrice(t, r[0], pair),
				mustAmount(t, r[1], pair.Base()),
			)
			if err != nil {
				t.Fatalf("NewOrderBookLevel(%q, %q) failed: %v", r[0], r[1], err)
			}
			levels = append(levels, lvl)
		}
		return levels
	}
	snap, err := domain.NewOrderBookSnapshot(pair, build(bids), build(asks), capturedAt)
	if err != nil {
		t.Fatalf("NewOrderBookSnapshot failed: %v", err)
	}
	return snap
}

// longParams builds a valid long position intent: entry 50000, stop 48000,
// target 55000, size 0.5 base.
func longParams(t *testing.T, pair domain.TradingPair) domain.PositionParams {
	t.Helper()
	return domain.PositionParams{
		Pair:       pair,
		Side:       domain.PositionSideLong,
		EntryPrice: mustPrice(t, "50000", pair),
		StopLoss:   mustPrice(t, "48000", pair),
		TakeProfit: mustPrice(t, "55000", pair),
		Size:       mustAmount(t, "0.5", pair.Base()),
		Strategy:   "momentum",
		Agent:      "bot-1",
	}
}

func seedOpenPosition(t *testing.T, store *memPositionStore, pair domain.TradingPair) *domain.Position {
	t.Helper()
	store.mu.Lock()
	id := fmt.Sprintf("pos-%d", len(store.positions)+1)
	store.mu.Unlock()

	pos, err := domain.NewPosition(id, longParams(t, pair))
	if err != nil {
		t.Fatalf("NewPosition failed: %v", err)
	}
	if err := store.Save(context.Background(), pos); err != nil {
		t.Fatalf("Save position failed: %v", err)
	}
	return pos
}

// memOrderStore is an in-memory domain.OrderStore.
type memOrderStore struct {
	mu      sync.Mutex
	orders  map[string]*domain.Order
	saveErr error

	deleteCutoffs []time.Time
	deleted       int64
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[string]*domain.Order)}
}

func (s *memOrderStore) Save(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.orders[order.ID()] = order
	return nil
}

func (s *memOrderStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *memOrderStore) ListActive(_ context.Context) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []*domain.Order
	for _, order := range s.orders {
		if order.IsActive() {
			active = append(active, order)
		}
	}
	return active, nil
}

func (s *memOrderStore) ListByPair(_ context.Context, pair domain.TradingPair, _ domain.ListOpts) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*domain.Order
	for _, order := range s.orders {
		if order.Pair().Equal(pair) {
			matched = append(matched, order)
		}
	}
	return matched, nil
}

func (s *memOrderStore) ListTerminalBefore(_ context.Context, _ time.Time, _ int) ([]*domain.Order, error) {
	return nil, nil
}

func (s *memOrderStore) DeleteTerminalBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCutoffs = append(s.deleteCutoffs, before)
	return s.deleted, nil
}

// memPositionStore is an in-memory domain.PositionStore.
type memPositionStore struct {
	mu          sync.Mutex
	positions   map[string]*domain.Position
	closedSince []*domain.Position
	countErr    error

	deleteCutoffs []time.Time
	deleted       int64
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]*domain.Position)}
}

func (s *memPositionStore) Save(_ context.Context, pos *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID()] = pos
	return nil
}

func (s *memPositionStore) GetByID(_ context.Context, id string) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositionStore) ListOpen(_ context.Context) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []*domain.Position
	for _, pos := range s.positions {
		if !pos.IsTerminal() {
			open = append(open, pos)
		}
	}
	return open, nil
}

func (s *memPositionStore) ListByStrategy(_ context.Context, strategy string, _ domain.ListOpts) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*domain.Position
	for _, pos := range s.positions {
		if pos.Strategy() == strategy {
			matched = append(matched, pos)
		}
	}
	return matched, nil
}

func (s *memPositionStore) ListClosedSince(_ context.Context, _ time.Time) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedSince, nil
}

func (s *memPositionStore) ListClosedBefore(_ context.Context, _ time.Time, _ int) ([]*domain.Position, error) {
	return nil, nil
}

func (s *memPositionStore) DeleteClosedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCutoffs = append(s.deleteCutoffs, before)
	return s.deleted, nil
}

func (s *memPositionStore) CountOpen(_ context.Context) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, pos := range s.positions {
		if !pos.IsTerminal() {
			count++
		}
	}
	return count, nil
}

// memBalanceStore is an in-memory domain.BalanceStore.
type memBalanceStore struct {
	mu       sync.Mutex
	balances map[string]domain.Balance
	saveErr  error
}

func newMemBalanceStore() *memBalanceStore {
	return &memBalanceStore{balances: make(map[string]domain.Balance)}
}

func (s *memBalanceStore) Get(_ context.Context, asset domain.Asset) (domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[asset.Symbol()]
	if !ok {
		return domain.Balance{}, domain.ErrNotFound
	}
	return bal, nil
}

func (s *memBalanceStore) List(_ context.Context) ([]domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balances := make([]domain.Balance, 0, len(s.balances))
	for _, bal := range s.balances {
		balances = append(balances, bal)
	}
	return balances, nil
}

func (s *memBalanceStore) Save(_ context.Context, bal domain.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.balances[bal.Asset().Symbol()] = bal
	return nil
}

func (s *memBalanceStore) seed(t *testing.T, available string, asset domain.Asset) {
	t.Helper()
	bal, err := domain.BalanceOf(mustAmount(t, available, asset), domain.ZeroAmount(asset))
	if err != nil {
		t.Fatalf("BalanceOf failed: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[asset.Symbol()] = bal
}

// memAuditStore is an in-memory domain.AuditStore.
type memAuditStore struct {
	mu        sync.Mutex
	entries   []domain.AuditEntry
	recordErr error

	deleteCutoffs []time.Time
	deleted       int64
}

func newMemAuditStore() *memAuditStore { return &memAuditStore{} }

func (s *memAuditStore) Record(_ context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memAuditStore) ListByEntity(_ context.Context, entity, entityID string, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []domain.AuditEntry
	for _, entry := range s.entries {
		if entry.Entity == entity && entry.EntityID == entityID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (s *memAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEntry(nil), s.entries...), nil
}

func (s *memAuditStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCutoffs = append(s.deleteCutoffs, before)
	return s.deleted, nil
}

func (s *memAuditStore) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := make([]string, 0, len(s.entries))
	for _, entry := range s.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

func (s *memAuditStore) hasAction(action string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.Action == action {
			return true
		}
	}
	return false
}

// fakeLocks records acquisitions and always grants the lock unless err is
// set.
type fakeLocks struct {
	mu       sync.Mutex
	acquired []string
	released int
	err      error
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}

func (l *fakeLocks) acquiredKeys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.acquired...)
}

// memBus collects published events.
type memBus struct {
	mu         sync.Mutex
	events     []domain.Event
	publishErr error
}

func (b *memBus) Publish(_ context.Context, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.events = append(b.events, event)
	return nil
}

func (b *memBus) Subscribe(_ context.Context, _ ...string) (<-chan domain.Event, error) {
	ch := make(chan domain.Event)
	close(ch)
	return ch, nil
}

func (b *memBus) StreamRead(_ context.Context, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) find(eventType domain.EventType) (domain.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, event := range b.events {
		if event.Type == eventType {
			return event, true
		}
	}
	return domain.Event{}, false
}

func (b *memBus) last() (domain.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return domain.Event{}, false
	}
	return b.events[len(b.events)-1], true
}

func (b *memBus) count(eventType domain.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, event := range b.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

// memBookCache is an in-memory domain.BookCache.
type memBookCache struct {
	mu    sync.Mutex
	snaps map[string]*domain.OrderBookSnapshot
}

func newMemBookCache() *memBookCache {
	return &memBookCache{snaps: make(map[string]*domain.OrderBookSnapshot)}
}

func (c *memBookCache) SetSnapshot(_ context.Context, snap *domain.OrderBookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.Pair().Symbol()] = snap
	return nil
}

func (c *memBookCache) GetSnapshot(_ context.Context, pair domain.TradingPair) (*domain.OrderBookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snaps[pair.Symbol()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snap, nil
}

func (c *memBookCache) GetTopOfBook(_ context.Context, pair domain.TradingPair) (domain.OrderBookLevel, domain.OrderBookLevel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snaps[pair.Symbol()]
	if !ok {
		return domain.OrderBookLevel{}, domain.OrderBookLevel{}, domain.ErrNotFound
	}
	return snap.BestBid(), snap.BestAsk(), nil
}

// memPriceCache is an in-memory domain.PriceCache.
type memPriceCache struct {
	mu     sync.Mutex
	prices map[string]domain.Price
	times  map[string]time.Time
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{
		prices: make(map[string]domain.Price),
		times:  make(map[string]time.Time),
	}
}

func (c *memPriceCache) SetPrice(_ context.Context, price domain.Price, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[price.Pair().Symbol()] = price
	c.times[price.Pair().Symbol()] = ts
	return nil
}

func (c *memPriceCache) GetPrice(_ context.Context, pair domain.TradingPair) (domain.Price, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	price, ok := c.prices[pair.Symbol()]
	if !ok {
		return domain.Price{}, time.Time{}, domain.ErrNotFound
	}
	return price, c.times[pair.Symbol()], nil
}

func (c *memPriceCache) GetPrices(_ context.Context, pairs []domain.TradingPair) (map[string]domain.Price, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.Price)
	for _, pair := range pairs {
		if price, ok := c.prices[pair.Symbol()]; ok {
			out[pair.Symbol()] = price
		}
	}
	return out, nil
}

// fakePlacer is an in-memory OrderPlacer.
type fakePlacer struct {
	mu        sync.Mutex
	placed    []string
	cancelled []string
	placeErr  error
	cancelErr error
}

func (p *fakePlacer) PlaceOrder(_ context.Context, order *domain.Order) (exchange.OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.placeErr != nil {
		return exchange.OrderAck{}, p.placeErr
	}
	p.placed = append(p.placed, order.ID())
	return exchange.OrderAck{
		ExchangeOrderID: "ex-" + order.ID(),
		ClientOrderID:   order.ID(),
		Pair:            order.Pair().Symbol(),
		Status:          "SUBMITTED",
		TransactTime:    time.Now().UnixMilli(),
	}, nil
}

func (p *fakePlacer) CancelOrder(_ context.Context, _ domain.TradingPair, exchangeOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelErr != nil {
		return p.cancelErr
	}
	p.cancelled = append(p.cancelled, exchangeOrderID)
	return nil
}

// fakeFetcher is a canned BalanceFetcher.
type fakeFetcher struct {
	balances []domain.Balance
	err      error
}

func (f *fakeFetcher) GetBalances(_ context.Context) ([]domain.Balance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.balances, nil
}

// fakeArchiver returns canned archive counts and records cutoffs.
type fakeArchiver struct {
	mu        sync.Mutex
	orders    int64
	positions int64
	audit     int64
	ordersErr error
	cutoffs   []time.Time
}

func (a *fakeArchiver) ArchiveOrders(_ context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cutoffs = append(a.cutoffs, before)
	if a.ordersErr != nil {
		return 0, a.ordersErr
	}
	return a.orders, nil
}

func (a *fakeArchiver) ArchivePositions(_ context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cutoffs = append(a.cutoffs, before)
	return a.positions, nil
}

func (a *fakeArchiver) ArchiveAudit(_ context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cutoffs = append(a.cutoffs, before)
	return a.audit, nil
}
