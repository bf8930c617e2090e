package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quantari/tradecore/internal/domain"
)

type fakePositionService struct {
	position *domain.Position
	closed   *domain.Position
	pnl      domain.Amount

	openErr  error
	getErr   error
	listErr  error
	closeErr error
	stopsErr error
	pnlErr   error

	lastParams     domain.PositionParams
	lastExit       domain.Price
	lastFees       domain.Amount
	lastReason     domain.ExitReason
	lastStopLoss   *domain.Price
	lastTakeProfit *domain.Price
	lastStrategy   string
	stopsCalled    bool
}

func (f *fakePositionService) OpenPosition(_ context.Context, params domain.PositionParams) (*domain.Position, error) {
	f.lastParams = params
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.position, nil
}

func (f *fakePositionService) GetPosition(context.Context, string) (*domain.Position, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.position, nil
}

func (f *fakePositionService) ListOpen(context.Context) ([]*domain.Position, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.position == nil {
		return nil, nil
	}
	return []*domain.Position{f.position}, nil
}

func (f *fakePositionService) ListByStrategy(_ context.Context, strategy string, _ domain.ListOpts) ([]*domain.Position, error) {
	f.lastStrategy = strategy
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.position == nil {
		return nil, nil
	}
	return []*domain.Position{f.position}, nil
}

func (f *fakePositionService) ClosePosition(_ context.Context, _ string, exitPrice domain.Price, fees domain.Amount, reason domain.ExitReason) (*domain.Position, error) {
	f.lastExit = exitPrice
	f.lastFees = fees
	f.lastReason = reason
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return f.closed, nil
}

func (f *fakePositionService) UpdateStops(_ context.Context, _ string, stopLoss, takeProfit *domain.Price) (*domain.Position, error) {
	f.stopsCalled = true
	f.lastStopLoss = stopLoss
	f.lastTakeProfit = takeProfit
	if f.stopsErr != nil {
		return nil, f.stopsErr
	}
	return f.position, nil
}

func (f *fakePositionService) UnrealizedPnL(context.Context, string) (domain.Amount, error) {
	if f.pnlErr != nil {
		return domain.Amount{}, f.pnlErr
	}
	return f.pnl, nil
}

func longPosition(t *testing.T, id string) *domain.Position {
	t.Helper()
	pair := mustPair(t, "BTC/USDT")
	pos, err := domain.NewPosition(id, domain.PositionParams{
		Pair:       pair,
		Side:       domain.PositionSideLong,
		EntryPrice: mustPrice(t, "50000", pair),
		StopLoss:   mustPrice(t, "49000", pair),
		TakeProfit: mustPrice(t, "52000", pair),
		Size:       mustAmount(t, "0.5", pair.Base()),
		Strategy:   "momentum",
	})
	if err != nil {
		t.Fatalf("NewPosition failed: %v", err)
	}
	return pos
}

func openedPosition(t *testing.T, id string) *domain.Position {
	t.Helper()
	pos := longPosition(t, id)
	pair := pos.Pair()
	err := pos.MarkOpened(mustPrice(t, "50100", pair), mustAmount(t, "0.5", pair.Base()), "sl-1", "tp-1")
	if err != nil {
		t.Fatalf("MarkOpened failed: %v", err)
	}
	return pos
}

func settledPosition(t *testing.T, id string) *domain.Position {
	t.Helper()
	pos := openedPosition(t, id)
	pair := pos.Pair()
	err := pos.MarkClosed(mustPrice(t, "51000", pair), mustAmount(t, "10", pair.Quote()), domain.ExitReasonManual)
	if err != nil {
		t.Fatalf("MarkClosed failed: %v", err)
	}
	return pos
}

func TestPositionHandler_OpenPosition(t *testing.T) {
	fake := &fakePositionService{position: longPosition(t, "pos-1")}
	h := NewPositionHandler(fake, testLogger())

	body := `{"pair":"BTC/USDT","side":"LONG","entryPrice":"50000","stopLoss":"49000","takeProfit":"52000","size":"0.5","strategy":"momentum"}`
	rec := httptest.NewRecorder()
	h.OpenPosition(rec, request(http.MethodPost, "/api/positions", body, nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var state domain.PositionState
	decodeBody(t, rec, &state)
	if state.ID != "pos-1" {
		t.Errorf("Expected position id pos-1, got %s", state.ID)
	}
	if state.Status != domain.PositionStatusOpening {
		t.Errorf("Expected status OPENING, got %s", state.Status)
	}
	if fake.lastParams.Strategy != "momentum" {
		t.Errorf("Expected strategy momentum, got %q", fake.lastParams.Strategy)
	}
	if fake.lastParams.Side != domain.PositionSideLong {
		t.Errorf("Expected side LONG, got %s", fake.lastParams.Side)
	}
}

func TestPositionHandler_OpenPositionInvalidBody(t *testing.T) {
	h := NewPositionHandler(&fakePositionService{}, testLogger())

	rec := httptest.NewRecorder()
	h.OpenPosition(rec, request(http.MethodPost, "/api/positions", `{"pair"`, nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestPositionHandler_OpenPositionRejectsBadLevels(t *testing.T) {
	fake := &fakePositionService{
		openErr: fmt.Errorf("position service: %w", domain.ErrEntityValidation),
	}
	h := NewPositionHandler(fake, testLogger())

	body := `{"pair":"BTC/USDT","side":"LONG","entryPrice":"50000","stopLoss":"51000","takeProfit":"52000","size":"0.5"}`
	rec := httptest.NewRecorder()
	h.OpenPosition(rec, request(http.MethodPost, "/api/positions", body, nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for an inverted stop, got %d", rec.Code)
	}
}

func TestPositionHandler_GetPositionNotFound(t *testing.T) {
	fake := &fakePositionService{getErr: fmt.Errorf("position service: %w", domain.ErrNotFound)}
	h := NewPositionHandler(fake, testLogger())

	rec := httptest.NewRecorder()
	h.GetPosition(rec, request(http.MethodGet, "/api/positions/missing", "", map[string]string{"id": "missing"}))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestPositionHandler_ClosePosition(t *testing.T) {
	fake := &fakePositionService{
		position: openedPosition(t, "pos-1"),
		closed:   settledPosition(t, "pos-1"),
	}
	h := NewPositionHandler(fake, testLogger())

	body := `{"exitPrice":"51000","fees":"10","reason":"MANUAL"}`
	rec := httptest.NewRecorder()
	h.ClosePosition(rec, request(http.MethodPost, "/api/positions/pos-1/close", body, map[string]string{"id": "pos-1"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var state domain.PositionState
	decodeBody(t, rec, &state)
	if state.Status != domain.PositionStatusClosed {
		t.Errorf("Expected status CLOSED, got %s", state.Status)
	}
	if state.PnL == nil {
		t.Fatal("Expected a settlement block on the closed position")
	}
	if got := state.PnL.RealizedPnL.String(); got != "440 USDT" {
		t.Errorf("Expected realized pnl 440 USDT, got %s", got)
	}
	if got := fake.lastFees.String(); got != "10 USDT" {
		t.Errorf("Expected fees 10 USDT, got %s", got)
	}
	if fake.lastReason != domain.ExitReasonManual {
		t.Errorf("Expected reason MANUAL, got %s", fake.lastReason)
	}
}

func TestPositionHandler_ClosePositionDefaults(t *testing.T) {
	fake := &fakePositionService{
		position: openedPosition(t, "pos-1"),
		closed:   settledPosition(t, "pos-1"),
	}
	h := NewPositionHandler(fake, testLogger())

	rec := httptest.NewRecorder()
	h.ClosePosition(rec, request(http.MethodPost, "/api/positions/pos-1/close", `{"exitPrice":"51000"}`, map[string]string{"id": "pos-1"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if got := fake.lastFees.String(); got != "0 USDT" {
		t.Errorf("Expected omitted fees to default to 0 USDT, got %s", got)
	}
	if fake.lastReason != domain.ExitReasonManual {
		t.Errorf("Expected omitted reason to default to MANUAL, got %s", fake.lastReason)
	}
}

func TestPositionHandler_ClosePositionBadReason(t *testing.T) {
	fake := &fakePositionService{position: openedPosition(t, "pos-1")}
	h := NewPositionHandler(fake, testLogger())

	body := `{"exitPrice":"51000","reason":"OOPS"}`
	rec := httptest.NewRecorder()
	h.ClosePosition(rec, request(http.MethodPost, "/api/positions/pos-1/close", body, map[string]string{"id": "pos-1"}))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for an unknown exit reason, got %d", rec.Code)
	}
}

func TestPositionHandler_ClosePositionConflict(t *testing.T) {
	fake := &fakePositionService{
		position: settledPosition(t, "pos-1"),
		closeErr: fmt.Errorf("position service: %w", domain.ErrInvalidTransition),
	}
	h := NewPositionHandler(fake, testLogger())

	rec := httptest.NewRecorder()
	h.ClosePosition(rec, request(http.MethodPost, "/api/positions/pos-1/close", `{"exitPrice":"51000"}`, map[string]string{"id": "pos-1"}))

	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for an already closed position, got %d", rec.Code)
	}
}

func TestPositionHandler_UpdateStops(t *testing.T) {
	fake := &fakePositionService{position: openedPosition(t, "pos-1")}
	h := NewPositionHandler(fake, testLogger())

	rec := httptest.NewRecorder()
	h.UpdateStops(rec, request(http.MethodPut, "/api/positions/pos-1/stops", `{"stopLoss":"49500"}`, map[string]string{"id": "pos-1"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if fake.lastStopLoss == nil {
		t.Fatal("Expected the stop loss to reach the service")
	}
	if got := fake.lastStopLoss.String(); got != "49500 BTC/USDT" {
		t.Errorf("Expected stop loss 49500 BTC/USDT, got %s", got)
	}
	if fake.lastTakeProfit != nil {
		t.Errorf("Expected no take profit update, got %s", fake.lastTakeProfit)
	}
}

func TestPositionHandler_UpdateStopsRequiresALevel(t *testing.T) {
	fake := &fakePositionService{position: openedPosition(t, "pos-1")}
	h := NewPositionHandler(fake, testLogger())

	rec := httptest.NewRecorder()
	h.UpdateStops(rec, request(http.MethodPut, "/api/positions/pos-1/stops", `{}`, map[string]string{"id": "pos-1"}))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 when both levels are empty, got %d", rec.Code)
	}
	if fake.stopsCalled {
		t.Error("Expected the service to stay untouched")
	}
}

func TestPositionHandler_GetUnrealizedPnL(t *testing.T) {
	pair := mustPair(t, "BTC/USDT")
	fake := &fakePositionService{pnl: mustAmount(t, "950", pair.Quote())}
	h := NewPositionHandler(fake, testLogger())

	rec := httptest.NewRecorder()
	h.GetUnrealizedPnL(rec, request(http.MethodGet, "/api/positions/pos-1/pnl", "", map[string]string{"id": "pos-1"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["positionId"] != "pos-1" {
		t.Errorf("Expected positionId pos-1, got %q", body["positionId"])
	}
	if body["unrealizedPnl"] != "950 USDT" {
		t.Errorf("Expected unrealizedPnl 950 USDT, got %q", body["unrealizedPnl"])
	}
}

func TestPositionHandler_GetUnrealizedPnLWithoutMark(t *testing.T) {
	fake := &fakePositionService{pnlErr: fmt.Errorf("position service: no mark price: %w", domain.ErrNotFound)}
	h := NewPositionHandler(fake, testLogger())

	rec := httptest.NewRecorder()
	h.GetUnrealizedPnL(rec, request(http.MethodGet, "/api/positions/pos-1/pnl", "", map[string]string{"id": "pos-1"}))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 without a mark price, got %d", rec.Code)
	}
}

func TestPositionHandler_ListPositionsByStrategy(t *testing.T) {
	fake := &fakePositionService{position: openedPosition(t, "pos-1")}
	h := NewPositionHandler(fake, testLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, request(http.MethodGet, "/api/positions?strategy=momentum", "", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if fake.lastStrategy != "momentum" {
		t.Errorf("Expected strategy filter momentum, got %q", fake.lastStrategy)
	}
	var resp listPositionsResponse
	decodeBody(t, rec, &resp)
	if len(resp.Positions) != 1 {
		t.Errorf("Expected 1 position, got %d", len(resp.Positions))
	}
}
