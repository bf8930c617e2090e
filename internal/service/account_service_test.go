package service

import (
	"context"
	"errors"
	"testing"

	"github.com/quantari/tradecore/internal/domain"
)

func newAccountFixture() (*AccountService, *memBalanceStore, *fakeLocks, *memBus, *memAuditStore) {
	balances := newMemBalanceStore()
	locks := &fakeLocks{}
	bus := &memBus{}
	audit := newMemAuditStore()
	svc := NewAccountService(balances, locks, bus, audit, testLogger())
	return svc, balances, locks, bus, audit
}

func TestAccountService_Deposit(t *testing.T) {
	svc, balances, locks, bus, audit := newAccountFixture()
	usdt := mustAsset(t, "USDT")

	bal, err := svc.Deposit(context.Background(), mustAmount(t, "100.5", usdt))
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if got := bal.Available().String(); got != "100.5 USDT" {
		t.Errorf("Expected available 100.5 USDT, got %s", got)
	}

	stored, err := balances.Get(context.Background(), usdt)
	if err != nil {
		t.Fatalf("Get after deposit failed: %v", err)
	}
	if !stored.Available().Equal(bal.Available()) {
		t.Errorf("Expected stored balance %s, got %s", bal.Available(), stored.Available())
	}

	keys := locks.acquiredKeys()
	if len(keys) != 1 || keys[0] != "balance:USDT" {
		t.Errorf("Expected lock on balance:USDT, got %v", keys)
	}
	if !audit.hasAction("balance.deposit") {
		t.Errorf("Expected balance.deposit audit entry, got %v", audit.actions())
	}

	event, ok := bus.find(domain.EventBalanceUpdated)
	if !ok {
		t.Fatal("Expected balance.updated event")
	}
	if event.Detail["op"] != "deposit" {
		t.Errorf("Expected event op deposit, got %q", event.Detail["op"])
	}
	if event.ID == "" {
		t.Error("Expected event ID to be set")
	}
}

func TestAccountService_WithdrawInsufficientFunds(t *testing.T) {
	svc, balances, _, bus, _ := newAccountFixture()
	usdt := mustAsset(t, "USDT")
	balances.seed(t, "50", usdt)

	_, err := svc.Withdraw(context.Background(), mustAmount(t, "100", usdt))
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	stored, err := balances.Get(context.Background(), usdt)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := stored.Available().String(); got != "50 USDT" {
		t.Errorf("Expected balance untouched at 50 USDT, got %s", got)
	}
	if _, ok := bus.find(domain.EventBalanceUpdated); ok {
		t.Error("Expected no event for a failed withdrawal")
	}
}

func TestAccountService_ReserveReleaseSettle(t *testing.T) {
	svc, _, _, bus, _ := newAccountFixture()
	usdt := mustAsset(t, "USDT")

	if _, err := svc.Deposit(context.Background(), mustAmount(t, "100", usdt)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	bal, err := svc.Reserve(context.Background(), mustAmount(t, "40", usdt), "ord-1")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if bal.Available().String() != "60 USDT" || bal.Reserved().String() != "40 USDT" {
		t.Errorf("Expected 60/40 after reserve, got %s/%s", bal.Available(), bal.Reserved())
	}

	event, ok := bus.last()
	if !ok {
		t.Fatal("Expected balance.updated event")
	}
	if event.Type != domain.EventBalanceUpdated {
		t.Errorf("Expected balance.updated event, got %s", event.Type)
	}
	if event.Detail["orderId"] != "ord-1" {
		t.Errorf("Expected reserve event to carry orderId ord-1, got %q", event.Detail["orderId"])
	}

	bal, err = svc.Release(context.Background(), mustAmount(t, "10", usdt), "ord-1")
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if bal.Available().String() != "70 USDT" || bal.Reserved().String() != "30 USDT" {
		t.Errorf("Expected 70/30 after release, got %s/%s", bal.Available(), bal.Reserved())
	}

	bal, err = svc.Settle(context.Background(), mustAmount(t, "30", usdt), "ord-1")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if bal.Available().String() != "70 USDT" || !bal.Reserved().IsZero() {
		t.Errorf("Expected 70/0 after settle, got %s/%s", bal.Available(), bal.Reserved())
	}
}

func TestAccountService_ReserveWithoutFunds(t *testing.T) {
	svc, _, _, _, _ := newAccountFixture()
	btc := mustAsset(t, "BTC")

	_, err := svc.Reserve(context.Background(), mustAmount(t, "1", btc), "ord-2")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds for unfunded asset, got %v", err)
	}
}

func TestAccountService_GetBalanceUnfundedAsset(t *testing.T) {
	svc, _, _, _, _ := newAccountFixture()
	eth := mustAsset(t, "ETH")

	bal, err := svc.GetBalance(context.Background(), eth)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !bal.Total().IsZero() {
		t.Errorf("Expected zero balance for unfunded asset, got %s", bal.Total())
	}
	if !bal.Asset().Equal(eth) {
		t.Errorf("Expected asset ETH, got %s", bal.Asset())
	}
}

func TestAccountService_SyncWithExchange(t *testing.T) {
	svc, balances, _, _, audit := newAccountFixture()
	usdt := mustAsset(t, "USDT")
	btc := mustAsset(t, "BTC")

	usdtBal, err := domain.BalanceOf(mustAmount(t, "1000", usdt), mustAmount(t, "250", usdt))
	if err != nil {
		t.Fatalf("BalanceOf failed: %v", err)
	}
	btcBal, err := domain.BalanceOf(mustAmount(t, "0.5", btc), domain.ZeroAmount(btc))
	if err != nil {
		t.Fatalf("BalanceOf failed: %v", err)
	}

	svc.WithExchange(&fakeFetcher{balances: []domain.Balance{usdtBal, btcBal}})

	synced, err := svc.SyncWithExchange(context.Background())
	if err != nil {
		t.Fatalf("SyncWithExchange failed: %v", err)
	}
	if len(synced) != 2 {
		t.Fatalf("Expected 2 synced balances, got %d", len(synced))
	}

	stored, err := balances.Get(context.Background(), usdt)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Reserved().String() != "250 USDT" {
		t.Errorf("Expected reserved 250 USDT from exchange, got %s", stored.Reserved())
	}
	if !audit.hasAction("balance.sync") {
		t.Errorf("Expected balance.sync audit entry, got %v", audit.actions())
	}
}

func TestAccountService_SyncWithoutExchange(t *testing.T) {
	svc, _, _, _, _ := newAccountFixture()

	if _, err := svc.SyncWithExchange(context.Background()); err == nil {
		t.Error("Expected error when no exchange is attached")
	}
}
