package app

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"pairtrader/internal/exchange"
	"pairtrader/internal/monitor"
	"pairtrader/internal/order"
	"pairtrader/internal/pricing"
	"pairtrader/internal/resilience"
	"pairtrader/internal/signal"
)

type fakeMarket struct {
	snapshot    exchange.MarketSnapshot
	snapshotErr error
	candles     []exchange.Candle
	candleErrs  []error // consumed one per call, nil entries mean success

	candleCalls   int
	snapshotCalls int
}

func (f *fakeMarket) FetchSnapshot(context.Context) (exchange.MarketSnapshot, error) {
	f.snapshotCalls++
	if f.snapshotErr != nil {
		return exchange.MarketSnapshot{}, f.snapshotErr
	}
	return f.snapshot, nil
}

func (f *fakeMarket) FetchCandles(context.Context, string, int) ([]exchange.Candle, error) {
	f.candleCalls++
	if len(f.candleErrs) > 0 {
		err := f.candleErrs[0]
		f.candleErrs = f.candleErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.candles, nil
}

type placement struct {
	side   exchange.OrderSide
	price  float64
	amount float64
	cycle  int
}

type fakeOrders struct {
	adoptCycles []int
	adoptErrs   []error // consumed one per call, nil entries mean success
	placements  []placement
	reviews     []int
	blocked     map[exchange.OrderSide]bool
}

func (f *fakeOrders) AdoptOpenOrders(_ context.Context, cycle int) error {
	f.adoptCycles = append(f.adoptCycles, cycle)
	if len(f.adoptErrs) > 0 {
		err := f.adoptErrs[0]
		f.adoptErrs = f.adoptErrs[1:]
		return err
	}
	return nil
}

func (f *fakeOrders) CanPlace(side exchange.OrderSide) bool {
	return !f.blocked[side]
}

func (f *fakeOrders) Place(_ context.Context, side exchange.OrderSide, price, amount float64, cycle int) (string, error) {
	f.placements = append(f.placements, placement{side: side, price: price, amount: amount, cycle: cycle})
	if f.blocked == nil {
		f.blocked = make(map[exchange.OrderSide]bool)
	}
	f.blocked[side] = true
	return "order-1", nil
}

func (f *fakeOrders) Review(_ context.Context, cycle int) error {
	f.reviews = append(f.reviews, cycle)
	return nil
}

type fakeJournal struct {
	events []monitor.EventType
	faults []monitor.FaultPayload
}

func (f *fakeJournal) Record(_ context.Context, eventType monitor.EventType, payload interface{}) {
	f.events = append(f.events, eventType)
	if fault, ok := payload.(monitor.FaultPayload); ok {
		f.faults = append(f.faults, fault)
	}
}

type fakeSignal struct {
	direction signal.Direction
	err       error
}

func (f *fakeSignal) Signal(context.Context, []exchange.Candle) (signal.Direction, error) {
	return f.direction, f.err
}

func (f *fakeSignal) Name() string { return "fake" }

// cancelAfter returns a sleep that cancels ctx once n sleeps have happened,
// so the loop winds down deterministically without real waiting.
func cancelAfter(n int, cancel context.CancelFunc) (resilience.SleepFunc, *int) {
	count := new(int)
	return func(context.Context, time.Duration) {
		*count++
		if *count >= n {
			cancel()
		}
	}, count
}

func newTestScheduler(market *fakeMarket, orders orderBook, provider signal.Provider,
	guard *resilience.Controller, journal *fakeJournal, sleep resilience.SleepFunc) *scheduler {
	return &scheduler{
		market:    market,
		signals:   provider,
		engine:    pricing.NewEngine(0.001, 0, 0.5, 0.0001),
		orders:    orders,
		guard:     guard,
		journal:   journal,
		logger:    zap.NewNop(),
		pair:      "BTC/USDT",
		timeframe: "5m",
		window:    60,
		baseSleep: 5 * time.Minute,
		sleep:     sleep,
	}
}

func TestRun_BuySignalPlacesPricedOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	market := &fakeMarket{
		snapshot: exchange.MarketSnapshot{
			Symbol: "BTC/USDT", Bid: 100, Ask: 102, FreeBase: 1, FreeQuote: 1000,
		},
	}
	orders := &fakeOrders{}
	journal := &fakeJournal{}
	sleep, _ := cancelAfter(2, cancel)
	guard := resilience.NewController(3, time.Minute, func(context.Context, time.Duration) {}, nil)

	s := newTestScheduler(market, orders, &fakeSignal{direction: signal.DirectionBuy}, guard, journal, sleep)
	if err := s.run(ctx); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(orders.adoptCycles) != 1 || orders.adoptCycles[0] != 0 {
		t.Errorf("expected one adoption pass at cycle 0, got %v", orders.adoptCycles)
	}
	if len(orders.placements) != 1 {
		t.Fatalf("expected exactly one placement, got %d", len(orders.placements))
	}

	p := orders.placements[0]
	if p.side != exchange.OrderSideBuy || p.cycle != 0 {
		t.Errorf("unexpected placement: %+v", p)
	}
	if diff := math.Abs(p.price - 100.899); diff > 1e-9 {
		t.Errorf("unexpected buy price: got %v want 100.899", p.price)
	}
	if want := 0.5 * 1000 / p.price; math.Abs(p.amount-want) > 1e-9 {
		t.Errorf("unexpected buy amount: got %v want %v", p.amount, want)
	}

	// Cycle two saw the side blocked and must not place again.
	if len(orders.reviews) != 2 {
		t.Errorf("expected two review passes, got %v", orders.reviews)
	}
}

func TestRun_HoldSignalTakesNoAction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	market := &fakeMarket{}
	orders := &fakeOrders{}
	sleep, _ := cancelAfter(1, cancel)
	guard := resilience.NewController(3, time.Minute, func(context.Context, time.Duration) {}, nil)

	s := newTestScheduler(market, orders, &fakeSignal{direction: signal.DirectionHold}, guard, &fakeJournal{}, sleep)
	if err := s.run(ctx); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(orders.placements) != 0 {
		t.Errorf("HOLD must not place orders, got %v", orders.placements)
	}
	if market.snapshotCalls != 0 {
		t.Errorf("HOLD must not fetch a snapshot, got %d calls", market.snapshotCalls)
	}
}

func TestRun_BelowMinimumIsTreatedAsHold(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 半仓卖出 0.00005 基础币种只有 0.000025，低于 0.0001 的最小成交量。
	market := &fakeMarket{
		snapshot: exchange.MarketSnapshot{
			Symbol: "BTC/USDT", Bid: 100, Ask: 102, FreeBase: 0.00005, FreeQuote: 1000,
		},
	}
	orders := &fakeOrders{}
	sleep, _ := cancelAfter(1, cancel)
	guard := resilience.NewController(3, time.Minute, func(context.Context, time.Duration) {}, nil)

	s := newTestScheduler(market, orders, &fakeSignal{direction: signal.DirectionSell}, guard, &fakeJournal{}, sleep)
	if err := s.run(ctx); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(orders.placements) != 0 {
		t.Errorf("below-minimum amount must not place orders, got %v", orders.placements)
	}
}

func TestRun_MissingBalancesAbort(t *testing.T) {
	ctx := context.Background()

	market := &fakeMarket{
		snapshot: exchange.MarketSnapshot{
			Symbol: "BTC/USDT", Bid: 100, Ask: 102, FreeBase: 0, FreeQuote: 0,
		},
	}
	orders := &fakeOrders{}
	journal := &fakeJournal{}
	guard := resilience.NewController(3, time.Minute, func(context.Context, time.Duration) {}, nil)

	s := newTestScheduler(market, orders, &fakeSignal{direction: signal.DirectionBuy}, guard, journal,
		func(context.Context, time.Duration) {})

	err := s.run(ctx)
	if err == nil {
		t.Fatal("expected fatal error when both balances are zero")
	}
	if !errors.Is(err, pricing.ErrMissingBalance) {
		t.Errorf("expected ErrMissingBalance in chain, got %v", err)
	}
	if !strings.Contains(err.Error(), "BTC/USDT") {
		t.Errorf("fatal error must name the pair, got %q", err)
	}
	if len(journal.faults) != 1 || journal.faults[0].Action != "abort" {
		t.Errorf("expected one abort fault event, got %+v", journal.faults)
	}
}

func TestRun_UnknownFaultRetriesSameCycleThenBacksOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mystery := errors.New("mystery fault")
	market := &fakeMarket{candleErrs: []error{mystery, mystery, mystery}}
	orders := &fakeOrders{}
	journal := &fakeJournal{}

	// The backoff sleep lives in the controller; cancel there to stop the loop.
	backoffSleep, backoffs := cancelAfter(1, cancel)
	guard := resilience.NewController(3, 5*time.Minute, backoffSleep, nil)

	var cycleSleeps int
	s := newTestScheduler(market, orders, &fakeSignal{direction: signal.DirectionHold}, guard, journal,
		func(context.Context, time.Duration) { cycleSleeps++ })

	if err := s.run(ctx); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if market.candleCalls != 3 {
		t.Errorf("expected 3 candle fetch attempts, got %d", market.candleCalls)
	}
	if *backoffs != 1 {
		t.Errorf("expected exactly one backoff sleep, got %d", *backoffs)
	}
	if cycleSleeps != 0 {
		t.Errorf("retries must not take the normal cycle sleep, got %d", cycleSleeps)
	}

	if len(journal.faults) != 3 {
		t.Fatalf("expected 3 fault events, got %d", len(journal.faults))
	}
	for i, want := range []string{"retry", "retry", "backoff"} {
		if journal.faults[i].Action != want {
			t.Errorf("fault %d: action %q want %q", i, journal.faults[i].Action, want)
		}
		if journal.faults[i].Cycle != 0 {
			t.Errorf("fault %d: retries must stay on cycle 0, got %d", i, journal.faults[i].Cycle)
		}
	}
}

func TestRun_RecoverableFaultSkipsToNextCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	market := &fakeMarket{snapshotErr: exchange.ErrCorruptSnapshot}
	orders := &fakeOrders{}
	journal := &fakeJournal{}
	sleep, _ := cancelAfter(2, cancel)
	guard := resilience.NewController(3, time.Minute, func(context.Context, time.Duration) {}, nil)

	s := newTestScheduler(market, orders, &fakeSignal{direction: signal.DirectionBuy}, guard, journal, sleep)
	if err := s.run(ctx); err != nil {
		t.Fatalf("recoverable faults must not abort: %v", err)
	}

	if len(journal.faults) != 2 {
		t.Fatalf("expected 2 fault events, got %d", len(journal.faults))
	}
	if journal.faults[0].Action != "skip" || journal.faults[0].Cycle != 0 {
		t.Errorf("first fault: got %+v", journal.faults[0])
	}
	if journal.faults[1].Cycle != 1 {
		t.Errorf("skip must advance the cycle, second fault at cycle %d", journal.faults[1].Cycle)
	}
	if len(orders.placements) != 0 {
		t.Errorf("no placements expected, got %v", orders.placements)
	}
}

func TestRun_AdoptionRetriedUntilSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	market := &fakeMarket{}
	orders := &fakeOrders{adoptErrs: []error{exchange.ErrEmptyOrderBook}}
	sleep, _ := cancelAfter(2, cancel)
	guard := resilience.NewController(3, time.Minute, func(context.Context, time.Duration) {}, nil)

	s := newTestScheduler(market, orders, &fakeSignal{direction: signal.DirectionHold}, guard, &fakeJournal{}, sleep)
	if err := s.run(ctx); err != nil {
		t.Fatalf("recoverable adoption failure must not abort: %v", err)
	}

	if len(orders.adoptCycles) != 2 {
		t.Fatalf("expected adoption to be retried, got attempts at cycles %v", orders.adoptCycles)
	}
	// 接管成功前不得进入交易周期。
	if len(orders.reviews) != 1 || orders.reviews[0] != orders.adoptCycles[1] {
		t.Errorf("cycles must only run after adoption succeeded, reviews=%v adopts=%v",
			orders.reviews, orders.adoptCycles)
	}
}

type fakeOrderClient struct {
	adoptErrs []error // consumed one per FetchOpenOrders call
	open      []exchange.OpenOrder
	placed    int
}

func (f *fakeOrderClient) CreateLimitOrder(context.Context, exchange.OrderSide, float64, float64) (string, error) {
	f.placed++
	return "new-1", nil
}

func (f *fakeOrderClient) CancelOrder(context.Context, string) error { return nil }

func (f *fakeOrderClient) FetchOrderStatus(context.Context, string) (exchange.OrderStatus, error) {
	return exchange.OrderStatusOpen, nil
}

func (f *fakeOrderClient) FetchOpenOrders(context.Context) ([]exchange.OpenOrder, error) {
	if len(f.adoptErrs) > 0 {
		err := f.adoptErrs[0]
		f.adoptErrs = f.adoptErrs[1:]
		return nil, err
	}
	return f.open, nil
}

func TestRun_NoPlacementBesideExistingOrderWhenAdoptionStumbles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 交易所上已有一笔买单，首次接管扫描因瞬时故障失败。
	// 买入信号不得在接管完成前下出第二笔买单。
	client := &fakeOrderClient{
		adoptErrs: []error{exchange.ErrEmptyOrderBook},
		open:      []exchange.OpenOrder{{ID: "pre-1", Side: exchange.OrderSideBuy, Price: 99, Amount: 1}},
	}
	manager, err := order.NewManager(client, 3, nil, nil)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	market := &fakeMarket{
		snapshot: exchange.MarketSnapshot{
			Symbol: "BTC/USDT", Bid: 100, Ask: 102, FreeBase: 1, FreeQuote: 1000,
		},
	}
	journal := &fakeJournal{}
	sleep, _ := cancelAfter(2, cancel)
	guard := resilience.NewController(3, time.Minute, func(context.Context, time.Duration) {}, nil)

	s := newTestScheduler(market, manager, &fakeSignal{direction: signal.DirectionBuy}, guard, journal, sleep)
	if err := s.run(ctx); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if client.placed != 0 {
		t.Fatalf("must not place beside the pre-existing buy order, placed %d", client.placed)
	}
	adoptedBuy, ok := manager.Open(exchange.OrderSideBuy)
	if !ok || adoptedBuy.ID != "pre-1" {
		t.Errorf("expected pre-existing order adopted on retry, got %+v ok=%v", adoptedBuy, ok)
	}
	if len(journal.faults) != 1 || journal.faults[0].Action != "skip" {
		t.Errorf("expected one skip fault from the failed adoption, got %+v", journal.faults)
	}
}
