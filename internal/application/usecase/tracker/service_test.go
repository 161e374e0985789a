package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"xquote/internal/application/port"
	"xquote/internal/domain"
)

type fakeSub struct {
	id    string
	pair  domain.TradingPair
	ticks chan domain.PriceTick

	mu       sync.Mutex
	released bool
	err      error
}

func (f *fakeSub) ID() string                     { return f.id }
func (f *fakeSub) Pair() domain.TradingPair       { return f.pair }
func (f *fakeSub) Ticks() <-chan domain.PriceTick { return f.ticks }
func (f *fakeSub) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeSub) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.released {
		f.released = true
		close(f.ticks)
	}
}

// drop 模拟连接在 Active 状态下断开
func (f *fakeSub) drop(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.release()
}

type fakeSubscriber struct {
	mu       sync.Mutex
	subs     []*fakeSub
	current  *fakeSub
	unbinds  int
	failWith error
	onBind   func(pair domain.TradingPair)

	// hang 指定的交易对一直停在 Connecting，直到 ctx 被取消
	hang string
}

func (f *fakeSubscriber) Bind(ctx context.Context, pair domain.TradingPair) (port.Subscription, error) {
	if f.onBind != nil {
		f.onBind(pair)
	}
	if pair.Raw == f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.current != nil {
		f.current.release()
		f.current = nil
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	sub := &fakeSub{id: pair.Raw + "-sub", pair: pair, ticks: make(chan domain.PriceTick, 16)}
	f.subs = append(f.subs, sub)
	f.current = sub
	return sub, nil
}

func (f *fakeSubscriber) Unbind() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unbinds++
	if f.current != nil {
		f.current.release()
		f.current = nil
	}
	return nil
}

func (f *fakeSubscriber) live() (*fakeSub, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		s.mu.Lock()
		if !s.released {
			n++
		}
		s.mu.Unlock()
	}
	return f.current, n
}

func (f *fakeSubscriber) bindCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakePrimer struct {
	calls chan string
	err   error
}

func (f *fakePrimer) Prime(ctx context.Context, raw string) error {
	f.calls <- raw
	return f.err
}

type fakeRepo struct {
	mu      sync.Mutex
	resets  []string
	upserts []domain.PriceTick
}

func (r *fakeRepo) ResetPair(ctx context.Context, pair string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, pair)
	return nil
}

func (r *fakeRepo) UpsertLatestTick(ctx context.Context, t domain.PriceTick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, t)
	return nil
}

func (r *fakeRepo) Close() error { return nil }

type harness struct {
	svc    *Service
	agg    *domain.Aggregator
	subs   *fakeSubscriber
	primer *fakePrimer
	repo   *fakeRepo
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		agg:    domain.NewAggregator(domain.NewWhitelist(domain.DefaultExchanges...)),
		subs:   &fakeSubscriber{},
		primer: &fakePrimer{calls: make(chan string, 16)},
		repo:   &fakeRepo{},
		done:   make(chan error, 1),
	}
	h.svc = NewService(ServiceDeps{
		Aggregator: h.agg,
		Subscriber: h.subs,
		Primer:     h.primer,
		Repo:       h.repo,
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) selectPair(t *testing.T, raw string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.svc.SelectPair(ctx, raw)
}

func waitEvent(t *testing.T, ch <-chan Event, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event")
		}
	}
}

func tickEvent(ex domain.ExchangeID) func(Event) bool {
	return func(e Event) bool { return e.Kind == EventTick && e.Exchange == ex }
}

func newTick(ex domain.ExchangeID, sym string, cur int64) domain.PriceTick {
	return domain.PriceTick{
		Exchange: ex,
		Symbol:   sym,
		Current:  decimal.NewFromInt(cur),
		High:     decimal.NewFromInt(cur + 5),
		Low:      decimal.NewFromInt(cur - 2),
	}
}

// TestSelectPairResetsBeforeBind 快照必须在建立新订阅之前清空
func TestSelectPairResetsBeforeBind(t *testing.T) {
	h := newHarness(t)
	var snapAtBind int
	var pairAtBind domain.TradingPair
	h.subs.onBind = func(pair domain.TradingPair) {
		snapAtBind = len(h.agg.Snapshot())
		pairAtBind, _ = h.agg.ActivePair()
	}

	if err := h.selectPair(t, "BTCUSDT"); err != nil {
		t.Fatalf("SelectPair failed: %v", err)
	}
	sub, _ := h.subs.live()
	sub.ticks <- newTick(domain.ExchangeMEXC, "BTCUSDT", 100)
	waitEvent(t, h.svc.Changes(), tickEvent(domain.ExchangeMEXC))

	if err := h.selectPair(t, "ETHUSDT"); err != nil {
		t.Fatalf("SelectPair failed: %v", err)
	}
	if snapAtBind != 0 {
		t.Errorf("snapshot had %d entries when Bind ran", snapAtBind)
	}
	if pairAtBind.Raw != "ETHUSDT" {
		t.Errorf("active pair at bind = %q, want ETHUSDT", pairAtBind.Raw)
	}
	if n := len(h.svc.Snapshot()); n != 0 {
		t.Errorf("expected empty snapshot after SelectPair, got %d", n)
	}
}

func TestRapidSelectionsKeepOneSubscription(t *testing.T) {
	h := newHarness(t)

	if err := h.selectPair(t, "BTCUSDT"); err != nil {
		t.Fatalf("SelectPair BTCUSDT failed: %v", err)
	}
	btc, _ := h.subs.live()
	btc.ticks <- newTick(domain.ExchangeBybit, "BTCUSDT", 100)
	waitEvent(t, h.svc.Changes(), tickEvent(domain.ExchangeBybit))

	if err := h.selectPair(t, "ETHUSDT"); err != nil {
		t.Fatalf("SelectPair ETHUSDT failed: %v", err)
	}

	cur, live := h.subs.live()
	if live != 1 {
		t.Fatalf("expected exactly one live subscription, got %d", live)
	}
	if cur.pair.Raw != "ETHUSDT" {
		t.Errorf("expected live subscription for ETHUSDT, got %s", cur.pair.Raw)
	}
	if n := len(h.svc.Snapshot()); n != 0 {
		t.Errorf("expected no entries carried over from BTCUSDT, got %d", n)
	}

	// a BTC tick arriving on the new subscription is filtered
	cur.ticks <- newTick(domain.ExchangeBybit, "BTCUSDT", 101)
	cur.ticks <- newTick(domain.ExchangeKucoin, "ETH-USDT", 2000)
	waitEvent(t, h.svc.Changes(), tickEvent(domain.ExchangeKucoin))

	snap := h.svc.Snapshot()
	if _, ok := snap[domain.ExchangeBybit]; ok {
		t.Errorf("BTCUSDT tick merged under ETHUSDT selection")
	}
	if _, ok := snap[domain.ExchangeKucoin]; !ok {
		t.Errorf("expected kucoin ETH-USDT tick to be merged")
	}
}

// TestStaleTicksNeverReachNewSelection 旧订阅缓冲区里的 tick 在切换后不会被读取
func TestStaleTicksNeverReachNewSelection(t *testing.T) {
	h := newHarness(t)

	if err := h.selectPair(t, "BTCUSDT"); err != nil {
		t.Fatalf("SelectPair BTCUSDT failed: %v", err)
	}
	btc, _ := h.subs.live()

	// 服务端还没切换：旧连接上排着一个 BTC tick 和一个已经是 ETH 的 tick
	h.subs.onBind = func(pair domain.TradingPair) {
		if pair.Raw == "ETHUSDT" {
			btc.ticks <- newTick(domain.ExchangeMEXC, "BTCUSDT", 100)
			btc.ticks <- newTick(domain.ExchangeBybit, "ETHUSDT", 1999)
		}
	}
	if err := h.selectPair(t, "ETHUSDT"); err != nil {
		t.Fatalf("SelectPair ETHUSDT failed: %v", err)
	}

	eth, _ := h.subs.live()
	eth.ticks <- newTick(domain.ExchangeKucoin, "ETHUSDT", 2000)
	waitEvent(t, h.svc.Changes(), tickEvent(domain.ExchangeKucoin))

	snap := h.svc.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected only the kucoin tick from the new subscription, got %v", snap)
	}
	if _, ok := snap[domain.ExchangeKucoin]; !ok {
		t.Errorf("expected kucoin entry")
	}
	if n := len(btc.ticks); n != 2 {
		t.Errorf("old subscription must not be read after reselection, %d of 2 ticks left", n)
	}
}

// TestSelectionInterruptsConnecting 新的选择不需要等旧订阅连接完成
func TestSelectionInterruptsConnecting(t *testing.T) {
	h := newHarness(t)
	h.subs.hang = "BTCUSDT"

	btcDone := make(chan error, 1)
	go func() { btcDone <- h.svc.SelectPair(context.Background(), "BTCUSDT") }()
	waitEvent(t, h.svc.Changes(), func(e Event) bool {
		return e.Kind == EventStatus && e.Status == port.StatusConnecting && e.Pair.Raw == "BTCUSDT"
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.svc.SelectPair(ctx, "ETHUSDT"); err != nil {
		t.Fatalf("SelectPair ETHUSDT while BTCUSDT connecting failed: %v", err)
	}

	select {
	case err := <-btcDone:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("expected ErrSuperseded for BTCUSDT, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("BTCUSDT SelectPair did not return")
	}

	if pair, ok := h.svc.ActivePair(); !ok || pair.Raw != "ETHUSDT" {
		t.Errorf("expected ETHUSDT active, got %q", pair.Raw)
	}
	cur, live := h.subs.live()
	if live != 1 || cur == nil || cur.pair.Raw != "ETHUSDT" {
		t.Errorf("expected one live ETHUSDT subscription, got %d", live)
	}
	if st, _ := h.svc.Status(); st != port.StatusActive {
		t.Errorf("expected active status, got %s", st)
	}
}

func TestTrackingScenario(t *testing.T) {
	h := newHarness(t)

	if err := h.selectPair(t, "SOLUSDT"); err != nil {
		t.Fatalf("SelectPair failed: %v", err)
	}
	if len(h.svc.Snapshot()) != 0 {
		t.Fatalf("expected empty snapshot")
	}
	sub, _ := h.subs.live()

	sub.ticks <- newTick(domain.ExchangeMEXC, "SOLUSDT", 150)
	waitEvent(t, h.svc.Changes(), tickEvent(domain.ExchangeMEXC))
	snap := h.svc.Snapshot()
	if got := snap[domain.ExchangeMEXC]; !got.Current.Equal(decimal.NewFromInt(150)) || !got.High.Equal(decimal.NewFromInt(155)) || !got.Low.Equal(decimal.NewFromInt(148)) {
		t.Fatalf("unexpected mexc entry: %+v", got)
	}

	sub.ticks <- newTick("kraken", "SOLUSDT", 151)
	sub.ticks <- newTick(domain.ExchangeMEXC, "SOLUSDT", 152)
	waitEvent(t, h.svc.Changes(), tickEvent(domain.ExchangeMEXC))
	snap = h.svc.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected only mexc in snapshot, got %d entries", len(snap))
	}
	if !snap[domain.ExchangeMEXC].Current.Equal(decimal.NewFromInt(152)) {
		t.Errorf("expected last-write-wins 152, got %s", snap[domain.ExchangeMEXC].Current)
	}

	if err := h.selectPair(t, "BTCUSDT"); err != nil {
		t.Fatalf("SelectPair failed: %v", err)
	}
	if len(h.svc.Snapshot()) != 0 {
		t.Errorf("expected snapshot reset after selecting BTCUSDT")
	}

	h.repo.mu.Lock()
	defer h.repo.mu.Unlock()
	if len(h.repo.resets) != 2 || h.repo.resets[0] != "SOLUSDT" || h.repo.resets[1] != "BTCUSDT" {
		t.Errorf("unexpected mirror resets: %v", h.repo.resets)
	}
	if len(h.repo.upserts) != 2 {
		t.Errorf("expected 2 mirrored ticks, got %d", len(h.repo.upserts))
	}
}

func TestPrimingFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.primer.err = errors.New("http 500")

	if err := h.selectPair(t, "btc-usdt"); err != nil {
		t.Fatalf("SelectPair must not fail on priming error: %v", err)
	}
	select {
	case raw := <-h.primer.calls:
		if raw != "btc-usdt" {
			t.Errorf("expected raw symbol btc-usdt to be primed, got %q", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("priming request not sent")
	}
	if st, _ := h.svc.Status(); st != port.StatusActive {
		t.Errorf("expected active status, got %s", st)
	}
}

func TestBindFailureIsReported(t *testing.T) {
	h := newHarness(t)
	bindErr := errors.New("dial refused")
	h.subs.failWith = bindErr

	err := h.selectPair(t, "BTCUSDT")
	if !errors.Is(err, bindErr) {
		t.Fatalf("expected bind error, got %v", err)
	}
	waitEvent(t, h.svc.Changes(), func(e Event) bool {
		return e.Kind == EventStatus && e.Status == port.StatusConnectionFailed
	})
	st, stErr := h.svc.Status()
	if st != port.StatusConnectionFailed || !errors.Is(stErr, bindErr) {
		t.Errorf("expected connection failed status, got %s (%v)", st, stErr)
	}
	if pair, ok := h.svc.ActivePair(); !ok || pair.Raw != "BTCUSDT" {
		t.Errorf("selection should still be recorded after connection failure")
	}
	if len(h.svc.Snapshot()) != 0 {
		t.Errorf("expected empty snapshot")
	}
}

func TestEmptySelectionIsIdle(t *testing.T) {
	h := newHarness(t)

	if err := h.selectPair(t, "  "); err != nil {
		t.Fatalf("SelectPair failed: %v", err)
	}
	if h.subs.bindCount() != 0 {
		t.Errorf("blank selection must not create a subscription")
	}
	if _, ok := h.svc.ActivePair(); ok {
		t.Errorf("blank selection must leave no active pair")
	}

	if err := h.selectPair(t, "BTCUSDT"); err != nil {
		t.Fatalf("SelectPair failed: %v", err)
	}
	sub, _ := h.subs.live()
	sub.ticks <- newTick(domain.ExchangeMEXC, "BTCUSDT", 1)
	waitEvent(t, h.svc.Changes(), tickEvent(domain.ExchangeMEXC))

	if err := h.selectPair(t, ""); err != nil {
		t.Fatalf("SelectPair failed: %v", err)
	}
	if _, live := h.subs.live(); live != 0 {
		t.Errorf("expected subscription released on blank selection, %d live", live)
	}
	if len(h.svc.Snapshot()) != 0 {
		t.Errorf("expected empty snapshot")
	}
	select {
	case raw := <-h.primer.calls:
		if raw != "BTCUSDT" {
			t.Errorf("unexpected priming call %q", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected one priming call for BTCUSDT")
	}
	select {
	case raw := <-h.primer.calls:
		t.Errorf("blank selection must not prime, got %q", raw)
	default:
	}
}

func TestDroppedSubscriptionReportsStatus(t *testing.T) {
	h := newHarness(t)

	if err := h.selectPair(t, "BTCUSDT"); err != nil {
		t.Fatalf("SelectPair failed: %v", err)
	}
	sub, _ := h.subs.live()
	cause := errors.New("read: connection reset")
	sub.drop(cause)

	e := waitEvent(t, h.svc.Changes(), func(e Event) bool {
		return e.Kind == EventStatus && e.Status == port.StatusConnectionFailed
	})
	if !errors.Is(e.Err, ErrConnectionLost) || !errors.Is(e.Err, cause) {
		t.Errorf("expected ErrConnectionLost wrapping cause, got %v", e.Err)
	}
	if pair, ok := h.svc.ActivePair(); !ok || pair.Raw != "BTCUSDT" {
		t.Errorf("selection should survive a dropped connection")
	}
}

func TestRunReleasesOnShutdown(t *testing.T) {
	h := newHarness(t)

	if err := h.selectPair(t, "BTCUSDT"); err != nil {
		t.Fatalf("SelectPair failed: %v", err)
	}
	h.cancel()

	select {
	case err := <-h.done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}

	if _, live := h.subs.live(); live != 0 {
		t.Errorf("expected no live subscription after shutdown, got %d", live)
	}
	if err := h.svc.SelectPair(context.Background(), "ETHUSDT"); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after shutdown, got %v", err)
	}
}
