package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"xquote/internal/application/port"
	"xquote/internal/domain"
)

var (
	ErrStopped        = errors.New("tracker stopped")
	ErrConnectionLost = errors.New("push connection lost")
	// ErrSuperseded is returned to a SelectPair whose bind was overtaken by
	// a later selection.
	ErrSuperseded = errors.New("selection superseded")
)

type ServiceDeps struct {
	Aggregator   *domain.Aggregator
	Subscriber   Subscriber
	Primer       port.Primer
	Repo         Repository
	PrimeTimeout time.Duration
}

type selectCmd struct {
	raw   string
	reply chan error
}

// bindResult 由 bind goroutine 送回 Run，gen 不匹配的结果直接丢弃
type bindResult struct {
	gen   uint64
	pair  domain.TradingPair
	sub   port.Subscription
	err   error
	reply chan error
}

// Service 负责交易对切换：重置快照、发送预热请求、重建推送订阅，
// 并把订阅上的 tick 合并进快照。所有状态变更都在 Run 所在的 goroutine 上执行。
type Service struct {
	deps ServiceDeps

	cmds    chan selectCmd
	bound   chan bindResult
	events  chan Event
	stopped chan struct{}
	primeWG sync.WaitGroup
	bindWG  sync.WaitGroup

	// 仅由 Run 访问
	sub        port.Subscription
	gen        uint64
	cancelBind context.CancelFunc
	pending    chan error

	statusMu  sync.RWMutex
	status    port.Status
	statusErr error
}

func NewService(deps ServiceDeps) *Service {
	if deps.Repo == nil {
		deps.Repo = NewNoopRepo()
	}
	if deps.PrimeTimeout <= 0 {
		deps.PrimeTimeout = 5 * time.Second
	}
	return &Service{
		deps:    deps,
		cmds:    make(chan selectCmd),
		bound:   make(chan bindResult),
		events:  make(chan Event, 256),
		stopped: make(chan struct{}),
	}
}

// SelectPair switches tracking to rawSymbol and waits until the push
// subscription is Active or has failed. A blank symbol returns to the idle
// state. Connection failures are returned but are not fatal: the snapshot
// has already been reset and simply stays empty. If ctx ends first the
// selection still stands and the subscription keeps connecting; a later
// selection returns ErrSuperseded to the earlier caller.
func (s *Service) SelectPair(ctx context.Context, rawSymbol string) error {
	reply, err := s.Select(ctx, rawSymbol)
	if err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Select 只等待选择被事件循环接收，绑定结果稍后写入返回的 channel
func (s *Service) Select(ctx context.Context, rawSymbol string) (<-chan error, error) {
	cmd := selectCmd{raw: rawSymbol, reply: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
		return cmd.reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.stopped:
		return nil, ErrStopped
	}
}

// Snapshot returns a copy of the latest tick per exchange.
func (s *Service) Snapshot() domain.Snapshot {
	return s.deps.Aggregator.Snapshot()
}

func (s *Service) ActivePair() (domain.TradingPair, bool) {
	return s.deps.Aggregator.ActivePair()
}

// Changes delivers change notifications for re-render scheduling. Events are
// dropped when the reader falls behind; the snapshot is always complete.
func (s *Service) Changes() <-chan Event {
	return s.events
}

func (s *Service) Status() (port.Status, error) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status, s.statusErr
}

func (s *Service) Run(ctx context.Context) error {
	defer close(s.stopped)
	defer s.primeWG.Wait()
	defer s.bindWG.Wait()
	defer s.release()

	for {
		var ticks <-chan domain.PriceTick
		if s.sub != nil {
			ticks = s.sub.Ticks()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd := <-s.cmds:
			s.handleSelect(ctx, cmd)

		case res := <-s.bound:
			s.handleBound(res)

		case t, ok := <-ticks:
			if !ok {
				s.handleDrop()
				continue
			}
			s.handleTick(ctx, t)
		}
	}
}

func (s *Service) handleSelect(ctx context.Context, cmd selectCmd) {
	pair := domain.NewTradingPair(cmd.raw)

	// 先放弃旧句柄和进行中的 bind，reset 之后不会再读到旧交易对的 tick
	s.sub = nil
	s.supersede(ErrSuperseded)

	if pair.IsZero() {
		s.deps.Aggregator.Clear()
		s.mirrorReset(ctx, "")
		s.emit(Event{Kind: EventReset})
		if err := s.deps.Subscriber.Unbind(); err != nil {
			log.Warn().Err(err).Msg("unbind failed")
		}
		s.setStatus(port.StatusIdle, nil)
		s.emit(Event{Kind: EventStatus, Status: port.StatusIdle})
		cmd.reply <- nil
		return
	}

	s.deps.Aggregator.Reset(pair)
	s.mirrorReset(ctx, pair.Raw)
	s.emit(Event{Kind: EventReset, Pair: pair})

	s.prime(ctx, pair.Raw)

	s.setStatus(port.StatusConnecting, nil)
	s.emit(Event{Kind: EventStatus, Pair: pair, Status: port.StatusConnecting})

	s.bind(ctx, cmd.reply, pair)
}

// bind 在独立 goroutine 上建立订阅，Run 继续处理新的选择
func (s *Service) bind(ctx context.Context, reply chan error, pair domain.TradingPair) {
	bctx, cancel := context.WithCancel(ctx)
	s.cancelBind = cancel
	s.pending = reply
	gen := s.gen

	s.bindWG.Add(1)
	go func() {
		defer s.bindWG.Done()
		defer cancel()

		sub, err := s.deps.Subscriber.Bind(bctx, pair)
		res := bindResult{gen: gen, pair: pair, sub: sub, err: err, reply: reply}
		select {
		case s.bound <- res:
		case <-ctx.Done():
			// Run 已退出，release 中的 Unbind 负责关闭连接
		}
	}()
}

// supersede 作废进行中的 bind，并以 err 答复其调用方
func (s *Service) supersede(err error) {
	s.gen++
	if s.cancelBind != nil {
		s.cancelBind()
		s.cancelBind = nil
	}
	if s.pending != nil {
		s.pending <- err
		s.pending = nil
	}
}

func (s *Service) handleBound(res bindResult) {
	if res.gen != s.gen {
		// 过期结果：新的选择已经 Bind 或 Unbind，订阅由 Subscriber 释放
		log.Debug().Str("pair", res.pair.Raw).Msg("stale bind result dropped")
		return
	}
	s.cancelBind = nil
	s.pending = nil

	if res.err != nil {
		log.Warn().Str("pair", res.pair.Raw).Err(res.err).Msg("subscribe failed")
		s.setStatus(port.StatusConnectionFailed, res.err)
		s.emit(Event{Kind: EventStatus, Pair: res.pair, Status: port.StatusConnectionFailed, Err: res.err})
		res.reply <- res.err
		return
	}

	s.sub = res.sub
	s.setStatus(port.StatusActive, nil)
	s.emit(Event{Kind: EventStatus, Pair: res.pair, Status: port.StatusActive})
	log.Info().Str("pair", res.pair.Raw).Str("sub", res.sub.ID()).Msg("tracking pair")
	res.reply <- nil
}

func (s *Service) handleTick(ctx context.Context, t domain.PriceTick) {
	if !s.deps.Aggregator.Offer(t) {
		return
	}
	s.emit(Event{Kind: EventTick, Pair: s.sub.Pair(), Exchange: t.Exchange})

	if err := s.deps.Repo.UpsertLatestTick(ctx, t); err != nil {
		log.Warn().Str("exchange", string(t.Exchange)).Err(err).Msg("mirror upsert failed")
	}
}

func (s *Service) handleDrop() {
	sub := s.sub
	s.sub = nil

	err := ErrConnectionLost
	if cause := sub.Err(); cause != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	}
	log.Warn().Str("pair", sub.Pair().Raw).Str("sub", sub.ID()).Err(err).Msg("subscription ended")
	s.setStatus(port.StatusConnectionFailed, err)
	s.emit(Event{Kind: EventStatus, Pair: sub.Pair(), Status: port.StatusConnectionFailed, Err: err})
}

// prime 发送一次性预热请求，不等待结果，错误只记录日志
func (s *Service) prime(ctx context.Context, raw string) {
	if s.deps.Primer == nil {
		return
	}
	s.primeWG.Add(1)
	go func() {
		defer s.primeWG.Done()
		pctx, cancel := context.WithTimeout(ctx, s.deps.PrimeTimeout)
		defer cancel()
		if err := s.deps.Primer.Prime(pctx, raw); err != nil {
			log.Debug().Str("symbol", raw).Err(err).Msg("priming request failed")
		}
	}()
}

func (s *Service) mirrorReset(ctx context.Context, pair string) {
	if err := s.deps.Repo.ResetPair(ctx, pair); err != nil {
		log.Warn().Str("pair", pair).Err(err).Msg("mirror reset failed")
	}
}

func (s *Service) release() {
	s.sub = nil
	s.supersede(ErrStopped)
	if err := s.deps.Subscriber.Unbind(); err != nil {
		log.Warn().Err(err).Msg("unbind on shutdown failed")
	}
	s.setStatus(port.StatusIdle, nil)
}

func (s *Service) setStatus(st port.Status, err error) {
	s.statusMu.Lock()
	s.status = st
	s.statusErr = err
	s.statusMu.Unlock()
}

func (s *Service) emit(e Event) {
	select {
	case s.events <- e:
	default:
	}
}
