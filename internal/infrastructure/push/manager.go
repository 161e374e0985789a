package push

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"xquote/internal/application/port"
	"xquote/internal/domain"
)

var (
	ErrConnectionFailed = errors.New("push connection failed")
	// ErrSuperseded is returned by a Bind that was overtaken by a later
	// Bind or Unbind while it was still connecting.
	ErrSuperseded = errors.New("push bind superseded")
)

// State 订阅状态机: Idle -> Connecting -> Active -> Closing -> Idle
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// RetryConfig 建立连接时的重试配置（指数退避）
type RetryConfig struct {
	MaxRetries int           // 最大重试次数
	InitialDel time.Duration // 初始延迟
	MaxDelay   time.Duration // 最大延迟
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	InitialDel: 500 * time.Millisecond,
	MaxDelay:   5 * time.Second,
}

type Config struct {
	URL         string // ws://host:port/socket.io/?EIO=4&transport=websocket
	Protocol    Protocol
	DialTimeout time.Duration
	BufferSize  int
	Retry       RetryConfig
}

// Manager owns at most one live Subscription. The dial runs without holding
// mu, so a later Bind or Unbind can cancel an attempt that is still Connecting.
type Manager struct {
	cfg       Config
	netDialer *net.Dialer

	mu         sync.Mutex
	state      State
	current    *Subscription
	gen        uint64
	cancelDial context.CancelFunc
}

func NewManager(cfg Config) *Manager {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	if cfg.Retry.InitialDel <= 0 {
		cfg.Retry.InitialDel = DefaultRetryConfig.InitialDel
	}
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolSocketIO
	}
	if cfg.Retry.MaxDelay < cfg.Retry.InitialDel {
		cfg.Retry.MaxDelay = cfg.Retry.InitialDel
	}
	return &Manager{
		cfg:       cfg,
		netDialer: &net.Dialer{},
	}
}

// Bind releases the live subscription (if any), cancels a dial still in
// flight and opens a new subscription for pair. On failure the manager is
// left Idle with no handle. A Bind overtaken by a later Bind or Unbind
// returns ErrSuperseded and leaves no connection behind.
func (m *Manager) Bind(ctx context.Context, pair domain.TradingPair) (port.Subscription, error) {
	m.mu.Lock()
	// 调用方已放弃时不能打断后来的 Bind
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.releaseLocked()
	m.gen++
	gen := m.gen
	dctx, cancel := context.WithCancel(ctx)
	m.cancelDial = cancel
	m.state = StateConnecting
	m.mu.Unlock()

	sub, err := m.open(dctx, pair)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		if sub != nil {
			_ = sub.Release()
		}
		log.Debug().Str("pair", pair.Raw).Msg("push bind superseded")
		return nil, ErrSuperseded
	}
	m.cancelDial = nil
	if err != nil {
		m.state = StateIdle
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	sub.start()
	m.current = sub
	m.state = StateActive
	log.Info().
		Str("sub", sub.ID()).
		Str("pair", pair.Raw).
		Str("url", m.cfg.URL).
		Msg("push subscribed")
	return sub, nil
}

// open 建立连接并完成握手，不持有 m.mu
func (m *Manager) open(ctx context.Context, pair domain.TradingPair) (*Subscription, error) {
	conn, err := m.dialWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	sub := newSubscription(pair, conn, newCodec(m.cfg.Protocol), m.cfg.BufferSize, m.dropped)

	// 握手期间被取消时关闭连接，让阻塞的读写立即返回
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	err = sub.handshake(m.cfg.DialTimeout)
	if !stop() || err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return sub, nil
}

// Unbind releases the live subscription and returns to Idle.
func (m *Manager) Unbind() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the live subscription or nil.
func (m *Manager) Current() port.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return m.current
}

func (m *Manager) releaseLocked() error {
	var err error
	if m.cancelDial != nil {
		// Connecting -> Closing: 让进行中的 Bind 作废
		m.state = StateClosing
		m.cancelDial()
		m.cancelDial = nil
		m.gen++
	}
	if m.current != nil {
		m.state = StateClosing
		sub := m.current
		m.current = nil
		err = sub.Release()
		log.Info().Str("sub", sub.ID()).Str("pair", sub.Pair().Raw).Msg("push released")
	}
	m.state = StateIdle
	return err
}

// dropped 连接在 Active 状态下意外断开时由 Subscription 回调
func (m *Manager) dropped(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != sub {
		return
	}
	m.current = nil
	m.state = StateIdle
	log.Warn().Str("sub", sub.ID()).Err(sub.Err()).Msg("push connection dropped")
}

func (m *Manager) dialWithRetry(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	delay := m.cfg.Retry.InitialDel

	for attempt := 0; attempt <= m.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Info().
				Str("url", m.cfg.URL).
				Int("attempt", attempt).
				Int64("delay_ms", delay.Milliseconds()).
				Msg("retrying push connection")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = minDur(delay*2, m.cfg.Retry.MaxDelay)
		}

		conn, err := m.dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.Warn().Str("url", m.cfg.URL).Err(err).Msg("push dial failed")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("dial %s after %d retries: %w", m.cfg.URL, m.cfg.Retry.MaxRetries, lastErr)
}

// dial 单次连接尝试。取消时直接关闭底层 TCP 连接，握手中的读写立即返回
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	var stop func() bool
	dialer := &websocket.Dialer{
		HandshakeTimeout: m.cfg.DialTimeout,
		NetDialContext: func(dctx context.Context, network, addr string) (net.Conn, error) {
			c, err := m.netDialer.DialContext(dctx, network, addr)
			if err != nil {
				return nil, err
			}
			stop = context.AfterFunc(cctx, func() { _ = c.Close() })
			return c, nil
		},
	}

	conn, _, err := dialer.DialContext(cctx, m.cfg.URL, nil)
	if stop != nil && !stop() {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, cctx.Err()
	}
	return conn, err
}

// EndpointFromBase 将 http(s) 基地址转换为 ws(s) 推送地址
func EndpointFromBase(baseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("base url has no host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String(), nil
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
