package push

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"xquote/internal/domain"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
	pingInterval = 25 * time.Second
)

// Subscription is a live push connection bound to one pair.
type Subscription struct {
	id    string
	pair  domain.TradingPair
	conn  *websocket.Conn
	codec codec

	ticks    chan domain.PriceTick
	done     chan struct{} // closed by Release
	readDone chan struct{} // closed when readLoop exits
	onDrop   func(*Subscription)

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func newSubscription(pair domain.TradingPair, conn *websocket.Conn, c codec, buffer int, onDrop func(*Subscription)) *Subscription {
	return &Subscription{
		id:       uuid.NewString(),
		pair:     pair,
		conn:     conn,
		codec:    c,
		ticks:    make(chan domain.PriceTick, buffer),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
		onDrop:   onDrop,
	}
}

func (s *Subscription) ID() string                     { return s.id }
func (s *Subscription) Pair() domain.TradingPair       { return s.pair }
func (s *Subscription) Ticks() <-chan domain.PriceTick { return s.ticks }

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Release unsubscribes and closes the connection. Safe to call more than once.
func (s *Subscription) Release() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		// unsubscribe / disconnect 是尽力而为，连接可能已断开
		for _, f := range s.codec.farewell() {
			_ = s.write(f)
		}
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	return err
}

func (s *Subscription) released() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// handshake 在 start 之前执行：JSON 协议发送 subscribe，Socket.IO 协议完成 namespace 连接
func (s *Subscription) handshake(timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.codec.handshake(s.conn, s.pair, timeout)
}

func (s *Subscription) write(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Subscription) start() {
	_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	go s.readLoop()
	go s.pingLoop()
}

func (s *Subscription) readLoop() {
	defer close(s.ticks)
	defer close(s.readDone)

	for {
		_, b, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))

		t, ok, err := s.decode(b)
		if err != nil {
			s.fail(err)
			return
		}
		if !ok {
			continue
		}
		select {
		case s.ticks <- t:
		case <-s.done:
			return
		}
	}
}

// fail 记录非主动释放导致的断开并通知 Manager
func (s *Subscription) fail(err error) {
	if s.released() {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	_ = s.conn.Close()
	if s.onDrop != nil {
		s.onDrop(s)
	}
}

// decode 返回 tick；只有服务端主动断开时返回 error，格式错误的帧直接丢弃
func (s *Subscription) decode(b []byte) (domain.PriceTick, bool, error) {
	payload, reply, err := s.codec.decode(b)
	if errors.Is(err, errServerDisconnect) {
		return domain.PriceTick{}, false, err
	}
	if err != nil {
		log.Debug().Str("sub", s.id).Err(err).Msg("push frame unmarshal failed")
		return domain.PriceTick{}, false, nil
	}
	if reply != nil {
		if err := s.write(reply); err != nil {
			log.Debug().Str("sub", s.id).Err(err).Msg("push reply failed")
		}
	}
	if payload == nil {
		return domain.PriceTick{}, false, nil
	}
	t, err := domain.DecodeTick(payload, time.Now())
	if err != nil {
		log.Debug().Str("sub", s.id).Err(err).Msg("tick dropped")
		return domain.PriceTick{}, false, nil
	}
	return t, true, nil
}

func (s *Subscription) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.readDone:
			return
		case <-ticker.C:
			_ = s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
		}
	}
}
