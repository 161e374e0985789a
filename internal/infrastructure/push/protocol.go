package push

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"xquote/internal/domain"
)

// Protocol 推送通道的帧格式
type Protocol string

const (
	// ProtocolSocketIO speaks Engine.IO v4 / Socket.IO over a plain websocket,
	// which is what the Flask-SocketIO quote server exposes.
	ProtocolSocketIO Protocol = "socketio"
	// ProtocolJSON uses {"op":"subscribe"} / {"event":..,"data":..} frames.
	ProtocolJSON Protocol = "json"
)

var errServerDisconnect = errors.New("server closed the session")

func (p Protocol) DefaultPath() string {
	if p == ProtocolJSON {
		return "/ws"
	}
	return "/socket.io/"
}

// Endpoint builds the websocket URL for p from an http(s) base address.
func Endpoint(baseURL, path string, p Protocol) (string, error) {
	raw, err := EndpointFromBase(baseURL, path)
	if err != nil {
		return "", err
	}
	if p != ProtocolSocketIO {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// codec 负责握手、解码和告别帧，Subscription 只管读写循环
type codec interface {
	// handshake runs once after dial, before the read loop starts.
	handshake(conn *websocket.Conn, pair domain.TradingPair, timeout time.Duration) error
	// decode returns the price_update payload (nil if the frame is not one)
	// and an optional reply frame.
	decode(b []byte) (payload json.RawMessage, reply []byte, err error)
	// farewell frames are written on release, before the close frame.
	farewell() [][]byte
}

func newCodec(p Protocol) codec {
	if p == ProtocolJSON {
		return jsonCodec{}
	}
	return socketIOCodec{}
}

type clientFrame struct {
	Op     string `json:"op"`
	Event  string `json:"event"`
	Symbol string `json:"symbol,omitempty"`
}

type serverFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type jsonCodec struct{}

func (jsonCodec) handshake(conn *websocket.Conn, pair domain.TradingPair, timeout time.Duration) error {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	return conn.WriteJSON(clientFrame{Op: "subscribe", Event: domain.EventPriceUpdate, Symbol: pair.Raw})
}

func (jsonCodec) decode(b []byte) (json.RawMessage, []byte, error) {
	var f serverFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, nil, err
	}
	if f.Event != domain.EventPriceUpdate {
		return nil, nil, nil
	}
	return f.Data, nil, nil
}

func (jsonCodec) farewell() [][]byte {
	b, _ := json.Marshal(clientFrame{Op: "unsubscribe", Event: domain.EventPriceUpdate})
	return [][]byte{b}
}

// Engine.IO v4 packet types 与 Socket.IO packet types
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'

	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

// socketIOCodec: 服务端对所有客户端广播 price_update，订阅只是在本地注册事件，
// 交易对过滤交给 Aggregator。
type socketIOCodec struct{}

func (socketIOCodec) handshake(conn *websocket.Conn, _ domain.TradingPair, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	_, b, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("engine.io open: %w", err)
	}
	if len(b) == 0 || b[0] != eioOpen {
		return fmt.Errorf("engine.io open: unexpected packet %q", b)
	}

	// 连接默认 namespace
	if err := conn.WriteMessage(websocket.TextMessage, []byte{eioMessage, sioConnect}); err != nil {
		return fmt.Errorf("socket.io connect: %w", err)
	}

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("socket.io connect: %w", err)
		}
		switch {
		case len(b) == 1 && b[0] == eioPing:
			if err := conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				return err
			}
		case len(b) >= 2 && b[0] == eioMessage && b[1] == sioConnect:
			return nil
		case len(b) >= 2 && b[0] == eioMessage && b[1] == sioConnectError:
			return fmt.Errorf("socket.io connect rejected: %s", b[2:])
		case len(b) >= 1 && b[0] == eioClose:
			return errServerDisconnect
		}
	}
}

func (socketIOCodec) decode(b []byte) (json.RawMessage, []byte, error) {
	if len(b) == 0 {
		return nil, nil, nil
	}
	switch b[0] {
	case eioPing:
		return nil, []byte{eioPong}, nil
	case eioClose:
		return nil, nil, errServerDisconnect
	case eioMessage:
	default:
		return nil, nil, nil
	}
	if len(b) < 2 {
		return nil, nil, nil
	}
	switch b[1] {
	case sioDisconnect:
		return nil, nil, errServerDisconnect
	case sioEvent:
	default:
		return nil, nil, nil
	}

	// 42[...] 或带 ack id 的 4213[...]；只处理默认 namespace
	body := bytes.TrimLeft(b[2:], "0123456789")
	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil {
		return nil, nil, err
	}
	if len(args) < 2 {
		return nil, nil, nil
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return nil, nil, err
	}
	if name != domain.EventPriceUpdate {
		return nil, nil, nil
	}
	return args[1], nil, nil
}

func (socketIOCodec) farewell() [][]byte {
	return [][]byte{{eioMessage, sioDisconnect}}
}
