package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait = 10 * time.Second
	closeGrace       = time.Second
)

type WebSocketOptions struct {
	// PingInterval enables keep-alive pings. The peer must answer within two intervals
	// or the next Receive fails.
	PingInterval time.Duration
	WriteWait    time.Duration
	Logger       *slog.Logger
}

// WebSocket adapts a gorilla connection to Transport. Every frame is a text message.
type WebSocket struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex // gorilla allows one concurrent writer
	writeWait    time.Duration
	pingInterval time.Duration
	logger       *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewWebSocket(conn *websocket.Conn, opts WebSocketOptions) *WebSocket {
	ws := &WebSocket{
		conn:         conn,
		writeWait:    opts.WriteWait,
		pingInterval: opts.PingInterval,
		logger:       opts.Logger,
		done:         make(chan struct{}),
	}
	if ws.writeWait <= 0 {
		ws.writeWait = defaultWriteWait
	}
	if ws.logger == nil {
		ws.logger = slog.Default()
	}

	if ws.pingInterval > 0 {
		pongWait := 2 * ws.pingInterval
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go ws.pingLoop()
	}
	return ws
}

// DialWebSocket opens a client connection offering the given subprotocols.
func DialWebSocket(ctx context.Context, url string, subprotocols []string, opts WebSocketOptions) (*WebSocket, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     subprotocols,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return NewWebSocket(conn, opts), nil
}

// Subprotocol returns the subprotocol agreed during the handshake.
func (ws *WebSocket) Subprotocol() string { return ws.conn.Subprotocol() }

// RemoteAddr returns the peer's network address.
func (ws *WebSocket) RemoteAddr() string { return ws.conn.RemoteAddr().String() }

func (ws *WebSocket) Send(ctx context.Context, frame []byte) error {
	select {
	case <-ws.done:
		return ErrClosed
	default:
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	deadline := time.Now().Add(ws.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.conn.SetWriteDeadline(deadline)
	if err := ws.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return ws.mapErr(err)
	}
	return nil
}

// Receive returns the next text message. Binary messages are not OCPP-J frames and
// are skipped. Once ctx ends during a read the connection is unusable and should be closed.
func (ws *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	// Wake a blocked read when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = ws.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, data, err := ws.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ws.mapErr(err)
		}
		if kind != websocket.TextMessage {
			ws.logger.Debug("transport: skipping non-text message", "type", kind)
			continue
		}
		return data, nil
	}
}

func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = ws.conn.Close()
	})
	return err
}

// pingLoop sends a ping every interval until the connection closes. A failed ping
// closes the connection so the read side notices.
func (ws *WebSocket) pingLoop() {
	ticker := time.NewTicker(ws.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.writeWait))
			if err != nil {
				ws.logger.Warn("transport: ping failed", "remote", ws.RemoteAddr(), "error", err)
				_ = ws.Close()
				return
			}
		}
	}
}

func (ws *WebSocket) mapErr(err error) error {
	select {
	case <-ws.done:
		return ErrClosed
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return ErrClosed
	}
	return err
}
