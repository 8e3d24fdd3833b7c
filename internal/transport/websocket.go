package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the backend.
	writeWait = 5 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong from the backend.
	pongWait = 25 * time.Second

	// Largest inbound envelope accepted.
	readLimit = 1 << 20

	handshakeTimeout = 10 * time.Second
)

// WebSocketTransport speaks the chat push channel over a websocket. The
// bearer token travels in the Authorization header and the user id as the
// userId query parameter.
type WebSocketTransport struct {
	rawURL string
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	stop    chan struct{}
	writeMu sync.Mutex
}

func NewWebSocketTransport(rawURL string) *WebSocketTransport {
	return &WebSocketTransport{
		rawURL: rawURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

func (t *WebSocketTransport) Name() string {
	return "websocket"
}

func (t *WebSocketTransport) StatusTarget() string {
	u, err := url.Parse(t.rawURL)
	if err != nil {
		return t.rawURL
	}

	return u.Host
}

func (t *WebSocketTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

func (t *WebSocketTransport) Connect(ctx context.Context, creds Credentials) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger("websocket", "target", t.StatusTarget())
	if t.conn != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}
	if t.rawURL == "" {
		logger.Warn("connect failed: socket url is empty")

		return errors.New("socket url is empty")
	}

	target, err := dialURL(t.rawURL, creds.UserID)
	if err != nil {
		return err
	}
	header := http.Header{}
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
	}

	logger.Info("connecting")
	conn, resp, err := t.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		logger.Warn("connect failed", "status", status, "error", err)

		return fmt.Errorf("dial websocket: %w", err)
	}

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	t.conn = conn
	t.stop = make(chan struct{})
	go t.keepalive(conn, t.stop)
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger("websocket", "target", t.StatusTarget())
	if t.conn == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}
	close(t.stop)
	conn := t.conn
	t.conn = nil
	t.stop = nil

	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()

	if err := conn.Close(); err != nil {
		logger.Warn("close failed", "error", err)

		return err
	}
	logger.Info("closed")

	return nil
}

// ReadFrame blocks until the next data frame arrives. Cancelling ctx does
// not interrupt a pending read; Close does.
func (t *WebSocketTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	logger := transportLogger("websocket")
	conn, err := t.currentConn()
	if err != nil {
		logger.Debug("read frame failed: not connected", "error", err)

		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("read frame failed", "error", err)

			return nil, fmt.Errorf("read websocket: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		logger.Debug("read frame", "len", len(payload))

		return payload, nil
	}
}

func (t *WebSocketTransport) WriteFrame(ctx context.Context, payload []byte) error {
	logger := transportLogger("websocket")
	conn, err := t.currentConn()
	if err != nil {
		logger.Debug("write frame failed: not connected", "error", err)

		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		logger.Warn("write frame failed", "payload_len", len(payload), "error", err)

		return fmt.Errorf("write websocket: %w", err)
	}
	logger.Debug("write frame", "payload_len", len(payload))

	return nil
}

func (t *WebSocketTransport) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				transportLogger("websocket").Debug("ping failed", "error", err)

				return
			}
		}
	}
}

func (t *WebSocketTransport) currentConn() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}

	return t.conn, nil
}

func dialURL(raw, userID string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if userID != "" {
		q := u.Query()
		q.Set("userId", userID)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
