package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"callnet/internal/core/domain"
	"callnet/pkg/eventqueue"
	"callnet/pkg/retry"
	"callnet/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errClientClosed = errors.New("signaling client closed")

// ClientConfig configures the signaling client of one user.
type ClientConfig struct {
	URL          string
	Token        string
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
	Retry        retry.Config
}

// WebSocketClient is the signaling transport of one user.
// It is shared by every call of that user and reference counted through Retain and Release.
type WebSocketClient struct {
	cfg    ClientConfig
	dialer *websocket.Dialer
	logger *zap.SugaredLogger
	events *eventqueue.Queue[domain.TransportEvent]

	// connectMu serializes dialing.
	connectMu sync.Mutex

	mu     sync.Mutex
	conn   *connection
	refs   int
	closed bool
}

// connection is one dialed socket; a reconnect creates a new one.
type connection struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (c *connection) stop() {
	c.once.Do(func() { close(c.done) })
}

func NewWebSocketClient(cfg ClientConfig, logger *zap.SugaredLogger) *WebSocketClient {
	return &WebSocketClient{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		logger: logger,
		events: eventqueue.New[domain.TransportEvent](),
	}
}

// Events returns the inbound event stream. It survives reconnects and ends with Close.
func (c *WebSocketClient) Events() <-chan domain.TransportEvent {
	return c.events.C()
}

// Connected reports whether a socket is currently open.
func (c *WebSocketClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the signaling server unless already connected.
func (c *WebSocketClient) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClientClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	target, err := c.dialURL()
	if err != nil {
		return err
	}

	retryCfg := c.cfg.Retry
	retryCfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warnw("signaling connect failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}

	ws, err := retry.RetryWithResult(ctx, retryCfg, func() (*websocket.Conn, error) {
		ws, resp, err := c.dialer.DialContext(ctx, target, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return ws, err
	})
	if err != nil {
		return fmt.Errorf("connect to signaling server: %w", err)
	}

	conn := &connection{ws: ws, done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return errClientClosed
	}
	c.conn = conn
	c.mu.Unlock()

	if c.cfg.PongTimeout > 0 {
		ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		})
	}

	go c.readLoop(conn)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(conn)
	}

	c.logger.Infow("connected to signaling server", "url", c.cfg.URL)
	c.events.Push(domain.TransportConnected{})
	return nil
}

// Send publishes call as a kind envelope. Delivery is not acknowledged.
func (c *WebSocketClient) Send(ctx context.Context, kind domain.SignalKind, call *domain.Call) error {
	ctx, span := tracing.TraceSignal(ctx, "send", string(kind), string(call.RoomID))
	defer span.End()

	env, err := domain.NewEnvelope(kind, call)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}

	if err := c.write(ctx, conn, env); err != nil {
		tracing.RecordError(ctx, err)
		c.drop(conn, err)
		return fmt.Errorf("send %s: %w", kind, err)
	}

	c.logger.Debugw("signal sent",
		"kind", kind,
		"room_id", call.RoomID,
		"call_id", call.ID,
	)
	return nil
}

// Retain registers one more user of the connection.
func (c *WebSocketClient) Retain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs++
}

// Release drops one user; the socket is closed when the last one releases it.
func (c *WebSocketClient) Release() error {
	c.mu.Lock()
	if c.refs > 0 {
		c.refs--
	}
	if c.refs > 0 {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.logger.Infow("closing idle signaling connection")
	return c.shutdown(conn)
}

// Close closes the socket regardless of users and ends the event stream.
func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = c.shutdown(conn)
	}
	c.events.Close()
	return err
}

func (c *WebSocketClient) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid signaling url: %w", err)
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *WebSocketClient) write(ctx context.Context, conn *connection, env *domain.Envelope) error {
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()

	deadline := c.writeDeadline()
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	conn.ws.SetWriteDeadline(deadline)
	return conn.ws.WriteJSON(env)
}

// writeDeadline returns the zero time, meaning no deadline, when WriteTimeout is unset.
func (c *WebSocketClient) writeDeadline() time.Time {
	if c.cfg.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.cfg.WriteTimeout)
}

func (c *WebSocketClient) readLoop(conn *connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			c.drop(conn, err)
			return
		}
		if c.cfg.PongTimeout > 0 {
			conn.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warnw("dropping malformed signaling frame", "error", err)
			continue
		}
		if env.Kind == domain.SignalError {
			c.logger.Warnw("signaling server reported an error",
				"room_id", env.RoomID,
				"error", env.Error,
			)
		}

		_, span := tracing.TraceSignal(context.Background(), "receive", string(env.Kind), string(env.RoomID))
		c.events.Push(domain.EnvelopeReceived{Envelope: env})
		span.End()
	}
}

func (c *WebSocketClient) pingLoop(conn *connection) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			conn.writeMu.Lock()
			err := conn.ws.WriteControl(websocket.PingMessage, nil, c.writeDeadline())
			conn.writeMu.Unlock()
			if err != nil {
				c.drop(conn, err)
				return
			}
		}
	}
}

// drop handles an unexpected loss of conn. It reports TransportFailed once per connection
// and does nothing when conn was already shut down on purpose.
func (c *WebSocketClient) drop(conn *connection, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	conn.stop()
	conn.ws.Close()

	c.logger.Warnw("signaling connection lost", "error", cause)
	c.events.Push(domain.TransportFailed{Err: cause})
}

func (c *WebSocketClient) shutdown(conn *connection) error {
	conn.stop()

	conn.writeMu.Lock()
	_ = conn.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.writeMu.Unlock()

	return conn.ws.Close()
}
