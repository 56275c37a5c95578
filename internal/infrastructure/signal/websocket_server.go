package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"callnet/internal/core/domain"
	"callnet/internal/core/services"
	"callnet/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Rejection reasons reported to Metrics.
const (
	RejectMalformed    = "malformed"
	RejectInvalid      = "invalid"
	RejectNotMember    = "not_participant"
	RejectRoomTaken    = "room_taken"
	RejectPeerOffline  = "peer_offline"
	RejectRateLimited  = "rate_limited"
	RejectUnauthorized = "unauthorized"
	RejectWriteFailed  = "write_failed"
)

const (
	defaultMaxMessage   = 64 * 1024
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Metrics observes relay activity.
type Metrics interface {
	ClientConnected()
	ClientDisconnected()
	EnvelopeRelayed(kind domain.SignalKind)
	EnvelopeRejected(reason string)
}

type noopMetrics struct{}

func (noopMetrics) ClientConnected()                  {}
func (noopMetrics) ClientDisconnected()               {}
func (noopMetrics) EnvelopeRelayed(domain.SignalKind) {}
func (noopMetrics) EnvelopeRejected(string)           {}

// ServerConfig configures the signaling relay.
type ServerConfig struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MessagesPerSecond float64 // 0 disables rate limiting
	Burst             int
	MaxMessageSize    int64
	AllowedOrigins    []string
}

// WebSocketServer relays call envelopes between the two parties of each room.
type WebSocketServer struct {
	auth     services.AuthService
	cfg      ServerConfig
	upgrader websocket.Upgrader
	metrics  Metrics
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[domain.UserID]*client
	rooms   map[domain.RoomID]*room
}

type client struct {
	user    domain.UserID
	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter
}

// room remembers the parties of one call so a disconnect can be turned into a hangup.
type room struct {
	call    domain.Call
	members map[domain.UserID]struct{}
}

func NewWebSocketServer(auth services.AuthService, cfg ServerConfig, metrics Metrics, logger *zap.SugaredLogger) *WebSocketServer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessage
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	s := &WebSocketServer{
		auth:    auth,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		clients: make(map[domain.UserID]*client),
		rooms:   make(map[domain.RoomID]*room),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		s.metrics.EnvelopeRejected(RejectUnauthorized)
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		s.metrics.EnvelopeRejected(RejectUnauthorized)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{user: claims.UserID, conn: conn}
	if s.cfg.MessagesPerSecond > 0 {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), burst)
	}

	s.register(c)
	defer s.unregister(c)

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(c, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Infow("error reading from client", "user_id", c.user, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if c.limiter != nil && !c.limiter.Allow() {
			s.metrics.EnvelopeRejected(RejectRateLimited)
			s.sendError(c, "", "rate limit exceeded")
			continue
		}
		s.handleFrame(r.Context(), c, data)
	}
}

func (s *WebSocketServer) register(c *client) {
	s.mu.Lock()
	old := s.clients[c.user]
	s.clients[c.user] = c
	s.mu.Unlock()

	if old != nil {
		// a reconnect replaces the previous socket
		old.conn.Close()
		s.logger.Infow("closing previous connection for reconnecting user", "user_id", c.user)
	}
	s.metrics.ClientConnected()
	s.logger.Infow("user connected", "user_id", c.user, "reconnect", old != nil)
}

// unregister forgets c and tells the other party of each of its rooms that the call is over.
func (s *WebSocketServer) unregister(c *client) {
	c.conn.Close()

	s.mu.Lock()
	if s.clients[c.user] != c {
		// replaced by a newer connection; rooms belong to it now
		s.mu.Unlock()
		s.metrics.ClientDisconnected()
		return
	}
	delete(s.clients, c.user)

	type notice struct {
		to   *client
		call domain.Call
	}
	var notices []notice
	for id, rm := range s.rooms {
		if _, ok := rm.members[c.user]; !ok {
			continue
		}
		if peer := s.clients[rm.call.Peer(c.user)]; peer != nil {
			notices = append(notices, notice{to: peer, call: rm.call})
		}
		delete(s.rooms, id)
	}
	s.mu.Unlock()

	for _, n := range notices {
		call := n.call
		call.Status = domain.TerminalFor(call.Status)
		call.Active = false
		env, err := domain.NewEnvelope(domain.SignalHangup, &call)
		if err != nil {
			continue
		}
		env.From = c.user
		if err := s.write(n.to, env); err != nil {
			s.logger.Warnw("failed to deliver disconnect hangup", "user_id", n.to.user, "error", err)
			continue
		}
		s.metrics.EnvelopeRelayed(domain.SignalHangup)
	}

	s.metrics.ClientDisconnected()
	s.logger.Infow("user disconnected", "user_id", c.user, "rooms_closed", len(notices))
}

func (s *WebSocketServer) handleFrame(ctx context.Context, from *client, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.metrics.EnvelopeRejected(RejectMalformed)
		s.sendError(from, "", "malformed envelope: "+err.Error())
		return
	}

	ctx, span := tracing.TraceSignal(ctx, "relay", string(env.Kind), string(env.RoomID))
	defer span.End()

	if err := s.relay(from, &env); err != nil {
		tracing.RecordError(ctx, err)
		s.sendError(from, env.RoomID, err.Error())
	}
}

var (
	errNotMember   = errors.New("sender is not a participant of the call")
	errPeerOffline = errors.New("peer is not connected")
	errRoomTaken   = errors.New("room belongs to another call")
)

func (s *WebSocketServer) relay(from *client, env *domain.Envelope) error {
	if err := env.Validate(); err != nil {
		s.metrics.EnvelopeRejected(RejectInvalid)
		return err
	}
	call, err := env.Call()
	if err != nil {
		s.metrics.EnvelopeRejected(RejectInvalid)
		return err
	}
	if !call.Involves(from.user) {
		s.metrics.EnvelopeRejected(RejectNotMember)
		return errNotMember
	}

	target := call.Peer(from.user)
	env.From = from.user
	env.Destination = env.Kind.Destination()

	s.mu.Lock()
	rm, ok := s.rooms[env.RoomID]
	if ok && !rm.sameCall(call) {
		s.mu.Unlock()
		s.metrics.EnvelopeRejected(RejectRoomTaken)
		s.logger.Warnw("envelope names a room owned by another call",
			"kind", env.Kind,
			"room_id", env.RoomID,
			"call_id", call.ID,
			"from", from.user,
		)
		return errRoomTaken
	}
	switch {
	case env.Kind == domain.SignalHangup:
		delete(s.rooms, env.RoomID)
	case !ok:
		rm = &room{members: make(map[domain.UserID]struct{})}
		s.rooms[env.RoomID] = rm
		fallthrough
	default:
		rm.call = callParties(call)
		rm.members[from.user] = struct{}{}
		rm.members[target] = struct{}{}
	}
	peer := s.clients[target]
	s.mu.Unlock()

	if peer == nil {
		s.metrics.EnvelopeRejected(RejectPeerOffline)
		return fmt.Errorf("%w: %s", errPeerOffline, target)
	}
	if err := s.write(peer, env); err != nil {
		s.metrics.EnvelopeRejected(RejectWriteFailed)
		return fmt.Errorf("deliver to %s: %w", target, err)
	}

	s.metrics.EnvelopeRelayed(env.Kind)
	s.logger.Debugw("envelope relayed",
		"kind", env.Kind,
		"room_id", env.RoomID,
		"from", from.user,
		"to", target,
	)
	return nil
}

// sameCall reports whether c is the call attempt the room was opened for.
func (rm *room) sameCall(c *domain.Call) bool {
	return rm.call.ID == c.ID &&
		rm.call.CallerID == c.CallerID &&
		rm.call.CalleeID == c.CalleeID
}

// callParties keeps only the routing identity of a call.
func callParties(c *domain.Call) domain.Call {
	return domain.Call{
		ID:        c.ID,
		CallerID:  c.CallerID,
		CalleeID:  c.CalleeID,
		RoomID:    c.RoomID,
		VideoCall: c.VideoCall,
		Timestamp: c.Timestamp,
		Status:    c.Status,
	}
}

func (s *WebSocketServer) write(c *client, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return c.conn.WriteJSON(v)
}

func (s *WebSocketServer) sendError(c *client, roomID domain.RoomID, message string) {
	env := &domain.Envelope{
		Kind:   domain.SignalError,
		RoomID: roomID,
		Error:  message,
	}
	if err := s.write(c, env); err != nil {
		s.logger.Debugw("failed to send error envelope", "user_id", c.user, "error", err)
	}
}

func (s *WebSocketServer) pingLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "user_id", c.user, "error", err)
				c.conn.Close()
				return
			}
		}
	}
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	connectionCount := len(s.clients)
	roomCount := len(s.rooms)
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": connectionCount,
		"rooms":       roomCount,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *WebSocketServer) ConnectedUsers() []domain.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserID, 0, len(s.clients))
	for user := range s.clients {
		users = append(users, user)
	}
	return users
}

func (s *WebSocketServer) IsUserConnected(user domain.UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[user]
	return ok
}

// Shutdown closes every client connection.
func (s *WebSocketServer) Shutdown() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	}
}
