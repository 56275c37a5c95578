package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"
	"callnet/pkg/eventqueue"
	"callnet/pkg/tracing"
	"callnet/pkg/utils"
	"callnet/pkg/validation"

	"go.uber.org/zap"
)

var (
	ErrControllerStopped    = errors.New("call controller stopped")
	ErrSignalingUnavailable = errors.New("signaling server unavailable")
)

const (
	maxOrphanCandidates = 64
	maxOrphanCalls      = 32
	orphanTTL           = 30 * time.Second
)

// CallUpdate is a call as seen by the local user, published on every change.
type CallUpdate struct {
	domain.Call
	Name         string `json:"name"`
	Muted        bool   `json:"muted"`
	Speaker      bool   `json:"speaker"`
	VideoEnabled bool   `json:"videoEnabled"`
}

type CallControllerOptions struct {
	RingTimeout  time.Duration
	TickInterval time.Duration
	StoreTimeout time.Duration
	// StayConnected keeps the signaling connection open between calls so
	// offers can be received.
	StayConnected bool
	// PresenceRetry is the pause between reconnect rounds. Each round is one
	// transport Connect, which applies its own backoff.
	PresenceRetry time.Duration
	Now           func() time.Time
}

func DefaultCallControllerOptions() CallControllerOptions {
	return CallControllerOptions{
		RingTimeout:   45 * time.Second,
		TickInterval:  time.Second,
		StoreTimeout:  5 * time.Second,
		StayConnected: true,
		PresenceRetry: 30 * time.Second,
		Now:           time.Now,
	}
}

// orphanKey names a call whose candidates arrived before its offer.
type orphanKey struct {
	room domain.RoomID
	id   domain.CallID
}

type orphanCandidates struct {
	candidates []domain.Candidate
	since      time.Time
	seq        uint64
}

type callState struct {
	call     domain.Call
	outgoing bool
	session  ports.PeerSession
	retained bool
	answered bool

	// remote candidates received before the user accepted
	pendingRemote []domain.Candidate

	muted   bool
	speaker bool
	video   bool

	ringTimer *time.Timer
	accruing  bool
	accrued   time.Duration
	lastTick  time.Time
}

// CallController drives the lifecycle of every call of the local user.
//
// All call state is owned by the goroutine running Run. Public methods post a
// closure to it and wait for the result, so session callbacks, inbound
// envelopes, timers and API calls never race on a call.
type CallController struct {
	identity  ports.IdentityProvider
	transport ports.SignalingTransport
	sessions  ports.SessionFactory
	calls     ports.CallRepository
	notifier  ports.Notifier
	metrics   ports.CallMetrics
	opts      CallControllerOptions
	logger    *zap.SugaredLogger

	ops  chan func()
	done chan struct{}

	// owned by the loop
	runCtx       context.Context
	sendCtx      context.Context
	user         domain.UserID
	engineReady  bool
	initializing bool
	presence     bool
	reconnecting bool
	active       map[domain.CallID]*callState
	rooms        map[domain.RoomID]domain.CallID
	orphans      map[orphanKey]*orphanCandidates
	orphanSeq    uint64

	subMu   sync.Mutex
	subs    map[int]*eventqueue.Queue[CallUpdate]
	nextSub int
}

func NewCallController(
	identity ports.IdentityProvider,
	transport ports.SignalingTransport,
	sessions ports.SessionFactory,
	calls ports.CallRepository,
	notifier ports.Notifier,
	metrics ports.CallMetrics,
	opts CallControllerOptions,
	logger *zap.SugaredLogger,
) *CallController {
	defaults := DefaultCallControllerOptions()
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaults.TickInterval
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaults.StoreTimeout
	}
	if opts.PresenceRetry <= 0 {
		opts.PresenceRetry = defaults.PresenceRetry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if metrics == nil {
		metrics = noopCallMetrics{}
	}

	return &CallController{
		identity:  identity,
		transport: transport,
		sessions:  sessions,
		calls:     calls,
		notifier:  notifier,
		metrics:   metrics,
		opts:      opts,
		logger:    logger,
		ops:       make(chan func()),
		done:      make(chan struct{}),
		active:    make(map[domain.CallID]*callState),
		rooms:     make(map[domain.RoomID]domain.CallID),
		orphans:   make(map[orphanKey]*orphanCandidates),
		subs:      make(map[int]*eventqueue.Queue[CallUpdate]),
	}
}

// Run processes controller work until ctx is cancelled. It must be called once.
// On return every live call has been ended and all subscriptions are closed.
func (c *CallController) Run(ctx context.Context) error {
	defer close(c.done)

	user, err := c.identity.CurrentUserID(ctx)
	if err != nil {
		return fmt.Errorf("resolve current user: %w", err)
	}
	c.user = user
	c.runCtx = ctx
	// hangups are still sent while shutting down
	c.sendCtx = context.WithoutCancel(ctx)

	c.logger.Infow("call controller started", "user_id", user)

	c.startInitialization()
	if c.opts.StayConnected {
		c.transport.Retain()
		c.presence = true
		c.scheduleReconnect()
	}

	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case fn := <-c.ops:
			fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleTransportEvent(ev)
		case <-ticker.C:
			c.tick()
		}
	}
}

// PlaceCall starts an outgoing call to callee. An empty room gets a generated id.
func (c *CallController) PlaceCall(ctx context.Context, callee domain.UserID, room domain.RoomID, video bool) (*CallUpdate, error) {
	ctx, span := tracing.TraceCallOperation(ctx, "place", "", string(room))
	defer span.End()

	if err := validation.ValidateUserID(string(callee)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCall, err)
	}
	if room != "" {
		if err := validation.ValidateRoomID(string(room)); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCall, err)
		}
	}

	ready, err := submit(ctx, c, func() (bool, error) { return c.engineReady, nil })
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, domain.ErrEngineNotReady
	}

	if err := c.transport.Connect(ctx); err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("%w: %w", ErrSignalingUnavailable, err)
	}

	update, err := submit(ctx, c, func() (*CallUpdate, error) {
		return c.placeCall(ctx, callee, room, video)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return update, err
}

// Accept answers an INCOMING call.
func (c *CallController) Accept(ctx context.Context, id domain.CallID) (*CallUpdate, error) {
	ctx, span := tracing.TraceCallOperation(ctx, "accept", string(id), "")
	defer span.End()

	update, err := submit(ctx, c, func() (*CallUpdate, error) {
		return c.accept(ctx, id)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return update, err
}

// EndCall hangs up a call. Ending an already terminal call returns it unchanged.
func (c *CallController) EndCall(ctx context.Context, id domain.CallID) (*CallUpdate, error) {
	ctx, span := tracing.TraceCallOperation(ctx, "end", string(id), "")
	defer span.End()

	return submit(ctx, c, func() (*CallUpdate, error) {
		st := c.active[id]
		if st == nil {
			return c.stored(ctx, id)
		}
		c.finish(st, "local hangup", true)
		return c.update(st), nil
	})
}

func (c *CallController) Get(ctx context.Context, id domain.CallID) (*CallUpdate, error) {
	return submit(ctx, c, func() (*CallUpdate, error) {
		if st := c.active[id]; st != nil {
			return c.update(st), nil
		}
		return c.stored(ctx, id)
	})
}

// Active lists live calls, oldest first.
func (c *CallController) Active(ctx context.Context) ([]CallUpdate, error) {
	return submit(ctx, c, func() ([]CallUpdate, error) {
		out := make([]CallUpdate, 0, len(c.active))
		for _, st := range c.sortedActive() {
			out = append(out, *c.update(st))
		}
		return out, nil
	})
}

func (c *CallController) ToggleMute(ctx context.Context, id domain.CallID) (*CallUpdate, error) {
	return c.toggle(ctx, id, func(st *callState) error {
		st.muted = !st.muted
		return nil
	})
}

func (c *CallController) ToggleSpeaker(ctx context.Context, id domain.CallID) (*CallUpdate, error) {
	return c.toggle(ctx, id, func(st *callState) error {
		st.speaker = !st.speaker
		return nil
	})
}

func (c *CallController) ToggleVideo(ctx context.Context, id domain.CallID) (*CallUpdate, error) {
	return c.toggle(ctx, id, func(st *callState) error {
		if !st.call.VideoCall {
			return fmt.Errorf("%w: not a video call", domain.ErrInvalidCall)
		}
		st.video = !st.video
		return nil
	})
}

// RetryInitialization starts another media engine build if the last one failed.
func (c *CallController) RetryInitialization() error {
	_, err := submit(context.Background(), c, func() (struct{}, error) {
		if !c.engineReady {
			c.startInitialization()
		}
		return struct{}{}, nil
	})
	return err
}

func (c *CallController) EngineReady(ctx context.Context) (bool, error) {
	return submit(ctx, c, func() (bool, error) { return c.engineReady, nil })
}

// Subscribe returns a stream of call updates. cancel closes the stream.
func (c *CallController) Subscribe() (<-chan CallUpdate, func()) {
	q := eventqueue.New[CallUpdate]()

	c.subMu.Lock()
	if c.subs == nil {
		c.subMu.Unlock()
		q.Close()
		return q.C(), func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = q
	c.subMu.Unlock()

	return q.C(), func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if q, ok := c.subs[id]; ok {
			delete(c.subs, id)
			q.Close()
		}
	}
}

// submit runs fn on the loop and waits for its result.
func submit[T any](ctx context.Context, c *CallController, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	var zero T
	ch := make(chan result, 1)
	op := func() {
		v, err := fn()
		ch <- result{v, err}
	}

	select {
	case c.ops <- op:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		return zero, ErrControllerStopped
	}
	r := <-ch
	return r.value, r.err
}

// post schedules fn on the loop. It reports false once the loop has stopped.
func (c *CallController) post(fn func()) bool {
	select {
	case c.ops <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *CallController) startInitialization() {
	if c.initializing {
		return
	}
	c.initializing = true
	c.sessions.Initialize(func(err error) {
		// may run on the loop itself when the engine is already built
		go c.post(func() { c.initialized(err) })
	})
}

func (c *CallController) initialized(err error) {
	c.initializing = false
	if err != nil {
		c.engineReady = false
		c.logger.Errorw("media engine initialization failed", "error", err)
		return
	}
	c.engineReady = true
	c.logger.Infow("media engine ready")
}

func (c *CallController) placeCall(ctx context.Context, callee domain.UserID, room domain.RoomID, video bool) (*CallUpdate, error) {
	if !c.engineReady {
		return nil, domain.ErrEngineNotReady
	}
	if callee == c.user {
		return nil, fmt.Errorf("%w: cannot call yourself", domain.ErrInvalidCall)
	}
	if room == "" {
		room = domain.RoomID(utils.GenerateRoomID())
	}
	if _, busy := c.rooms[room]; busy {
		return nil, fmt.Errorf("%w: room %s already has a live call", domain.ErrCallExists, room)
	}

	call := domain.Call{
		ID:        domain.CallID(utils.GenerateCallID()),
		CallerID:  c.user,
		CalleeID:  callee,
		RoomID:    room,
		Type:      domain.SDPTypeOffer,
		VideoCall: video,
		Timestamp: c.opts.Now().UTC(),
		Status:    domain.CallStatusOngoing,
	}

	session, err := c.sessions.NewSession(call.ID)
	if err != nil {
		return nil, err
	}

	sctx, cancel := c.storeContext()
	err = c.calls.Create(sctx, &call)
	cancel()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("store call: %w", err)
	}

	st := &callState{call: call, outgoing: true, session: session}
	c.track(st)
	c.transport.Retain()
	st.retained = true
	c.enterOngoing(st)
	c.watch(call.ID, session)
	c.metrics.CallStarted(video, true)

	c.logger.Infow("placing call",
		"call_id", call.ID,
		"room_id", call.RoomID,
		"peer_id", callee,
		"video", video,
	)

	if err := session.CreateOffer(ctx, video); err != nil {
		c.finish(st, "offer could not be started", false)
		return nil, err
	}

	c.publish(st)
	return c.update(st), nil
}

func (c *CallController) accept(ctx context.Context, id domain.CallID) (*CallUpdate, error) {
	st := c.active[id]
	if st == nil {
		stored, err := c.stored(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: call is %s", domain.ErrInvalidTransition, stored.Status)
	}
	if st.call.Status != domain.CallStatusIncoming {
		return nil, fmt.Errorf("%w: call is %s", domain.ErrInvalidTransition, st.call.Status)
	}
	if !c.engineReady {
		return nil, domain.ErrEngineNotReady
	}

	session, err := c.sessions.NewSession(id)
	if err != nil {
		return nil, err
	}
	st.session = session
	c.watch(id, session)
	c.stopRinging(st)

	st.call.Status = domain.CallStatusOngoing
	c.enterOngoing(st)
	c.metrics.CallTransition(domain.CallStatusIncoming, domain.CallStatusOngoing)
	c.persist(id, map[string]interface{}{"status": domain.CallStatusOngoing})

	c.logger.Infow("call accepted",
		"call_id", id,
		"room_id", st.call.RoomID,
		"peer_id", st.call.CallerID,
	)

	if err := session.AcceptOffer(ctx, st.call.SDP, st.call.VideoCall); err != nil {
		c.notifyFailure(st, "The call could not be answered.")
		c.finish(st, "answer could not be started", true)
		return nil, err
	}
	for _, cand := range st.pendingRemote {
		if err := session.AddRemoteCandidate(ctx, cand); err != nil {
			c.logger.Warnw("failed to add buffered remote candidate", "call_id", id, "error", err)
		}
	}
	st.pendingRemote = nil

	c.publish(st)
	return c.update(st), nil
}

func (c *CallController) toggle(ctx context.Context, id domain.CallID, fn func(st *callState) error) (*CallUpdate, error) {
	return submit(ctx, c, func() (*CallUpdate, error) {
		st := c.active[id]
		if st == nil {
			if _, err := c.stored(ctx, id); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: call has ended", domain.ErrInvalidTransition)
		}
		if st.call.Status != domain.CallStatusOngoing {
			return nil, fmt.Errorf("%w: call is %s", domain.ErrInvalidTransition, st.call.Status)
		}
		if err := fn(st); err != nil {
			return nil, err
		}
		c.publish(st)
		return c.update(st), nil
	})
}

// watch forwards session events onto the loop until the session closes.
func (c *CallController) watch(id domain.CallID, session ports.PeerSession) {
	go func() {
		for ev := range session.Events() {
			if !c.post(func() { c.handleSessionEvent(id, session, ev) }) {
				return
			}
		}
	}()
}

func (c *CallController) handleSessionEvent(id domain.CallID, session ports.PeerSession, ev domain.SessionEvent) {
	st := c.active[id]
	if st == nil || st.session != session {
		return
	}

	switch e := ev.(type) {
	case domain.LocalDescriptionReady:
		st.call.SDP = e.SDP
		st.call.Type = e.Type
		c.persist(id, map[string]interface{}{"sdp": e.SDP, "type": e.Type})

		kind := domain.SignalOffer
		if e.Type == domain.SDPTypeAnswer {
			kind = domain.SignalAnswer
		}
		msg := st.call
		if err := c.transport.Send(c.sendCtx, kind, &msg); err != nil {
			c.sendFailed(st, kind, err)
		}

	case domain.CandidateDiscovered:
		msg := st.call.WithCandidate(e.Candidate)
		if err := c.transport.Send(c.sendCtx, domain.SignalCandidate, &msg); err != nil {
			c.sendFailed(st, domain.SignalCandidate, err)
			return
		}
		st.call = msg
		c.persist(id, map[string]interface{}{
			"candidate":     e.Candidate.Candidate,
			"sdpMid":        e.Candidate.SDPMid,
			"sdpMLineIndex": e.Candidate.SDPMLineIndex,
		})

	case domain.IceStateChanged:
		if e.State.Up() {
			c.setActive(st)
		} else if e.State.Down() {
			c.connectionLost(st, "ice "+string(e.State))
		}

	case domain.ConnectionStateChanged:
		if e.State == domain.ConnectionStateConnected {
			c.setActive(st)
		} else if e.State.Down() {
			c.connectionLost(st, "connection "+string(e.State))
		}

	case domain.SignalingStateChanged:
		c.logger.Debugw("signaling state changed", "call_id", id, "state", e.State)

	case domain.NegotiationFailed:
		c.metrics.NegotiationFailed(e.Stage)
		c.logger.Errorw("call negotiation failed",
			"call_id", id,
			"stage", e.Stage,
			"error", e.Err,
		)
		c.notifyFailure(st, "The call could not be connected.")
		c.finish(st, "negotiation failed at "+e.Stage, true)

	case domain.QualityReported:
		c.metrics.MediaQuality(e.Metrics)
		c.logger.Debugw("media quality",
			"call_id", id,
			"packet_loss", e.Metrics.PacketLoss,
			"jitter", e.Metrics.Jitter,
			"rtt", e.Metrics.RoundTrip,
		)
	}
}

func (c *CallController) handleTransportEvent(ev domain.TransportEvent) {
	switch e := ev.(type) {
	case domain.EnvelopeReceived:
		c.handleEnvelope(e.Envelope)
	case domain.TransportFailed:
		c.transportFailed(e.Err)
	case domain.TransportConnected:
		c.logger.Infow("signaling connected", "user_id", c.user)
	}
}

func (c *CallController) handleEnvelope(env domain.Envelope) {
	if env.Kind == domain.SignalError {
		c.remoteError(env)
		return
	}
	if err := env.Validate(); err != nil {
		c.logger.Warnw("dropping invalid envelope", "kind", env.Kind, "error", err)
		return
	}
	call, err := env.Call()
	if err != nil {
		c.logger.Warnw("dropping undecodable envelope", "kind", env.Kind, "error", err)
		return
	}
	if !call.Involves(c.user) {
		c.logger.Warnw("dropping envelope for another user",
			"kind", env.Kind,
			"call_id", call.ID,
			"room_id", call.RoomID,
		)
		return
	}
	if env.From != call.Peer(c.user) {
		c.logger.Warnw("dropping envelope not sent by the other party",
			"kind", env.Kind,
			"call_id", call.ID,
			"room_id", call.RoomID,
			"from", env.From,
		)
		return
	}

	switch env.Kind {
	case domain.SignalOffer:
		c.incomingOffer(call)
	case domain.SignalAnswer:
		c.remoteAnswer(call)
	case domain.SignalCandidate:
		c.remoteCandidate(call)
	case domain.SignalHangup:
		if st := c.lookup(call); st != nil {
			c.finish(st, "remote hangup", false)
		} else {
			delete(c.orphans, orphanKey{call.RoomID, call.ID})
		}
	}
}

func (c *CallController) incomingOffer(call *domain.Call) {
	if call.CalleeID != c.user {
		c.logger.Warnw("ignoring offer not addressed to us", "call_id", call.ID, "room_id", call.RoomID)
		return
	}
	if c.lookup(call) != nil {
		c.logger.Debugw("ignoring duplicate offer", "call_id", call.ID)
		return
	}
	if _, taken := c.active[call.ID]; taken {
		c.logger.Warnw("ignoring offer reusing a live call id", "call_id", call.ID, "room_id", call.RoomID)
		return
	}
	if _, busy := c.rooms[call.RoomID]; busy {
		c.logger.Warnw("ignoring offer for a room with a live call", "call_id", call.ID, "room_id", call.RoomID)
		return
	}

	rec := domain.Call{
		ID:        call.ID,
		CallerID:  call.CallerID,
		CalleeID:  call.CalleeID,
		RoomID:    call.RoomID,
		SDP:       call.SDP,
		Type:      domain.SDPTypeOffer,
		VideoCall: call.VideoCall,
		Timestamp: call.Timestamp,
		Status:    domain.CallStatusIncoming,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = c.opts.Now().UTC()
	}

	sctx, cancel := c.storeContext()
	if err := c.calls.Create(sctx, &rec); err != nil && !errors.Is(err, domain.ErrCallExists) {
		c.logger.Errorw("failed to store incoming call", "call_id", rec.ID, "error", err)
	}
	cancel()

	st := &callState{call: rec}
	c.track(st)
	c.transport.Retain()
	st.retained = true
	key := orphanKey{rec.RoomID, rec.ID}
	if o := c.orphans[key]; o != nil {
		st.pendingRemote = o.candidates
		delete(c.orphans, key)
	}

	if c.opts.RingTimeout > 0 {
		id := rec.ID
		st.ringTimer = time.AfterFunc(c.opts.RingTimeout, func() {
			c.post(func() { c.ringExpired(id) })
		})
	}

	c.metrics.CallStarted(rec.VideoCall, false)
	c.logger.Infow("incoming call",
		"call_id", rec.ID,
		"room_id", rec.RoomID,
		"peer_id", rec.CallerID,
		"video", rec.VideoCall,
	)
	c.notify(st, domain.NotificationIncomingCall, "Incoming call",
		fmt.Sprintf("%s is calling you.", rec.CallerID))
	c.publish(st)
}

func (c *CallController) remoteAnswer(call *domain.Call) {
	st := c.lookup(call)
	if st == nil || !st.outgoing || st.session == nil || st.call.Status.IsTerminal() {
		c.logger.Debugw("ignoring answer for unknown call", "call_id", call.ID)
		return
	}
	if st.answered {
		c.logger.Debugw("ignoring duplicate answer", "call_id", call.ID)
		return
	}
	st.answered = true

	if err := st.session.SetRemoteAnswer(c.runCtx, call.SDP); err != nil {
		c.logger.Errorw("failed to apply answer", "call_id", st.call.ID, "error", err)
		c.notifyFailure(st, "The call could not be connected.")
		c.finish(st, "answer rejected", true)
	}
}

func (c *CallController) remoteCandidate(call *domain.Call) {
	cand, ok := call.CandidateInfo()
	if !ok {
		return
	}

	st := c.lookup(call)
	if st == nil {
		// offer not seen yet
		c.holdOrphan(orphanKey{call.RoomID, call.ID}, cand)
		return
	}
	if st.session == nil {
		st.pendingRemote = append(st.pendingRemote, cand)
		return
	}
	if err := st.session.AddRemoteCandidate(c.runCtx, cand); err != nil {
		c.logger.Warnw("failed to add remote candidate", "call_id", st.call.ID, "error", err)
	}
}

// holdOrphan keeps cand until its offer arrives. The oldest call is evicted
// when too many are waiting.
func (c *CallController) holdOrphan(key orphanKey, cand domain.Candidate) {
	o := c.orphans[key]
	if o == nil {
		if len(c.orphans) >= maxOrphanCalls {
			c.evictOldestOrphan()
		}
		c.orphanSeq++
		o = &orphanCandidates{since: c.opts.Now(), seq: c.orphanSeq}
		c.orphans[key] = o
	}
	if len(o.candidates) >= maxOrphanCandidates {
		c.logger.Warnw("dropping candidate for unknown call", "call_id", key.id, "room_id", key.room)
		return
	}
	o.candidates = append(o.candidates, cand)
}

func (c *CallController) evictOldestOrphan() {
	var (
		oldest orphanKey
		seq    uint64
		found  bool
	)
	for key, o := range c.orphans {
		if !found || o.seq < seq {
			oldest, seq, found = key, o.seq, true
		}
	}
	if found {
		c.logger.Warnw("dropping candidates for unknown call", "call_id", oldest.id, "room_id", oldest.room)
		delete(c.orphans, oldest)
	}
}

func (c *CallController) expireOrphans(now time.Time) {
	for key, o := range c.orphans {
		if now.Sub(o.since) >= orphanTTL {
			delete(c.orphans, key)
		}
	}
}

func (c *CallController) remoteError(env domain.Envelope) {
	c.logger.Warnw("signaling server rejected envelope",
		"room_id", env.RoomID,
		"error", env.Error,
	)
	id, ok := c.rooms[env.RoomID]
	if !ok {
		return
	}
	st := c.active[id]
	c.notifyFailure(st, fmt.Sprintf("The call could not be delivered: %s.", env.Error))
	c.finish(st, "signaling error: "+env.Error, false)
}

func (c *CallController) transportFailed(err error) {
	c.metrics.TransportFailure()
	c.logger.Warnw("signaling connection lost", "error", err)

	for _, st := range c.sortedActive() {
		c.notifyFailure(st, "The connection to the signaling server was lost.")
		c.finish(st, "signaling connection lost", false)
	}
	c.scheduleReconnect()
}

// scheduleReconnect restores the presence connection in the background.
func (c *CallController) scheduleReconnect() {
	if !c.presence || c.reconnecting {
		return
	}
	c.reconnecting = true

	ctx := c.runCtx
	go func() {
		err := c.transport.Connect(ctx)
		c.post(func() { c.reconnected(err) })
	}()
}

// reconnected schedules another round after a failed one for as long as
// presence is held.
func (c *CallController) reconnected(err error) {
	c.reconnecting = false
	if err == nil || c.runCtx.Err() != nil || !c.presence {
		return
	}
	c.logger.Warnw("signaling reconnect failed, trying again later",
		"retry_in", c.opts.PresenceRetry,
		"error", err,
	)
	c.reconnecting = true
	time.AfterFunc(c.opts.PresenceRetry, func() {
		c.post(func() {
			c.reconnecting = false
			c.scheduleReconnect()
		})
	})
}

func (c *CallController) ringExpired(id domain.CallID) {
	st := c.active[id]
	if st == nil || st.call.Status != domain.CallStatusIncoming {
		return
	}
	c.logger.Infow("call not answered", "call_id", id, "peer_id", st.call.CallerID)
	c.finish(st, "ring timeout", true)
}

func (c *CallController) setActive(st *callState) {
	if st.call.Status != domain.CallStatusOngoing || st.call.Active {
		return
	}
	st.call.Active = true
	st.accruing = true
	st.lastTick = c.opts.Now()
	c.persist(st.call.ID, map[string]interface{}{"active": true})

	c.logger.Infow("call connected", "call_id", st.call.ID, "room_id", st.call.RoomID)
	c.publish(st)
}

func (c *CallController) connectionLost(st *callState, reason string) {
	if st.call.Status != domain.CallStatusOngoing {
		return
	}
	if st.call.Active {
		c.notifyFailure(st, "The call was disconnected.")
	}
	c.finish(st, reason, true)
}

func (c *CallController) sendFailed(st *callState, kind domain.SignalKind, err error) {
	c.logger.Errorw("failed to send envelope",
		"call_id", st.call.ID,
		"kind", kind,
		"error", err,
	)
	c.notifyFailure(st, "The call could not reach the other party.")
	c.finish(st, "signaling send failed", false)
}

// enterOngoing applies the defaults of a freshly ONGOING call.
func (c *CallController) enterOngoing(st *callState) {
	st.muted = false
	st.speaker = true
	st.video = st.call.VideoCall
}

// finish moves st to its terminal status and releases everything it holds.
// It runs at most once per call.
func (c *CallController) finish(st *callState, reason string, sendHangup bool) {
	from := st.call.Status
	if from.IsTerminal() {
		return
	}
	to := domain.TerminalFor(from)

	c.accrue(st)
	st.accruing = false
	st.call.Status = to
	st.call.Active = false
	st.muted, st.speaker, st.video = false, false, false
	c.stopRinging(st)

	if sendHangup {
		hangup := st.call
		hangup.Candidate, hangup.SDPMid, hangup.SDPMLineIndex = "", nil, nil
		if err := c.transport.Send(c.sendCtx, domain.SignalHangup, &hangup); err != nil {
			c.logger.Warnw("failed to send hangup", "call_id", st.call.ID, "error", err)
		}
	}
	if st.session != nil {
		if err := st.session.Close(); err != nil {
			c.logger.Warnw("failed to close peer session", "call_id", st.call.ID, "error", err)
		}
		st.session = nil
	}
	if st.retained {
		st.retained = false
		if err := c.transport.Release(); err != nil {
			c.logger.Warnw("failed to release signaling connection", "error", err)
		}
	}

	c.persist(st.call.ID, map[string]interface{}{
		"status":   to,
		"active":   false,
		"duration": st.call.Duration,
	})
	c.metrics.CallTransition(from, to)
	c.metrics.CallFinished(to, st.accrued)

	delete(c.active, st.call.ID)
	if c.rooms[st.call.RoomID] == st.call.ID {
		delete(c.rooms, st.call.RoomID)
	}
	delete(c.orphans, orphanKey{st.call.RoomID, st.call.ID})

	c.logger.Infow("call finished",
		"call_id", st.call.ID,
		"room_id", st.call.RoomID,
		"status", to,
		"duration", st.call.Duration,
		"reason", reason,
	)
	c.publish(st)

	if to == domain.CallStatusMissed {
		c.notify(st, domain.NotificationMissedCall, "Missed call",
			fmt.Sprintf("You missed a call from %s.", st.call.CallerID))
	}
}

func (c *CallController) stopRinging(st *callState) {
	if st.ringTimer != nil {
		st.ringTimer.Stop()
		st.ringTimer = nil
	}
}

// accrue adds the time since the last tick to an active call's duration.
func (c *CallController) accrue(st *callState) {
	if !st.accruing {
		return
	}
	now := c.opts.Now()
	if d := now.Sub(st.lastTick); d > 0 {
		st.accrued += d
	}
	st.lastTick = now
	st.call.Duration = int64(st.accrued / time.Second)
}

func (c *CallController) tick() {
	c.expireOrphans(c.opts.Now())
	for _, st := range c.active {
		if !st.accruing {
			continue
		}
		before := st.call.Duration
		c.accrue(st)
		if st.call.Duration != before {
			c.publish(st)
		}
	}
}

func (c *CallController) shutdown() {
	for _, st := range c.sortedActive() {
		c.finish(st, "agent shutting down", true)
	}
	if c.presence {
		c.presence = false
		if err := c.transport.Release(); err != nil {
			c.logger.Warnw("failed to release signaling connection", "error", err)
		}
	}

	c.subMu.Lock()
	for _, q := range c.subs {
		q.Close()
	}
	c.subs = nil
	c.subMu.Unlock()

	c.logger.Infow("call controller stopped", "user_id", c.user)
}

func (c *CallController) track(st *callState) {
	c.active[st.call.ID] = st
	c.rooms[st.call.RoomID] = st.call.ID
}

// lookup finds the live call an inbound payload belongs to. The id, the room
// and both parties must match.
func (c *CallController) lookup(call *domain.Call) *callState {
	st := c.active[call.ID]
	if st == nil {
		return nil
	}
	if st.call.RoomID != call.RoomID ||
		st.call.CallerID != call.CallerID ||
		st.call.CalleeID != call.CalleeID {
		return nil
	}
	return st
}

func (c *CallController) sortedActive() []*callState {
	out := make([]*callState, 0, len(c.active))
	for _, st := range c.active {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].call.Timestamp.Before(out[j].call.Timestamp)
	})
	return out
}

func (c *CallController) stored(ctx context.Context, id domain.CallID) (*CallUpdate, error) {
	call, err := c.calls.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CallUpdate{Call: *call, Name: call.DisplayName(c.user)}, nil
}

func (c *CallController) update(st *callState) *CallUpdate {
	return &CallUpdate{
		Call:         st.call,
		Name:         st.call.DisplayName(c.user),
		Muted:        st.muted,
		Speaker:      st.speaker,
		VideoEnabled: st.video,
	}
}

func (c *CallController) publish(st *callState) {
	u := *c.update(st)
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, q := range c.subs {
		q.Push(u)
	}
}

func (c *CallController) persist(id domain.CallID, fields map[string]interface{}) {
	ctx, cancel := c.storeContext()
	defer cancel()
	if err := c.calls.UpdateFields(ctx, id, fields); err != nil {
		c.logger.Errorw("failed to persist call", "call_id", id, "error", err)
	}
}

func (c *CallController) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opts.StoreTimeout)
}

func (c *CallController) notifyFailure(st *callState, body string) {
	c.notify(st, domain.NotificationCallFailed, "Call failed", body)
}

// notify delivers n without blocking the loop.
func (c *CallController) notify(st *callState, kind domain.NotificationKind, title, body string) {
	n := domain.Notification{
		UserID:    c.user,
		Kind:      kind,
		Title:     title,
		Body:      body,
		CallID:    st.call.ID,
		CreatedAt: c.opts.Now().UTC(),
		Data: map[string]string{
			"roomId": string(st.call.RoomID),
			"peerId": string(st.call.Peer(c.user)),
		},
	}
	timeout := c.opts.StoreTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := c.notifier.Notify(ctx, n); err != nil {
			c.logger.Warnw("failed to deliver notification",
				"call_id", n.CallID,
				"kind", n.Kind,
				"error", err,
			)
		}
	}()
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, domain.Notification) error { return nil }

type noopCallMetrics struct{}

func (noopCallMetrics) CallStarted(bool, bool)                              {}
func (noopCallMetrics) CallTransition(domain.CallStatus, domain.CallStatus) {}
func (noopCallMetrics) CallFinished(domain.CallStatus, time.Duration)       {}
func (noopCallMetrics) NegotiationFailed(string)                            {}
func (noopCallMetrics) TransportFailure()                                   {}
func (noopCallMetrics) MediaQuality(domain.NetworkMetrics)                  {}
