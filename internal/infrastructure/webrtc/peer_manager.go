package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"callnet/internal/core/domain"
	"callnet/pkg/eventqueue"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Negotiation stages reported in NegotiationFailed.
const (
	StageCreateConnection   = "create_connection"
	StageCreateOffer        = "create_offer"
	StageCreateAnswer       = "create_answer"
	StageSetLocal           = "set_local_description"
	StageSetRemote          = "set_remote_description"
	StageAddRemoteCandidate = "add_remote_candidate"
)

var errNoConnection = errors.New("no peer connection: offer or answer must be created first")

// PeerManager owns one peer connection for one call.
//
// Local candidates are held back until the local description is set and are
// emitted strictly after LocalDescriptionReady. Remote candidates are held back
// until the remote description is set and then applied in arrival order.
type PeerManager struct {
	callID     domain.CallID
	engine     Engine
	iceServers []webrtc.ICEServer
	logger     *zap.SugaredLogger
	events     *eventqueue.Queue[domain.SessionEvent]

	mu            sync.Mutex
	pc            PeerConnection
	localDescSet  bool
	remoteDescSet bool
	pendingLocal  []domain.Candidate
	pendingRemote []domain.Candidate
	closed        bool

	// remoteMu serializes AddICECandidate calls so buffered and live candidates keep their order.
	remoteMu sync.Mutex
	wg       sync.WaitGroup
}

func NewPeerManager(callID domain.CallID, engine Engine, iceServers []webrtc.ICEServer, logger *zap.SugaredLogger) *PeerManager {
	return &PeerManager{
		callID:     callID,
		engine:     engine,
		iceServers: iceServers,
		logger:     logger,
		events:     eventqueue.New[domain.SessionEvent](),
	}
}

// Events returns the ordered session event stream. It is closed by Close.
func (m *PeerManager) Events() <-chan domain.SessionEvent {
	return m.events.C()
}

// CreateOffer starts caller-side negotiation. The offer arrives as LocalDescriptionReady.
func (m *PeerManager) CreateOffer(ctx context.Context, video bool) error {
	pc, err := m.ensureConnection(video)
	if err != nil {
		return err
	}

	m.goNegotiate(func() {
		offer, err := pc.CreateOffer(nil)
		if err != nil {
			m.fail(StageCreateOffer, err)
			return
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			m.fail(StageSetLocal, err)
			return
		}
		m.localDescriptionSet(domain.SDPTypeOffer, offer.SDP)
	})
	return nil
}

// AcceptOffer applies the remote offer and produces an answer (callee side).
func (m *PeerManager) AcceptOffer(ctx context.Context, sdp string, video bool) error {
	pc, err := m.ensureConnection(video)
	if err != nil {
		return err
	}

	m.goNegotiate(func() {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
		if err := pc.SetRemoteDescription(offer); err != nil {
			m.fail(StageSetRemote, err)
			return
		}
		m.remoteDescriptionSet(pc)

		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			m.fail(StageCreateAnswer, err)
			return
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			m.fail(StageSetLocal, err)
			return
		}
		m.localDescriptionSet(domain.SDPTypeAnswer, answer.SDP)
	})
	return nil
}

// SetRemoteAnswer applies the callee's answer (caller side).
func (m *PeerManager) SetRemoteAnswer(ctx context.Context, sdp string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrSessionClosed
	}
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return errNoConnection
	}

	m.goNegotiate(func() {
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
		if err := pc.SetRemoteDescription(answer); err != nil {
			m.fail(StageSetRemote, err)
			return
		}
		m.remoteDescriptionSet(pc)
	})
	return nil
}

// AddRemoteCandidate applies c, or buffers it until the remote description is set.
func (m *PeerManager) AddRemoteCandidate(ctx context.Context, c domain.Candidate) error {
	m.remoteMu.Lock()
	defer m.remoteMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if !m.remoteDescSet {
		m.pendingRemote = append(m.pendingRemote, c)
		m.mu.Unlock()
		return nil
	}
	pc := m.pc
	m.mu.Unlock()

	if err := pc.AddICECandidate(toICECandidateInit(c)); err != nil {
		return fmt.Errorf("%s: %w", StageAddRemoteCandidate, err)
	}
	return nil
}

// Close tears down the connection and ends the event stream. Safe to call more than once.
func (m *PeerManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pc := m.pc
	m.pendingLocal = nil
	m.pendingRemote = nil
	m.mu.Unlock()

	var err error
	if pc != nil {
		err = pc.Close()
	}
	m.wg.Wait()
	m.events.Close()

	m.logger.Debugw("peer session closed", "call_id", m.callID)
	return err
}

func (m *PeerManager) ensureConnection(video bool) (PeerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, domain.ErrSessionClosed
	}
	if m.pc != nil {
		return m.pc, nil
	}

	pc, err := m.engine.NewPeerConnection(webrtc.Configuration{
		ICEServers:   m.iceServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageCreateConnection, err)
	}

	pc.OnICECandidate(m.onICECandidate)
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		m.logger.Infow("ice connection state changed",
			"call_id", m.callID,
			"ice_state", state.String(),
		)
		m.emit(domain.IceStateChanged{State: domain.IceState(state.String())})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Infow("peer connection state changed",
			"call_id", m.callID,
			"connection_state", state.String(),
		)
		m.emit(domain.ConnectionStateChanged{State: domain.ConnectionState(state.String())})
	})
	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		m.emit(domain.SignalingStateChanged{State: state.String()})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.logger.Infow("remote track started",
			"call_id", m.callID,
			"kind", track.Kind().String(),
			"codec", track.Codec().MimeType,
		)
		go m.readRTCP(receiver, track.Codec().ClockRate)
		go m.drainTrack(track)
	})

	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if video {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, kind := range kinds {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("%s: add %s transceiver: %w", StageCreateConnection, kind, err)
		}
	}

	m.pc = pc
	return pc, nil
}

func (m *PeerManager) onICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		// gathering complete
		return
	}
	init := c.ToJSON()
	cand := domain.Candidate{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if !m.localDescSet {
		m.pendingLocal = append(m.pendingLocal, cand)
		return
	}
	m.events.Push(domain.CandidateDiscovered{Candidate: cand})
}

// localDescriptionSet emits the description followed by any candidates gathered before it.
func (m *PeerManager) localDescriptionSet(sdpType domain.SDPType, sdp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.localDescSet = true
	m.events.Push(domain.LocalDescriptionReady{Type: sdpType, SDP: sdp})
	for _, cand := range m.pendingLocal {
		m.events.Push(domain.CandidateDiscovered{Candidate: cand})
	}
	m.pendingLocal = nil
}

// remoteDescriptionSet applies candidates that arrived before the remote description.
func (m *PeerManager) remoteDescriptionSet(pc PeerConnection) {
	m.remoteMu.Lock()
	defer m.remoteMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.remoteDescSet = true
	pending := m.pendingRemote
	m.pendingRemote = nil
	m.mu.Unlock()

	for _, cand := range pending {
		if err := pc.AddICECandidate(toICECandidateInit(cand)); err != nil {
			m.logger.Warnw("failed to apply buffered remote candidate",
				"call_id", m.callID,
				"error", err,
			)
		}
	}
}

func (m *PeerManager) goNegotiate(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

func (m *PeerManager) fail(stage string, err error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	m.logger.Errorw("negotiation failed",
		"call_id", m.callID,
		"stage", stage,
		"error", err,
	)
	m.emit(domain.NegotiationFailed{Stage: stage, Err: err})
}

func (m *PeerManager) emit(ev domain.SessionEvent) {
	m.events.Push(ev)
}

func toICECandidateInit(c domain.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}
