package webrtc

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

const fakeSDP = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

// fakePeerConnection records calls and lets tests drive the registered callbacks.
type fakePeerConnection struct {
	mu sync.Mutex

	offerGate   chan struct{}
	offerErr    error
	remoteErr   error
	local       []webrtc.SessionDescription
	remote      []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	transceiver []webrtc.RTPCodecType
	closeCalls  int

	onCandidate func(*webrtc.ICECandidate)
	onICE       func(webrtc.ICEConnectionState)
	onConn      func(webrtc.PeerConnectionState)
}

func newFakePeerConnection() *fakePeerConnection {
	return &fakePeerConnection{}
}

func (f *fakePeerConnection) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	if f.offerGate != nil {
		<-f.offerGate
	}
	if f.offerErr != nil {
		return webrtc.SessionDescription{}, f.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fakeSDP}, nil
}

func (f *fakePeerConnection) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fakeSDP}, nil
}

func (f *fakePeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = append(f.local, desc)
	return nil
}

func (f *fakePeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteErr != nil {
		return f.remoteErr
	}
	f.remote = append(f.remote, desc)
	return nil
}

func (f *fakePeerConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakePeerConnection) AddTransceiverFromKind(kind webrtc.RTPCodecType, _ ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transceiver = append(f.transceiver, kind)
	return nil, nil
}

func (f *fakePeerConnection) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakePeerConnection) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onICE = fn
}

func (f *fakePeerConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConn = fn
}

func (f *fakePeerConnection) OnSignalingStateChange(func(webrtc.SignalingState)) {}

func (f *fakePeerConnection) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakePeerConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakePeerConnection) gather(port uint16) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	fn(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    "192.168.1.10",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       port,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
}

func (f *fakePeerConnection) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.candidates))
	for _, c := range f.candidates {
		out = append(out, c.Candidate)
	}
	return out
}

type fakeEngine struct {
	pc  *fakePeerConnection
	err error

	mu      sync.Mutex
	configs []webrtc.Configuration
}

func (e *fakeEngine) NewPeerConnection(cfg webrtc.Configuration) (PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.configs = append(e.configs, cfg)
	return e.pc, nil
}
