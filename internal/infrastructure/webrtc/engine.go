package webrtc

import (
	"fmt"

	"callnet/pkg/config"

	"github.com/pion/webrtc/v3"
)

// PeerConnection is the part of *webrtc.PeerConnection a call session drives.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnSignalingStateChange(f func(webrtc.SignalingState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

// Engine creates peer connections. It is built once per process.
type Engine interface {
	NewPeerConnection(cfg webrtc.Configuration) (PeerConnection, error)
}

// EngineBuilder constructs an Engine; it may be slow and is run off the caller's goroutine.
type EngineBuilder func(cfg Config) (Engine, error)

// Config holds the media settings shared by every session.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortMin    uint16
	PortMax    uint16
}

// ConfigFrom converts application configuration, applying the default STUN server.
func ConfigFrom(cfg *config.Config) Config {
	servers := cfg.EffectiveICEServers()
	out := Config{
		ICEServers: make([]webrtc.ICEServer, 0, len(servers)),
		PortMin:    cfg.WebRTC.PortRange.Min,
		PortMax:    cfg.WebRTC.PortRange.Max,
	}
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		out.ICEServers = append(out.ICEServers, server)
	}
	return out
}

type pionEngine struct {
	api *webrtc.API
}

// NewPionEngine registers the default codecs and applies the UDP port range.
func NewPionEngine(cfg Config) (Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortMin > 0 && cfg.PortMax > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)
	return &pionEngine{api: api}, nil
}

func (e *pionEngine) NewPeerConnection(cfg webrtc.Configuration) (PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return pc, nil
}
