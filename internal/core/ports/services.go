package ports

import (
	"context"
	"time"

	"callnet/internal/core/domain"
)

// IdentityProvider returns the id of the signed-in user.
type IdentityProvider interface {
	CurrentUserID(ctx context.Context) (domain.UserID, error)
}

// SignalingTransport carries envelopes between the two parties of a call.
type SignalingTransport interface {
	Connect(ctx context.Context) error
	// Send serializes call as the payload of a kind envelope. Fire-and-forget.
	Send(ctx context.Context, kind domain.SignalKind, call *domain.Call) error
	Events() <-chan domain.TransportEvent
	Retain()
	Release() error
	Close() error
}

// PeerSession negotiates and owns one peer connection for one call.
// All results are reported as events; method errors only cover precondition failures.
type PeerSession interface {
	Events() <-chan domain.SessionEvent
	CreateOffer(ctx context.Context, video bool) error
	AcceptOffer(ctx context.Context, sdp string, video bool) error
	SetRemoteAnswer(ctx context.Context, sdp string) error
	AddRemoteCandidate(ctx context.Context, c domain.Candidate) error
	Close() error
}

// SessionFactory owns the media engine and hands out one PeerSession per call.
type SessionFactory interface {
	// Initialize builds the media engine asynchronously and reports through done.
	Initialize(done func(error))
	NewSession(callID domain.CallID) (PeerSession, error)
}

// Notifier is the push notification sink.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// CallMetrics records call lifecycle measurements.
type CallMetrics interface {
	CallStarted(video bool, outgoing bool)
	CallTransition(from, to domain.CallStatus)
	CallFinished(status domain.CallStatus, duration time.Duration)
	NegotiationFailed(stage string)
	TransportFailure()
	MediaQuality(metrics domain.NetworkMetrics)
}
