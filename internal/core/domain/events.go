package domain

// ConnectionState mirrors the peer connection state names.
type ConnectionState string

const (
	ConnectionStateNew          ConnectionState = "new"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateFailed       ConnectionState = "failed"
	ConnectionStateClosed       ConnectionState = "closed"
)

// IceState mirrors the ICE connection state names.
type IceState string

const (
	IceStateNew          IceState = "new"
	IceStateChecking     IceState = "checking"
	IceStateConnected    IceState = "connected"
	IceStateCompleted    IceState = "completed"
	IceStateDisconnected IceState = "disconnected"
	IceStateFailed       IceState = "failed"
	IceStateClosed       IceState = "closed"
)

// Up reports whether media can flow.
func (s IceState) Up() bool {
	return s == IceStateConnected || s == IceStateCompleted
}

// Down reports whether the session is lost.
func (s IceState) Down() bool {
	return s == IceStateDisconnected || s == IceStateFailed || s == IceStateClosed
}

func (s ConnectionState) Down() bool {
	return s == ConnectionStateDisconnected || s == ConnectionStateFailed || s == ConnectionStateClosed
}

// SessionEvent is emitted by a peer session. The set of implementations is closed.
type SessionEvent interface {
	sessionEvent()
}

// LocalDescriptionReady carries an offer or answer once it is the local description.
type LocalDescriptionReady struct {
	Type SDPType
	SDP  string
}

// CandidateDiscovered carries a local candidate. It never precedes LocalDescriptionReady.
type CandidateDiscovered struct {
	Candidate Candidate
}

type ConnectionStateChanged struct {
	State ConnectionState
}

type IceStateChanged struct {
	State IceState
}

type SignalingStateChanged struct {
	State string
}

// NegotiationFailed reports an asynchronous failure in the named stage.
type NegotiationFailed struct {
	Stage string
	Err   error
}

// QualityReported carries media statistics from RTCP receiver reports.
type QualityReported struct {
	Metrics NetworkMetrics
}

func (LocalDescriptionReady) sessionEvent()  {}
func (CandidateDiscovered) sessionEvent()    {}
func (ConnectionStateChanged) sessionEvent() {}
func (IceStateChanged) sessionEvent()        {}
func (SignalingStateChanged) sessionEvent()  {}
func (NegotiationFailed) sessionEvent()      {}
func (QualityReported) sessionEvent()        {}

// TransportEvent is emitted by the signaling transport. The set is closed.
type TransportEvent interface {
	transportEvent()
}

// EnvelopeReceived carries one decoded inbound envelope.
type EnvelopeReceived struct {
	Envelope Envelope
}

// TransportFailed reports loss of the signaling connection.
type TransportFailed struct {
	Err error
}

// TransportConnected reports a (re)established signaling connection.
type TransportConnected struct{}

func (EnvelopeReceived) transportEvent()   {}
func (TransportFailed) transportEvent()    {}
func (TransportConnected) transportEvent() {}
