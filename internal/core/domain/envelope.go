package domain

import (
	"encoding/json"
	"fmt"
)

// SignalKind discriminates signaling envelopes.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalHangup    SignalKind = "hangup"
	SignalError     SignalKind = "error"
)

var destinations = map[SignalKind]string{
	SignalOffer:     "/app/call/init",
	SignalAnswer:    "/app/call/answer",
	SignalCandidate: "/app/call/candidate",
	SignalHangup:    "/app/call/hangup",
}

// Destination returns the routing topic for kind.
func (k SignalKind) Destination() string {
	return destinations[k]
}

func (k SignalKind) Valid() bool {
	_, ok := destinations[k]
	return ok
}

// Envelope is one signaling message on the wire.
type Envelope struct {
	Kind        SignalKind      `json:"kind"`
	Destination string          `json:"destination,omitempty"`
	RoomID      RoomID          `json:"roomId"`
	From        UserID          `json:"from,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NewEnvelope serializes call as the payload of a kind envelope.
func NewEnvelope(kind SignalKind, call *Call) (*Envelope, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEnvelope, kind)
	}
	payload, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("marshal call payload: %w", err)
	}
	return &Envelope{
		Kind:        kind,
		Destination: kind.Destination(),
		RoomID:      call.RoomID,
		Payload:     payload,
	}, nil
}

// Call decodes the envelope payload.
func (e *Envelope) Call() (*Call, error) {
	if len(e.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidEnvelope)
	}
	var call Call
	if err := json.Unmarshal(e.Payload, &call); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if call.RoomID == "" {
		call.RoomID = e.RoomID
	}
	return &call, nil
}

// Validate checks the envelope shape and the kind-specific payload fields.
func (e *Envelope) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEnvelope, e.Kind)
	}
	if e.RoomID == "" {
		return fmt.Errorf("%w: roomId is required", ErrInvalidEnvelope)
	}
	call, err := e.Call()
	if err != nil {
		return err
	}
	if call.RoomID != e.RoomID {
		return fmt.Errorf("%w: payload room %q does not match envelope room %q", ErrInvalidEnvelope, call.RoomID, e.RoomID)
	}
	switch e.Kind {
	case SignalOffer:
		if call.SDP == "" || call.Type != SDPTypeOffer {
			return fmt.Errorf("%w: offer requires an offer sdp", ErrInvalidEnvelope)
		}
	case SignalAnswer:
		if call.SDP == "" || call.Type != SDPTypeAnswer {
			return fmt.Errorf("%w: answer requires an answer sdp", ErrInvalidEnvelope)
		}
	case SignalCandidate:
		if call.Candidate == "" {
			return fmt.Errorf("%w: candidate is empty", ErrInvalidEnvelope)
		}
	}
	return nil
}
