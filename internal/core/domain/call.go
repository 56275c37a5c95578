package domain

import (
	"fmt"
	"time"
)

type CallID string
type RoomID string

// CallStatus is the lifecycle status of a call.
type CallStatus string

const (
	CallStatusIncoming CallStatus = "INCOMING"
	CallStatusOngoing  CallStatus = "ONGOING"
	CallStatusMissed   CallStatus = "MISSED"
	CallStatusEnded    CallStatus = "ENDED"
)

var callTransitions = map[CallStatus][]CallStatus{
	CallStatusIncoming: {CallStatusOngoing, CallStatusMissed},
	CallStatusOngoing:  {CallStatusEnded},
}

// IsTerminal reports whether no further transition is allowed from s.
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusEnded || s == CallStatusMissed
}

func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusIncoming, CallStatusOngoing, CallStatusMissed, CallStatusEnded:
		return true
	}
	return false
}

// CanTransition reports whether a call may move from one status to another.
func CanTransition(from, to CallStatus) bool {
	for _, next := range callTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TerminalFor returns the terminal status a call in s reaches when it is torn down.
// INCOMING calls that never connected are MISSED, everything else ENDED.
func TerminalFor(s CallStatus) CallStatus {
	if s == CallStatusIncoming {
		return CallStatusMissed
	}
	return CallStatusEnded
}

// SDPType tags a session description.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

const (
	DisplayNameIncoming = "Incoming Call"
	DisplayNameOutgoing = "Outgoing Call"
)

// Call is the shared record of one call attempt. The same shape is persisted
// in the call store and carried as the payload of every signaling envelope.
type Call struct {
	ID            CallID     `json:"id"`
	CallerID      UserID     `json:"callerId"`
	CalleeID      UserID     `json:"calleeId"`
	RoomID        RoomID     `json:"roomId"`
	SDP           string     `json:"sdp,omitempty"`
	Type          SDPType    `json:"type,omitempty"`
	Candidate     string     `json:"candidate,omitempty"`
	SDPMid        *string    `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16    `json:"sdpMLineIndex,omitempty"`
	VideoCall     bool       `json:"videoCall"`
	Active        bool       `json:"active"`
	Timestamp     time.Time  `json:"timestamp"`
	Duration      int64      `json:"duration"`
	Status        CallStatus `json:"status"`
}

// DisplayName is derived relative to the viewing user and never stored.
func (c *Call) DisplayName(viewer UserID) string {
	if c.CallerID == viewer {
		return DisplayNameOutgoing
	}
	return DisplayNameIncoming
}

// Peer returns the other party of the call as seen by user.
func (c *Call) Peer(user UserID) UserID {
	if c.CallerID == user {
		return c.CalleeID
	}
	return c.CallerID
}

// Involves reports whether user is the caller or the callee.
func (c *Call) Involves(user UserID) bool {
	return c.CallerID == user || c.CalleeID == user
}

func (c *Call) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidCall)
	}
	if c.RoomID == "" {
		return fmt.Errorf("%w: roomId is required", ErrInvalidCall)
	}
	if c.CallerID == "" || c.CalleeID == "" {
		return fmt.Errorf("%w: callerId and calleeId are required", ErrInvalidCall)
	}
	if c.CallerID == c.CalleeID {
		return fmt.Errorf("%w: caller and callee must differ", ErrInvalidCall)
	}
	if c.Type != "" && c.Type != SDPTypeOffer && c.Type != SDPTypeAnswer {
		return fmt.Errorf("%w: unknown sdp type %q", ErrInvalidCall, c.Type)
	}
	if c.Status != "" && !c.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidCall, c.Status)
	}
	if c.Active && c.Status != CallStatusOngoing {
		return fmt.Errorf("%w: only ONGOING calls can be active", ErrInvalidCall)
	}
	if c.Duration < 0 {
		return fmt.Errorf("%w: duration must be >= 0", ErrInvalidCall)
	}
	return nil
}

// Candidate is one ICE candidate with its media binding.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// WithCandidate returns a copy of the call carrying c as an incremental update.
func (c Call) WithCandidate(cand Candidate) Call {
	c.Candidate = cand.Candidate
	c.SDPMid = cand.SDPMid
	c.SDPMLineIndex = cand.SDPMLineIndex
	return c
}

// CandidateInfo extracts the candidate carried by the call, if any.
func (c *Call) CandidateInfo() (Candidate, bool) {
	if c.Candidate == "" {
		return Candidate{}, false
	}
	return Candidate{Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex}, true
}
