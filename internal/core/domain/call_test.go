package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCall() *Call {
	return &Call{
		ID:        "call-1",
		CallerID:  "alice",
		CalleeID:  "bob",
		RoomID:    "room-1",
		SDP:       "v=0\r\n",
		Type:      SDPTypeOffer,
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Status:    CallStatusOngoing,
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]CallStatus]bool{
		{CallStatusIncoming, CallStatusOngoing}: true,
		{CallStatusIncoming, CallStatusMissed}:  true,
		{CallStatusOngoing, CallStatusEnded}:    true,
	}
	all := []CallStatus{CallStatusIncoming, CallStatusOngoing, CallStatusMissed, CallStatusEnded}

	for _, from := range all {
		for _, to := range all {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				assert.Equal(t, allowed[[2]CallStatus{from, to}], CanTransition(from, to))
			})
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, CallStatusEnded.IsTerminal())
	assert.True(t, CallStatusMissed.IsTerminal())
	assert.False(t, CallStatusIncoming.IsTerminal())
	assert.False(t, CallStatusOngoing.IsTerminal())

	assert.Equal(t, CallStatusMissed, TerminalFor(CallStatusIncoming))
	assert.Equal(t, CallStatusEnded, TerminalFor(CallStatusOngoing))
}

func TestDisplayName(t *testing.T) {
	c := sampleCall()
	assert.Equal(t, DisplayNameOutgoing, c.DisplayName("alice"))
	assert.Equal(t, DisplayNameIncoming, c.DisplayName("bob"))
	assert.Equal(t, UserID("bob"), c.Peer("alice"))
	assert.Equal(t, UserID("alice"), c.Peer("bob"))
	assert.True(t, c.Involves("bob"))
	assert.False(t, c.Involves("carol"))
}

func TestCallValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Call)
	}{
		{"missing id", func(c *Call) { c.ID = "" }},
		{"missing room", func(c *Call) { c.RoomID = "" }},
		{"missing callee", func(c *Call) { c.CalleeID = "" }},
		{"self call", func(c *Call) { c.CalleeID = c.CallerID }},
		{"bad type", func(c *Call) { c.Type = "pranswer" }},
		{"bad status", func(c *Call) { c.Status = "RINGING" }},
		{"active while incoming", func(c *Call) { c.Status = CallStatusIncoming; c.Active = true }},
		{"negative duration", func(c *Call) { c.Duration = -1 }},
	}

	require.NoError(t, sampleCall().Validate())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := sampleCall()
			tc.mutate(c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidCall)
		})
	}
}

func TestWithCandidate(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	c := sampleCall()
	update := c.WithCandidate(Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx})

	assert.Empty(t, c.Candidate, "original is not mutated")
	assert.Equal(t, c.SDP, update.SDP)
	got, ok := update.CandidateInfo()
	require.True(t, ok)
	assert.Equal(t, "0", *got.SDPMid)

	_, ok = c.CandidateInfo()
	assert.False(t, ok)
}

func TestCallJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(sampleCall())
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"id", "callerId", "calleeId", "roomId", "sdp", "type", "videoCall", "active", "timestamp", "duration", "status"} {
		assert.Contains(t, fields, key)
	}
	assert.NotContains(t, fields, "candidate")
}

func TestEnvelope(t *testing.T) {
	env, err := NewEnvelope(SignalOffer, sampleCall())
	require.NoError(t, err)
	assert.Equal(t, "/app/call/init", env.Destination)
	assert.Equal(t, RoomID("room-1"), env.RoomID)
	require.NoError(t, env.Validate())

	decoded, err := env.Call()
	require.NoError(t, err)
	assert.Equal(t, CallID("call-1"), decoded.ID)

	_, err = NewEnvelope("bogus", sampleCall())
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestEnvelopeValidate(t *testing.T) {
	answer := sampleCall()
	answer.Type = SDPTypeAnswer

	cand := sampleCall().WithCandidate(Candidate{Candidate: "candidate:1"})

	cases := []struct {
		name    string
		kind    SignalKind
		call    *Call
		mutate  func(*Envelope)
		wantErr bool
	}{
		{"offer ok", SignalOffer, sampleCall(), nil, false},
		{"answer ok", SignalAnswer, answer, nil, false},
		{"answer with offer sdp", SignalAnswer, sampleCall(), nil, true},
		{"candidate ok", SignalCandidate, &cand, nil, false},
		{"candidate missing", SignalCandidate, sampleCall(), nil, true},
		{"hangup ok", SignalHangup, sampleCall(), nil, false},
		{"room mismatch", SignalHangup, sampleCall(), func(e *Envelope) { e.RoomID = "other" }, true},
		{"no payload", SignalHangup, sampleCall(), func(e *Envelope) { e.Payload = nil }, true},
		{"garbage payload", SignalHangup, sampleCall(), func(e *Envelope) { e.Payload = json.RawMessage(`"x"`) }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := NewEnvelope(tc.kind, tc.call)
			require.NoError(t, err)
			if tc.mutate != nil {
				tc.mutate(env)
			}
			err = env.Validate()
			if tc.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidEnvelope), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStateHelpers(t *testing.T) {
	assert.True(t, IceStateConnected.Up())
	assert.True(t, IceStateCompleted.Up())
	assert.False(t, IceStateChecking.Up())
	assert.True(t, IceStateFailed.Down())
	assert.True(t, IceStateDisconnected.Down())
	assert.False(t, IceStateNew.Down())
	assert.True(t, ConnectionStateClosed.Down())
	assert.False(t, ConnectionStateConnected.Down())
}
