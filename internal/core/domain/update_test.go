package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyFields(t *testing.T) {
	c := sampleCall()

	updated, err := ApplyFields(c, map[string]interface{}{
		"status":   CallStatusEnded,
		"duration": 42,
		"active":   false,
		"sdp":      nil,
	})
	require.NoError(t, err)
	assert.Equal(t, CallStatusEnded, updated.Status)
	assert.Equal(t, int64(42), updated.Duration)
	assert.Empty(t, updated.SDP)
	assert.Equal(t, c.ID, updated.ID)
	assert.True(t, updated.Timestamp.Equal(c.Timestamp))
	assert.Equal(t, CallStatusOngoing, c.Status, "input is not mutated")
}

func TestApplyFields_Rejects(t *testing.T) {
	_, err := ApplyFields(sampleCall(), map[string]interface{}{"callerId": "mallory"})
	assert.ErrorIs(t, err, ErrInvalidCall)

	_, err = ApplyFields(sampleCall(), map[string]interface{}{"duration": "long"})
	assert.ErrorIs(t, err, ErrInvalidCall)
}
