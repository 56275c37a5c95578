package redis

import (
	"testing"

	"callnet/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "callnet:alice:call:c1", callKey("alice", "c1"))
	assert.Equal(t, "callnet:alice:calls", ownerCallsKey("alice"))
	assert.Equal(t, "callnet:user:alice:favorites", favoritesKey("alice"))
}

func TestOwnerFromKey(t *testing.T) {
	tests := []struct {
		key   string
		owner domain.UserID
		ok    bool
	}{
		{key: callKey("alice", "c1"), owner: "alice", ok: true},
		{key: "callnet:bob:call:room_1:x", owner: "bob", ok: true},
		{key: "callnet::call:c1", ok: false},
		{key: "other:alice:call:c1", ok: false},
		{key: "callnet:alice:calls", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			owner, ok := ownerFromKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.owner, owner)
		})
	}
}
