package eventqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PreservesOrderWithoutBlocking(t *testing.T) {
	q := New[int]()
	defer q.Close()

	for i := 0; i < 1000; i++ {
		require.True(t, q.Push(i))
	}

	for i := 0; i < 1000; i++ {
		select {
		case v := <-q.C():
			require.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for item %d", i)
		}
	}
}

func TestQueue_CloseStopsDelivery(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Close()
	q.Close()

	assert.False(t, q.Push("b"))

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-q.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed")
		}
	}
}
