package run

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ferrybot/ferry/pkg/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ExclusivePerKey(t *testing.T) {
	r := NewRegistry()
	key := sessions.Key{UserID: 1, ChatID: 10}

	require.True(t, r.TryAcquire(key, func() {}))
	assert.False(t, r.TryAcquire(key, func() {}))
	assert.True(t, r.Running(key))

	// A different conversation is unaffected.
	other := sessions.Key{UserID: 2, ChatID: 20}
	assert.True(t, r.TryAcquire(other, func() {}))
	assert.Equal(t, 2, r.Len())

	r.Release(key)
	assert.False(t, r.Running(key))
	assert.True(t, r.TryAcquire(key, func() {}))
}

func TestRegistry_CancelKeepsSlotHeld(t *testing.T) {
	r := NewRegistry()
	key := sessions.Key{UserID: 1, ChatID: 10}

	var cancelled atomic.Bool
	require.True(t, r.TryAcquire(key, func() { cancelled.Store(true) }))

	assert.True(t, r.Cancel(key))
	assert.True(t, cancelled.Load())

	// The slot is freed by the task's own release, not by Cancel.
	assert.True(t, r.Running(key))
	assert.False(t, r.TryAcquire(key, func() {}))

	r.Release(key)
	assert.False(t, r.Running(key))
}

func TestRegistry_CancelAbsentKey(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Cancel(sessions.Key{UserID: 9, ChatID: 9}))
}

func TestRegistry_SingleWinnerUnderContention(t *testing.T) {
	r := NewRegistry()
	key := sessions.Key{UserID: 1, ChatID: 10}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryAcquire(key, func() {}) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
