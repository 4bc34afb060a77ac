package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_TopicsAreIsolatedPerKey(t *testing.T) {
	r := NewRegistry[string, int](100)

	a := r.Subscribe("a")
	defer a.Close()
	r.Publish("b", 1)
	r.Publish("a", 2)

	assert.Equal(t, []int{2}, drain(t, a, 1))
	assert.Equal(t, []int{1}, r.Snapshot("b"))
	assert.Nil(t, r.Snapshot("missing"))
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_PublishBeforeSubscribeIsReplayed(t *testing.T) {
	r := NewRegistry[string, int](3)
	for i := 0; i < 5; i++ {
		r.Publish("chat", i)
	}

	s := r.Subscribe("chat")
	defer s.Close()
	assert.Equal(t, []int{2, 3, 4}, drain(t, s, 3))
	assert.Equal(t, 1, r.Subscribers())
}

func TestRegistry_LagHookReceivesKey(t *testing.T) {
	var gotKey string
	var gotMissed uint64
	r := NewRegistry[string, int](2, WithLagHook[string, int](func(key string, missed uint64) {
		gotKey, gotMissed = key, missed
	}))

	s := r.Subscribe("slow")
	defer s.Close()
	for i := 0; i < 5; i++ {
		r.Publish("slow", i)
	}

	assert.Equal(t, []int{3, 4}, drain(t, s, 2))
	assert.Equal(t, "slow", gotKey)
	assert.Equal(t, uint64(3), gotMissed)
}

func TestRegistry_EvictIdle(t *testing.T) {
	r := NewRegistry[string, int](10)
	r.Publish("idle", 1)
	busy := r.Subscribe("busy")
	defer busy.Close()

	assert.Equal(t, 0, r.EvictIdle(time.Hour, time.Now()))

	removed := r.EvictIdle(time.Hour, time.Now().Add(2*time.Hour))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, r.Len())
	assert.Nil(t, r.Snapshot("idle"))
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry[string, int](10)
	s := r.Subscribe("a")
	r.Close()

	_, err := s.Next(t.Context())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, r.Len())
}
