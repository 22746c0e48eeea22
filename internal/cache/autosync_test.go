package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSyncer struct {
	calls atomic.Int32
}

func (c *countingSyncer) SyncAll(context.Context) error {
	c.calls.Add(1)
	return nil
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

func TestAutoSyncer_SkipsWhileOffline(t *testing.T) {
	target := &countingSyncer{}
	a := NewAutoSyncer(time.Second, zap.NewNop().Sugar(), target)

	a.SetOnline(false)
	a.tick()
	assert.Equal(t, int32(0), target.calls.Load())

	a.tick()
	assert.Equal(t, int32(0), target.calls.Load())
}

func TestAutoSyncer_ReconnectSyncsImmediately(t *testing.T) {
	target := &countingSyncer{}
	a := NewAutoSyncer(time.Second, zap.NewNop().Sugar(), target)

	a.SetOnline(false)
	a.SetOnline(true)
	a.Wait()
	assert.Equal(t, int32(1), target.calls.Load())

	// already online: no extra round
	a.SetOnline(true)
	a.Wait()
	assert.Equal(t, int32(1), target.calls.Load())
}

func TestAutoSyncer_SyncsDirtyCacheEntries(t *testing.T) {
	ctx := context.Background()
	var pushed atomic.Int32
	c, _ := newTestCache(t, NewMemoryBackend(), func(context.Context, string, form) error {
		pushed.Add(1)
		return nil
	})
	require.NoError(t, c.Set(ctx, "a", form{}))
	require.NoError(t, c.Set(ctx, "b", form{}))

	a := NewAutoSyncer(time.Second, zap.NewNop().Sugar(), c)
	a.tick()

	assert.Equal(t, int32(2), pushed.Load())
	assert.Empty(t, c.DirtyKeys())
}

func TestMonitor_PingResultFeedsListeners(t *testing.T) {
	target := &countingSyncer{}
	a := NewAutoSyncer(time.Second, zap.NewNop().Sugar(), target)

	NewMonitor(stubPinger{err: errors.New("dial tcp: refused")}, time.Second, zap.NewNop().Sugar(), a).Probe()
	assert.False(t, a.Online())

	NewMonitor(stubPinger{}, time.Second, zap.NewNop().Sugar(), a).Probe()
	a.Wait()
	assert.True(t, a.Online())
	assert.Equal(t, int32(1), target.calls.Load())
}

func TestScheduler_RejectsSubSecondInterval(t *testing.T) {
	s := NewScheduler(zap.NewNop().Sugar())
	assert.Error(t, s.Every(100*time.Millisecond, "too-fast", func() {}))
	assert.NoError(t, s.Every(2*time.Second, "ok", func() {}))
}
