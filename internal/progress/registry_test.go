package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, *recordingEmitter) {
	t.Helper()
	clock := newFakeClock()
	emitter := &recordingEmitter{}
	return NewRegistry(Config{Clock: clock, Emitter: emitter}), clock, emitter
}

func TestRegistryFreshTask(t *testing.T) {
	t.Parallel()

	reg, _, emitter := newTestRegistry(t)
	id := reg.Create(100)

	snap, ok := reg.Get(id)
	require.True(t, ok)
	require.Equal(t, id, snap.TaskID)
	require.Equal(t, 0, snap.Current)
	require.Equal(t, 100, snap.Total)
	require.Zero(t, snap.Percentage)
	require.Equal(t, StatusProcessing, snap.Status)
	require.Nil(t, snap.ErrorMessage)
	require.Nil(t, snap.EstimatedRemaining)

	created := emitter.ofType(EventCreated)
	require.Len(t, created, 1)
	require.Equal(t, 100, created[0].Total)
}

func TestRegistryGetUnknown(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistry(t)
	_, ok := reg.Get("missing")
	require.False(t, ok)
}

func TestRegistryClampsUpdates(t *testing.T) {
	t.Parallel()

	reg, clock, _ := newTestRegistry(t)
	id := reg.Create(100)

	clock.Advance(time.Second)
	reg.Update(id, 150)
	snap, _ := reg.Get(id)
	require.Equal(t, 100, snap.Current)
	require.InDelta(t, 100.0, snap.Percentage, 1e-9)

	other := reg.Create(100)
	reg.Update(other, -5)
	snap, _ = reg.Get(other)
	require.Equal(t, 0, snap.Current)

	reg.Update(other, 40)
	reg.Update(other, 30)
	snap, _ = reg.Get(other)
	require.Equal(t, 40, snap.Current, "count never moves backwards")
}

func TestRegistryZeroTotal(t *testing.T) {
	t.Parallel()

	reg, clock, _ := newTestRegistry(t)
	id := reg.Create(0)
	clock.Advance(time.Second)
	reg.Update(id, 10)

	snap, _ := reg.Get(id)
	require.Equal(t, 0, snap.Current)
	require.Zero(t, snap.Percentage)
	require.Nil(t, snap.EstimatedRemaining)

	neg := reg.Create(-3)
	snap, _ = reg.Get(neg)
	require.Equal(t, 0, snap.Total)
}

func TestRegistryUpdateAfterCompleteIsIgnored(t *testing.T) {
	t.Parallel()

	reg, clock, emitter := newTestRegistry(t)
	id := reg.Create(100)
	reg.Update(id, 10)
	clock.Advance(time.Second)
	reg.Complete(id, true, "")

	reg.Update(id, 90)
	snap, _ := reg.Get(id)
	require.Equal(t, 10, snap.Current)
	require.Equal(t, StatusCompleted, snap.Status)
	require.Len(t, emitter.ofType(EventUpdated), 1)
}

func TestRegistryFirstTerminalWins(t *testing.T) {
	t.Parallel()

	reg, _, emitter := newTestRegistry(t)
	id := reg.Create(100)
	reg.Complete(id, false, "X")
	reg.Complete(id, true, "")
	reg.Complete(id, false, "Y")

	snap, _ := reg.Get(id)
	require.Equal(t, StatusError, snap.Status)
	require.NotNil(t, snap.ErrorMessage)
	require.Equal(t, "X", *snap.ErrorMessage)

	failed := emitter.ofType(EventFailed)
	require.Len(t, failed, 1)
	require.Equal(t, "X", failed[0].Message)
	require.Empty(t, emitter.ofType(EventCompleted))
}

func TestRegistryCompleteUnknownIsNoop(t *testing.T) {
	t.Parallel()

	reg, _, emitter := newTestRegistry(t)
	reg.Complete("missing", true, "")
	reg.Update("missing", 5)
	require.Empty(t, emitter.ofType(EventCompleted))
	require.Empty(t, emitter.ofType(EventUpdated))
	require.Zero(t, reg.Len())
}

func TestRegistryEstimatedRemaining(t *testing.T) {
	t.Parallel()

	reg, clock, _ := newTestRegistry(t)
	id := reg.Create(1000)

	clock.Advance(5 * time.Second)
	reg.Update(id, 50)
	snap, _ := reg.Get(id)
	require.Nil(t, snap.EstimatedRemaining, "no ETA below ten percent")

	clock.Advance(10 * time.Second)
	reg.Update(id, 150)
	snap, _ = reg.Get(id)
	require.NotNil(t, snap.EstimatedRemaining)
	require.Greater(t, *snap.EstimatedRemaining, 0.0)
	require.InDelta(t, 10.0, snap.ProcessingSpeed, 1e-9)
	require.InDelta(t, 85.0, *snap.EstimatedRemaining, 1e-9)
	require.InDelta(t, 15.0, snap.ElapsedTime, 1e-9)
}

func TestRegistryElapsedFreezesWhenTerminal(t *testing.T) {
	t.Parallel()

	reg, clock, emitter := newTestRegistry(t)
	id := reg.Create(10)
	clock.Advance(3 * time.Second)
	reg.Complete(id, true, "")
	clock.Advance(time.Hour)

	snap, _ := reg.Get(id)
	require.InDelta(t, 3.0, snap.ElapsedTime, 1e-9)
	completed := emitter.ofType(EventCompleted)
	require.Len(t, completed, 1)
	require.Equal(t, 3*time.Second, completed[0].Dur)
}

func TestRegistrySlowWarningEmittedOnce(t *testing.T) {
	t.Parallel()

	reg, clock, emitter := newTestRegistry(t)
	id := reg.Create(100)
	for i := 1; i <= 5; i++ {
		clock.Advance(2 * time.Second)
		reg.Update(id, i)
	}

	snap, _ := reg.Get(id)
	require.True(t, snap.SlowProcessingWarning)
	require.InDelta(t, 0.5, snap.ProcessingSpeed, 1e-9)
	require.Len(t, emitter.ofType(EventWarning), 1)
}

func TestRegistrySpeedUsesRecentSamples(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := NewRegistry(Config{Clock: clock, SpeedWindow: 2})
	id := reg.Create(1000)

	reg.Update(id, 0)
	steps := []int{10, 20, 60, 100}
	for _, step := range steps {
		clock.Advance(time.Second)
		reg.Update(id, step)
	}
	snap, _ := reg.Get(id)
	// Samples seen: 10, 10, 40, 40; the window keeps the last two.
	require.InDelta(t, 40.0, snap.ProcessingSpeed, 1e-9)
}

func TestRegistryUniqueIDs(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(Config{})
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := reg.Create(1)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	require.Equal(t, 10000, reg.Len())
}

type sequenceIDs struct {
	ids []string
	i   int
}

func (s *sequenceIDs) NewID() string {
	id := s.ids[s.i]
	s.i++
	return id
}

func TestRegistryRetriesCollidingIDs(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(Config{IDs: &sequenceIDs{ids: []string{"a", "a", "b"}}})
	require.Equal(t, "a", reg.Create(1))
	require.Equal(t, "b", reg.Create(1))
}

func TestRegistrySnapshotsOrdered(t *testing.T) {
	t.Parallel()

	reg, clock, _ := newTestRegistry(t)
	first := reg.Create(10)
	clock.Advance(time.Millisecond)
	second := reg.Create(20)

	snaps := reg.Snapshots()
	require.Len(t, snaps, 2)
	require.Equal(t, first, snaps[0].TaskID)
	require.Equal(t, second, snaps[1].TaskID)
}

func TestRegistryConcurrentInvariants(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(Config{})
	id := reg.Create(500)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := -10; i <= 700; i++ {
			reg.Update(id, i)
		}
		reg.Complete(id, true, "")
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for i := 0; i < 500; i++ {
				snap, ok := reg.Get(id)
				assert.True(t, ok)
				assert.GreaterOrEqual(t, snap.Current, last)
				assert.LessOrEqual(t, snap.Current, snap.Total)
				assert.GreaterOrEqual(t, snap.Percentage, 0.0)
				assert.LessOrEqual(t, snap.Percentage, 100.0)
				last = snap.Current
			}
		}()
	}
	wg.Wait()

	snap, _ := reg.Get(id)
	require.Equal(t, 500, snap.Current)
	require.Equal(t, StatusCompleted, snap.Status)
}
