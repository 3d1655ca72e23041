package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator allocates task identifiers.
type IDGenerator interface {
	NewID() string
}

// Config tunes a Registry. Zero values fall back to defaults.
type Config struct {
	// SpeedWindow is how many throughput samples feed the moving average.
	SpeedWindow int
	// SlowThreshold is the items-per-second rate below which a task is slow.
	SlowThreshold float64
	// PollInterval bounds how long a subscriber waits without a notification
	// before re-reading task state.
	PollInterval time.Duration
	// IdleTimeout ends subscriptions that see no terminal transition in time.
	// Zero disables it.
	IdleTimeout time.Duration

	Clock   Clock
	IDs     IDGenerator
	Emitter Emitter
	Logger  *zap.Logger
}

const defaultPollInterval = time.Second

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type randomIDs struct{}

func (randomIDs) NewID() string { return uuid.NewString() }

// Registry owns the state of every task. All mutations happen inside a single
// write lock; readers share a read lock and only ever receive Snapshots.
type Registry struct {
	cfg     Config
	clock   Clock
	ids     IDGenerator
	emitter Emitter
	logger  *zap.Logger

	mu    sync.RWMutex
	tasks map[string]*task
}

// NewRegistry constructs an empty Registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.SpeedWindow <= 0 {
		cfg.SpeedWindow = defaultSpeedWindow
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = defaultSlowThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	r := &Registry{
		cfg:     cfg,
		clock:   cfg.Clock,
		ids:     cfg.IDs,
		emitter: cfg.Emitter,
		logger:  cfg.Logger,
		tasks:   make(map[string]*task),
	}
	if r.clock == nil {
		r.clock = wallClock{}
	}
	if r.ids == nil {
		r.ids = randomIDs{}
	}
	if r.emitter == nil {
		r.emitter = nopEmitter{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Create registers a new task expecting total items and returns its id.
// Negative totals are treated as zero.
func (r *Registry) Create(total int) string {
	now := r.clock.Now()
	id := r.ids.NewID()

	r.mu.Lock()
	for {
		if _, taken := r.tasks[id]; !taken {
			break
		}
		id = r.ids.NewID()
	}
	t := newTask(id, total, r.cfg.SpeedWindow, now)
	r.tasks[id] = t
	r.mu.Unlock()

	r.emitter.Emit(Event{
		TaskID: id,
		TS:     now,
		Type:   EventCreated,
		Total:  t.total,
		Status: StatusProcessing,
	})
	return id
}

// Update records that the task has processed current items. Unknown and
// terminal tasks are ignored; out of range values are clamped.
func (r *Registry) Update(id string, current int) {
	now := r.clock.Now()

	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok || t.status.Terminal() {
		r.mu.Unlock()
		r.logger.Debug("progress update ignored",
			zap.String("task_id", id),
			zap.Bool("known", ok),
		)
		return
	}
	t.record(t.clamp(current), now)
	snap := t.snapshot(now, r.cfg.SlowThreshold)
	warn := snap.SlowProcessingWarning && !t.slowReported
	if warn {
		t.slowReported = true
	}
	r.mu.Unlock()

	r.emitter.Emit(Event{
		TaskID:  id,
		TS:      now,
		Type:    EventUpdated,
		Current: snap.Current,
		Total:   snap.Total,
		Status:  snap.Status,
		Extra: map[string]any{
			"percentage":       snap.Percentage,
			"processing_speed": snap.ProcessingSpeed,
		},
	})
	if warn {
		r.emitter.Emit(Event{
			TaskID:  id,
			TS:      now,
			Type:    EventWarning,
			Current: snap.Current,
			Total:   snap.Total,
			Status:  snap.Status,
			Message: "slow processing detected",
			Extra:   map[string]any{"processing_speed": snap.ProcessingSpeed},
		})
	}
}

// Complete moves the task to a terminal status. Only the first call for a
// task has any effect; errorMessage is kept only when success is false.
func (r *Registry) Complete(id string, success bool, errorMessage string) {
	now := r.clock.Now()

	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("completion for unknown task ignored", zap.String("task_id", id))
		return
	}
	if t.status.Terminal() {
		prev := t.status
		r.mu.Unlock()
		if (prev == StatusCompleted) != success {
			r.logger.Warn("conflicting completion ignored",
				zap.String("task_id", id),
				zap.String("status", string(prev)),
				zap.Bool("success", success),
				zap.String("error_message", errorMessage),
			)
		}
		return
	}
	t.finish(success, errorMessage, now)
	evt := Event{
		TaskID:  id,
		TS:      now,
		Type:    EventCompleted,
		Current: t.current,
		Total:   t.total,
		Status:  t.status,
		Dur:     t.runtime(now),
	}
	r.mu.Unlock()

	if !success {
		evt.Type = EventFailed
		evt.Message = errorMessage
	}
	r.emitter.Emit(evt)
}

// Get returns a fresh snapshot of the task, or false when id is unknown.
func (r *Registry) Get(id string) (Snapshot, bool) {
	now := r.clock.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshot(now, r.cfg.SlowThreshold), true
}

// Snapshots returns a snapshot of every task ordered by creation time.
func (r *Registry) Snapshots() []Snapshot {
	now := r.clock.Now()
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.snapshot(now, r.cfg.SlowThreshold))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// watch returns the current snapshot together with a channel that is closed
// on the task's next mutation.
func (r *Registry) watch(id string) (Snapshot, <-chan struct{}, bool) {
	now := r.clock.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Snapshot{}, nil, false
	}
	return t.snapshot(now, r.cfg.SlowThreshold), t.changed, true
}
