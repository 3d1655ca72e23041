package progress

import "time"

// Status is the lifecycle state of a task.
type Status string

// Task statuses. Completed and error are terminal.
const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// task is the mutable record owned by the Registry. It never leaves the
// registry's critical sections.
type task struct {
	id           string
	total        int
	current      int
	status       Status
	errorMessage string

	createdAt   time.Time
	updatedAt   time.Time
	completedAt time.Time

	speeds          speedWindow
	lastSampleAt    time.Time
	lastSampleCount int
	hasSample       bool
	slowReported    bool

	// changed is closed and replaced on every mutation so watchers can block
	// on it instead of polling.
	changed chan struct{}
}

func newTask(id string, total int, window int, now time.Time) *task {
	if total < 0 {
		total = 0
	}
	return &task{
		id:        id,
		total:     total,
		status:    StatusProcessing,
		createdAt: now,
		updatedAt: now,
		speeds:    newSpeedWindow(window),
		changed:   make(chan struct{}),
	}
}

// clamp bounds a reported count to [0,total] and never lets it move backwards.
func (t *task) clamp(current int) int {
	if t.total == 0 || current < 0 {
		current = 0
	}
	if current > t.total {
		current = t.total
	}
	if current < t.current {
		current = t.current
	}
	return current
}

// record applies an update and appends a throughput sample measured against
// the previous update. The first update only establishes the baseline.
func (t *task) record(current int, now time.Time) {
	if t.hasSample {
		if dt := now.Sub(t.lastSampleAt).Seconds(); dt > 0 {
			t.speeds.add(float64(current-t.lastSampleCount) / dt)
		}
	}
	t.current = current
	t.updatedAt = now
	t.lastSampleAt = now
	t.lastSampleCount = current
	t.hasSample = true
	t.notify()
}

func (t *task) finish(success bool, errorMessage string, now time.Time) {
	if success {
		t.status = StatusCompleted
	} else {
		t.status = StatusError
		t.errorMessage = errorMessage
	}
	t.updatedAt = now
	t.completedAt = now
	t.notify()
}

func (t *task) notify() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// runtime is the wall time the task has been running; it freezes once the
// task is terminal.
func (t *task) runtime(now time.Time) time.Duration {
	end := now
	if t.status.Terminal() {
		end = t.completedAt
	}
	if d := end.Sub(t.createdAt); d > 0 {
		return d
	}
	return 0
}

// speedWindow is a fixed-capacity ring of throughput samples.
type speedWindow struct {
	samples []float64
	next    int
	size    int
}

func newSpeedWindow(capacity int) speedWindow {
	if capacity <= 0 {
		capacity = defaultSpeedWindow
	}
	return speedWindow{samples: make([]float64, capacity)}
}

func (w *speedWindow) add(v float64) {
	w.samples[w.next] = v
	w.next = (w.next + 1) % len(w.samples)
	if w.size < len(w.samples) {
		w.size++
	}
}

func (w *speedWindow) values() []float64 {
	out := make([]float64, 0, w.size)
	start := (w.next - w.size + len(w.samples)) % len(w.samples)
	for i := 0; i < w.size; i++ {
		out = append(out, w.samples[(start+i)%len(w.samples)])
	}
	return out
}
