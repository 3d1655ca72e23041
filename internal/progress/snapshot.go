package progress

import "time"

// Snapshot is an immutable point-in-time view of a task. It carries no
// reference back to registry state.
type Snapshot struct {
	TaskID                string   `json:"task_id"`
	Current               int      `json:"current"`
	Total                 int      `json:"total"`
	Percentage            float64  `json:"percentage"`
	Status                Status   `json:"status"`
	ErrorMessage          *string  `json:"error_message"`
	// ElapsedTime is seconds since creation. It stops advancing once the
	// task completes or fails and then reports the time to finish.
	ElapsedTime           float64  `json:"elapsed_time"`
	ProcessingSpeed       float64  `json:"processing_speed"`
	EstimatedRemaining    *float64 `json:"estimated_remaining"`
	SlowProcessingWarning bool     `json:"slow_processing_warning"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Terminal reports whether the snapshot describes a finished task.
func (s Snapshot) Terminal() bool {
	return s.Status.Terminal()
}

func (t *task) snapshot(now time.Time, slowThreshold float64) Snapshot {
	est := Compute(EstimateInput{
		Current:       t.current,
		Total:         t.total,
		Elapsed:       t.runtime(now),
		Samples:       t.speeds.values(),
		SlowThreshold: slowThreshold,
	})
	snap := Snapshot{
		TaskID:                t.id,
		Current:               t.current,
		Total:                 t.total,
		Percentage:            est.Percentage,
		Status:                t.status,
		ElapsedTime:           est.Elapsed,
		ProcessingSpeed:       est.Speed,
		EstimatedRemaining:    est.Remaining,
		SlowProcessingWarning: est.Slow,
		CreatedAt:             t.createdAt,
		UpdatedAt:             t.updatedAt,
	}
	if t.status == StatusError {
		msg := t.errorMessage
		snap.ErrorMessage = &msg
	}
	return snap
}
