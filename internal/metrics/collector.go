package metrics

import (
	"context"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-progress/internal/progress"
)

// Summary aggregates task outcomes seen by a Collector.
type Summary struct {
	TotalTasks             int     `json:"total_tasks"`
	Completed              int     `json:"completed"`
	Failed                 int     `json:"failed"`
	Running                int     `json:"running"`
	SuccessRate            float64 `json:"success_rate"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
	Warnings               int     `json:"warnings"`
}

// SnapshotSource looks up live task state.
type SnapshotSource interface {
	Get(id string) (progress.Snapshot, bool)
}

// Collector tracks task outcomes from the lifecycle stream and holds custom
// per-task metrics. It implements progress.Sink.
type Collector struct {
	now func() time.Time

	mu          sync.RWMutex
	created     int
	completed   int
	failed      int
	warnings    int
	durationSum float64
	custom      map[string]map[string]any
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		now:    func() time.Time { return time.Now().UTC() },
		custom: make(map[string]map[string]any),
	}
}

// Consume folds the batch into the running totals.
func (c *Collector) Consume(_ context.Context, batch []progress.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, evt := range batch {
		switch evt.Type {
		case progress.EventCreated:
			c.created++
		case progress.EventCompleted:
			c.completed++
			c.durationSum += evt.Dur.Seconds()
		case progress.EventFailed:
			c.failed++
			c.durationSum += evt.Dur.Seconds()
		case progress.EventWarning:
			c.warnings++
		}
	}
	return nil
}

// Close implements progress.Sink.
func (c *Collector) Close(context.Context) error {
	return nil
}

// Summary returns the aggregate view. SuccessRate is a percentage with one
// decimal; AverageDurationSeconds covers finished tasks only.
func (c *Collector) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Summary{
		TotalTasks: c.created,
		Completed:  c.completed,
		Failed:     c.failed,
		Warnings:   c.warnings,
	}
	s.Running = max(c.created-c.completed-c.failed, 0)
	if finished := c.completed + c.failed; finished > 0 {
		s.SuccessRate = round(float64(c.completed)/float64(finished)*100, 1)
		s.AverageDurationSeconds = round(c.durationSum/float64(finished), 2)
	}
	return s
}

// Record merges values into the task's custom metrics and stamps them with
// a "timestamp" key.
func (c *Collector) Record(taskID string, values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.custom[taskID]
	if !ok {
		m = make(map[string]any, len(values)+1)
		c.custom[taskID] = m
	}
	maps.Copy(m, values)
	m["timestamp"] = c.now().Format(time.RFC3339Nano)
}

// Custom returns a copy of the task's custom metrics.
func (c *Collector) Custom(taskID string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.custom[taskID]
	if !ok {
		return nil, false
	}
	return maps.Clone(m), true
}

// Performance merges the live snapshot of taskID with its custom metrics.
// It reports false when src does not know the task.
func (c *Collector) Performance(taskID string, src SnapshotSource) (map[string]any, bool) {
	snap, ok := src.Get(taskID)
	if !ok {
		return nil, false
	}
	custom, _ := c.Custom(taskID)
	return performanceView(snap, custom), true
}

func performanceView(snap progress.Snapshot, custom map[string]any) map[string]any {
	view := map[string]any{
		"task_id":                 snap.TaskID,
		"current":                 snap.Current,
		"total":                   snap.Total,
		"percentage":              snap.Percentage,
		"status":                  string(snap.Status),
		"elapsed_time":            snap.ElapsedTime,
		"processing_speed":        snap.ProcessingSpeed,
		"slow_processing_warning": snap.SlowProcessingWarning,
		"estimated_remaining":     nil,
	}
	if snap.EstimatedRemaining != nil {
		view["estimated_remaining"] = *snap.EstimatedRemaining
	}
	if snap.ErrorMessage != nil {
		view["error_message"] = *snap.ErrorMessage
	}
	if len(custom) > 0 {
		view["custom_metrics"] = custom
	}
	return view
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
