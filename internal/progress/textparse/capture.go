package textparse

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
)

// Updater receives parsed progress for a task.
type Updater interface {
	Update(id string, current int)
}

// maxPending bounds how much unterminated text a Capture buffers.
const maxPending = 64 << 10

// Capture is an io.Writer scoped to a single task. Each complete line
// written to it (terminated by '\n' or '\r') is parsed and, when it holds a
// progress bar, forwarded to the Updater.
type Capture struct {
	taskID  string
	updater Updater
	logger  *zap.Logger

	mu      sync.Mutex
	pending []byte
	parsed  int
	dropped int
}

// NewCapture binds a Capture to taskID.
func NewCapture(taskID string, updater Updater, logger *zap.Logger) *Capture {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capture{taskID: taskID, updater: updater, logger: logger}
}

// Write consumes p and never fails.
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, p...)
	for {
		i := bytes.IndexAny(c.pending, "\r\n")
		if i < 0 {
			break
		}
		c.handle(c.pending[:i])
		c.pending = c.pending[i+1:]
	}
	if len(c.pending) > maxPending {
		c.logger.Debug("discarding oversized partial line",
			zap.String("task_id", c.taskID),
			zap.Int("bytes", len(c.pending)),
		)
		c.pending = nil
		c.dropped++
	}
	return len(p), nil
}

// Flush processes any buffered text that was not terminated by a newline.
func (c *Capture) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) > 0 {
		c.handle(c.pending)
		c.pending = nil
	}
}

// Stats reports how many lines were forwarded and how many were dropped.
func (c *Capture) Stats() (parsed, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parsed, c.dropped
}

func (c *Capture) handle(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	res, ok := Parse(string(line))
	if !ok {
		c.dropped++
		return
	}
	c.parsed++
	c.updater.Update(c.taskID, res.Current)
}
