// Package redis provides a Redis-backed task event log.
//
// Each task has a list holding its entries in append order. A sorted set
// indexes every entry by creation time so retention can find old entries
// without scanning every task.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/realtime-progress/internal/eventlog"
)

const defaultPrefix = "progress"

// Config describes the Redis connection.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// NewClient connects to Redis and verifies the connection with PING.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// EventLog implements eventlog.Repository on top of Redis.
type EventLog struct {
	rdb    redis.Cmdable
	prefix string
}

// NewEventLog wraps rdb. An empty prefix falls back to "progress".
func NewEventLog(rdb redis.Cmdable, prefix string) (*EventLog, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &EventLog{rdb: rdb, prefix: prefix}, nil
}

func (l *EventLog) taskKey(taskID string) string {
	return l.prefix + ":task:" + taskID
}

func (l *EventLog) indexKey() string {
	return l.prefix + ":events"
}

// Append writes every entry inside one MULTI/EXEC block.
func (l *EventLog) Append(ctx context.Context, entries []eventlog.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := eventlog.ValidateAll(entries); err != nil {
		return err
	}
	encoded := make([]string, len(entries))
	for i, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
		encoded[i] = string(b)
	}
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, e := range entries {
			pipe.RPush(ctx, l.taskKey(e.TaskID), encoded[i])
			pipe.ZAdd(ctx, l.indexKey(), redis.Z{
				Score:  score(e.CreatedAt),
				Member: encoded[i],
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append task events: %w", err)
	}
	return nil
}

// List returns the newest limit entries for taskID, oldest first.
func (l *EventLog) List(ctx context.Context, taskID string, limit int) ([]eventlog.Entry, error) {
	if limit <= 0 {
		limit = eventlog.DefaultListLimit
	}
	raw, err := l.rdb.LRange(ctx, l.taskKey(taskID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	out := make([]eventlog.Entry, 0, len(raw))
	for _, item := range raw {
		var e eventlog.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode task event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// PurgeBefore removes entries created strictly before cutoff.
func (l *EventLog) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	byScore := &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMicro(), 10),
	}
	members, err := l.rdb.ZRangeByScore(ctx, l.indexKey(), byScore).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expired task events: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range members {
			var e eventlog.Entry
			if err := json.Unmarshal([]byte(m), &e); err != nil {
				return fmt.Errorf("decode indexed event: %w", err)
			}
			pipe.LRem(ctx, l.taskKey(e.TaskID), 1, m)
			pipe.ZRem(ctx, l.indexKey(), m)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge task events: %w", err)
	}
	return int64(len(members)), nil
}

// Microseconds keep the score exact within float64 precision.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}
