// Package progress keeps live per-job progress in Redis so that status
// reads do not hit the database on every encoder tick.
package progress

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "job:progress:"

// Snapshot is the last reported progress of a job.
type Snapshot struct {
	Percent   int       `json:"percent"`
	Stage     string    `json:"stage"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker writes progress hashes that expire after ttl of inactivity.
type Tracker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTracker creates a Tracker whose entries expire ttl after the last
// report.
func NewTracker(rdb *redis.Client, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tracker{rdb: rdb, ttl: ttl}
}

// Key returns the Redis key of a job's progress hash.
func Key(id uuid.UUID) string {
	return keyPrefix + id.String()
}

// Report stores percent and the unit being processed.
func (t *Tracker) Report(ctx context.Context, id uuid.UUID, percent int, stage string) error {
	key := Key(id)

	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"percent", percent,
			"stage", stage,
			"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, t.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to report progress for %s: %w", id, err)
	}

	return nil
}

// Get returns the last snapshot. ok is false when nothing was reported or
// the hash expired.
func (t *Tracker) Get(ctx context.Context, id uuid.UUID) (Snapshot, bool, error) {
	fields, err := t.rdb.HGetAll(ctx, Key(id)).Result()
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to read progress for %s: %w", id, err)
	}
	if len(fields) == 0 {
		return Snapshot{}, false, nil
	}

	s, err := parseSnapshot(fields)
	if err != nil {
		return Snapshot{}, false, err
	}

	return s, true, nil
}

// Clear drops the hash once the job is finalized.
func (t *Tracker) Clear(ctx context.Context, id uuid.UUID) error {
	return t.rdb.Del(ctx, Key(id)).Err()
}

func parseSnapshot(fields map[string]string) (Snapshot, error) {
	var s Snapshot

	if v, ok := fields["percent"]; ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return Snapshot{}, fmt.Errorf("invalid percent %q: %w", v, err)
		}
		s.Percent = p
	}

	s.Stage = fields["stage"]

	if v, ok := fields["updated_at"]; ok {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return Snapshot{}, fmt.Errorf("invalid updated_at %q: %w", v, err)
		}
		s.UpdatedAt = ts
	}

	return s, nil
}
