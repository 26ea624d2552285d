// Package scheduler tracks scheduled-but-unexecuted reconciliation
// tasks in Redis as an explicit queryable set keyed by (task kind,
// target file). Scheduling a task that is already pending replaces its
// due time, which is exactly the debounce behavior sheet-change
// webhooks need: a burst of edits keeps pushing one task into the
// future until the sheet goes quiet.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	dueKey   = "couponsync:tasks:due"
	idsKey   = "couponsync:tasks:ids"
	KindSync = "sheet-sync"
)

// Task is one pending unit of scheduled work.
type Task struct {
	ID     string
	Kind   string
	FileID string
	DueAt  time.Time
}

// Scheduler is a Redis-backed debounced task set.
type Scheduler struct {
	rdb *redis.Client
	now func() time.Time
}

// New creates a Scheduler over a Redis client.
func New(rdb *redis.Client) *Scheduler {
	return &Scheduler{rdb: rdb, now: time.Now}
}

func taskKey(kind, fileID string) string {
	return kind + ":" + fileID
}

// Schedule queues (or re-queues) the task for the file to run after
// delay. An already-pending task for the same (kind, file) is replaced
// wholesale: new due time, new task id. Returns the task id.
func (s *Scheduler) Schedule(ctx context.Context, kind, fileID string, delay time.Duration) (string, error) {
	key := taskKey(kind, fileID)
	id := uuid.New().String()
	due := s.now().Add(delay)

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, dueKey, redis.Z{Score: float64(due.UnixMilli()), Member: key})
	pipe.HSet(ctx, idsKey, key, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("scheduling %s: %w", key, err)
	}
	return id, nil
}

// Revoke drops a pending task for the file. Revoking a task that does
// not exist is a no-op.
func (s *Scheduler) Revoke(ctx context.Context, kind, fileID string) error {
	key := taskKey(kind, fileID)
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, dueKey, key)
	pipe.HDel(ctx, idsKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revoking %s: %w", key, err)
	}
	return nil
}

// RevokeByID drops whichever pending task carries the given id.
// Returns true if a task was found and removed.
func (s *Scheduler) RevokeByID(ctx context.Context, taskID string) (bool, error) {
	all, err := s.rdb.HGetAll(ctx, idsKey).Result()
	if err != nil {
		return false, fmt.Errorf("listing task ids: %w", err)
	}
	for key, id := range all {
		if id != taskID {
			continue
		}
		kind, fileID, ok := splitTaskKey(key)
		if !ok {
			continue
		}
		return true, s.Revoke(ctx, kind, fileID)
	}
	return false, nil
}

// Pending returns the pending task id for (kind, file), if any.
func (s *Scheduler) Pending(ctx context.Context, kind, fileID string) (string, bool, error) {
	id, err := s.rdb.HGet(ctx, idsKey, taskKey(kind, fileID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up pending task: %w", err)
	}
	return id, true, nil
}

// claimScript removes one task and returns its id, but only while the
// task's due time is still inside the claim window. A task rescheduled
// after the caller read the due range carries a newer score and is left
// untouched.
var claimScript = redis.NewScript(`
local score = redis.call("zscore", KEYS[1], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then
	return false
end
redis.call("zrem", KEYS[1], ARGV[1])
local id = redis.call("hget", KEYS[2], ARGV[1])
redis.call("hdel", KEYS[2], ARGV[1])
return id or ""
`)

// Due claims every task whose due time has passed. Each claim re-checks
// the task's due time atomically against the same cutoff, so a task
// debounced between the range read and its claim keeps its newer entry.
func (s *Scheduler) Due(ctx context.Context) ([]Task, error) {
	now := s.now()
	members, err := s.rdb.ZRangeByScore(ctx, dueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading due tasks: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	var tasks []Task
	for _, key := range members {
		id, claimed, err := s.claim(ctx, key, now)
		if err != nil {
			return tasks, fmt.Errorf("claiming %s: %w", key, err)
		}
		if !claimed {
			continue
		}
		kind, fileID, ok := splitTaskKey(key)
		if !ok {
			// malformed member: claimed away, nothing to run
			continue
		}
		tasks = append(tasks, Task{ID: id, Kind: kind, FileID: fileID, DueAt: now})
	}
	return tasks, nil
}

// claim atomically removes one member if it is still due at cutoff and
// returns the task id recorded for it.
func (s *Scheduler) claim(ctx context.Context, member string, cutoff time.Time) (string, bool, error) {
	res, err := claimScript.Run(ctx, s.rdb, []string{dueKey, idsKey}, member, cutoff.UnixMilli()).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	id, _ := res.(string)
	return id, true, nil
}

func splitTaskKey(key string) (kind, fileID string, ok bool) {
	i := strings.Index(key, ":")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
