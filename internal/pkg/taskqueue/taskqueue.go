package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redisc "github.com/mx-space/distill/internal/pkg/redis"
	"github.com/redis/go-redis/v9"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s TaskStatus) Finished() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

var (
	ErrNotFound = errors.New("task not found")
	// ErrFinished is returned when a terminal task would change state.
	ErrFinished = errors.New("task already finished")
)

// Task is a unit of background work stored in Redis.
type Task struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	UserID    string          `json:"-"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    TaskStatus      `json:"status"`
	Step      string          `json:"step,omitempty"`
	Message   string          `json:"message,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"errorKind,omitempty"`
	DedupKey  string          `json:"-"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// storedTask keeps the fields hidden from API responses in Redis.
type storedTask struct {
	Task
	UserID   string `json:"user_id"`
	DedupKey string `json:"dedup_key,omitempty"`
}

const (
	keyPrefix     = "distill:task:"
	keyIndex      = "distill:tasks:index" // sorted set: score=created_at, member=task_id
	keyUserPrefix = "distill:tasks:user:" // sorted set per user
	keyDedup      = "distill:tasks:dedup" // hash: dedup_key -> task_id
	taskTTL       = 7 * 24 * time.Hour
	maxTxRetries  = 5
)

// Service manages the Redis-backed task queue.
type Service struct {
	rc  *redisc.Client
	now func() time.Time
}

func NewService(rc *redisc.Client) *Service {
	return &Service{rc: rc, now: time.Now}
}

func taskKey(id string) string { return keyPrefix + id }

func userKey(userID string) string { return keyUserPrefix + userID }

// Enqueue creates a pending task for userID. When dedupKey names a task that
// is still pending or running, that task is returned with created=false. The
// dedup check and the write run under WATCH, so concurrent enqueues with the
// same key create one task.
func (s *Service) Enqueue(ctx context.Context, taskType, userID string, payload any, dedupKey string) (task *Task, created bool, err error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode payload: %w", err)
	}

	now := s.now()
	task = &Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		UserID:    userID,
		Payload:   payloadBytes,
		Status:    TaskPending,
		DedupKey:  dedupKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := encode(task)
	if err != nil {
		return nil, false, err
	}

	score := float64(now.UnixMilli())
	write := func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(task.ID), data, taskTTL)
		pipe.ZAdd(ctx, keyIndex, redis.Z{Score: score, Member: task.ID})
		pipe.ZAdd(ctx, userKey(userID), redis.Z{Score: score, Member: task.ID})
		pipe.Expire(ctx, userKey(userID), taskTTL)
		if dedupKey != "" {
			pipe.HSet(ctx, keyDedup, dedupKey, task.ID)
		}
		return nil
	}
	if dedupKey == "" {
		if _, err := s.rc.Raw().TxPipelined(ctx, write); err != nil {
			return nil, false, err
		}
		return task, true, nil
	}

	var existing *Task
	txf := func(tx *redis.Tx) error {
		existing = nil
		id, err := tx.HGet(ctx, keyDedup, dedupKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			current, err := s.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if current != nil && !current.Status.Finished() {
				existing = current
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, write)
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rc.Raw().Watch(ctx, txf, keyDedup)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
		return task, true, nil
	}
	return nil, false, fmt.Errorf("enqueue %s: too much contention", dedupKey)
}

// Active returns the unfinished task registered under dedupKey, or nil.
func (s *Service) Active(ctx context.Context, dedupKey string) (*Task, error) {
	id, err := s.rc.Raw().HGet(ctx, keyDedup, dedupKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	task, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil || task.Status.Finished() {
		s.rc.Raw().HDel(ctx, keyDedup, dedupKey)
		return nil, nil
	}
	return task, nil
}

// GetByID retrieves a task by its ID, or nil when it does not exist.
func (s *Service) GetByID(ctx context.Context, id string) (*Task, error) {
	data, err := s.rc.Raw().Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// Start moves a pending task to running.
func (s *Service) Start(ctx context.Context, id string) (*Task, error) {
	return s.mutate(ctx, id, func(t *Task) error {
		if t.Status != TaskPending {
			return ErrFinished
		}
		t.Status = TaskRunning
		return nil
	})
}

// UpdateProgress records the current step of a running task.
func (s *Service) UpdateProgress(ctx context.Context, id, step, message string) error {
	_, err := s.mutate(ctx, id, func(t *Task) error {
		t.Step = step
		t.Message = message
		return nil
	})
	return err
}

// Complete stores result and marks the task completed.
func (s *Service) Complete(ctx context.Context, id string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.mutate(ctx, id, func(t *Task) error {
		t.Status = TaskCompleted
		t.Result = data
		t.Step, t.Message = "", ""
		return nil
	})
	return err
}

// Fail marks the task failed with a user-facing message and error kind.
func (s *Service) Fail(ctx context.Context, id, message, kind string) error {
	_, err := s.mutate(ctx, id, func(t *Task) error {
		t.Status = TaskFailed
		t.Error = message
		t.ErrorKind = kind
		return nil
	})
	return err
}

// Cancel marks a pending or running task as cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*Task, error) {
	return s.mutate(ctx, id, func(t *Task) error {
		t.Status = TaskCancelled
		t.Error = "cancelled by user"
		return nil
	})
}

// mutate applies fn to the stored task under WATCH so concurrent updates
// cannot resurrect a finished task. fn is not called for finished tasks.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Task) error) (*Task, error) {
	key := taskKey(id)
	var out *Task
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		task, err := decode(data)
		if err != nil {
			return err
		}
		if task.Status.Finished() {
			return ErrFinished
		}
		if err := fn(task); err != nil {
			return err
		}
		task.UpdatedAt = s.now()
		encoded, err := encode(task)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, taskTTL)
			if task.Status.Finished() && task.DedupKey != "" {
				pipe.HDel(ctx, keyDedup, task.DedupKey)
			}
			return nil
		})
		if err == nil {
			out = task
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rc.Raw().Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}
	return nil, fmt.Errorf("task %s: too much contention", id)
}

// ListByUser returns userID's tasks, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, page, size int) ([]*Task, int64, error) {
	key := userKey(userID)
	total, err := s.rc.Raw().ZCard(ctx, key).Result()
	if err != nil {
		return nil, 0, err
	}
	start := int64((page - 1) * size)
	ids, err := s.rc.Raw().ZRevRange(ctx, key, start, start+int64(size)-1).Result()
	if err != nil {
		return nil, 0, err
	}

	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if task == nil {
			// Expired; drop the dangling index entry.
			s.rc.Raw().ZRem(ctx, key, id)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, total, nil
}

// DeleteByID removes a single task by ID.
func (s *Service) DeleteByID(ctx context.Context, id string) error {
	task, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrNotFound
	}
	pipe := s.rc.Raw().TxPipeline()
	s.remove(ctx, pipe, task)
	_, err = pipe.Exec(ctx)
	return err
}

// DeleteFinished removes finished tasks created before cutoff and returns
// how many were removed.
func (s *Service) DeleteFinished(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.rc.Raw().ZRangeByScore(ctx, keyIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	pipe := s.rc.Raw().TxPipeline()
	for _, id := range ids {
		task, err := s.GetByID(ctx, id)
		if err != nil {
			return 0, err
		}
		if task == nil {
			pipe.ZRem(ctx, keyIndex, id)
			continue
		}
		if !task.Status.Finished() {
			continue
		}
		s.remove(ctx, pipe, task)
		removed++
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return removed, nil
}

func (s *Service) remove(ctx context.Context, pipe redis.Pipeliner, task *Task) {
	pipe.Del(ctx, taskKey(task.ID))
	pipe.ZRem(ctx, keyIndex, task.ID)
	pipe.ZRem(ctx, userKey(task.UserID), task.ID)
	if task.DedupKey != "" {
		pipe.HDel(ctx, keyDedup, task.DedupKey)
	}
}

func encode(task *Task) ([]byte, error) {
	return json.Marshal(storedTask{Task: *task, UserID: task.UserID, DedupKey: task.DedupKey})
}

func decode(data []byte) (*Task, error) {
	var stored storedTask
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	task := stored.Task
	task.UserID = stored.UserID
	task.DedupKey = stored.DedupKey
	return &task, nil
}
