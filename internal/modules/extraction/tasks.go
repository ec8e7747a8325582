package extraction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/mx-space/distill/internal/pkg/apperr"
	"github.com/mx-space/distill/internal/pkg/taskqueue"
	"go.uber.org/zap"
)

// TaskType labels extraction tasks in the queue.
const TaskType = "extraction"

// Tasks runs admitted extractions in the background and tracks them in the
// task queue.
type Tasks struct {
	queue  *taskqueue.Service
	logger *zap.Logger

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

func NewTasks(queue *taskqueue.Service, logger *zap.Logger) *Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Tasks{
		queue:  queue,
		logger: logger.Named("tasks"),
		base:   base,
		stop:   stop,
		cancel: make(map[string]context.CancelFunc),
	}
}

func dedupKey(run *Run) string {
	k := run.Key()
	return strings.Join([]string{run.UserID(), k.ContentID, k.Mode, k.Language}, "|")
}

// Submit admits run and starts it unless an identical task of the same user
// is still active, in which case that task is returned and no quota is
// charged. A submission that loses the enqueue race to an identical one gets
// its unit back.
func (t *Tasks) Submit(ctx context.Context, run *Run, in Input) (*taskqueue.Task, bool, error) {
	key := dedupKey(run)
	active, err := t.queue.Active(ctx, key)
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	if active != nil {
		return active, false, nil
	}

	if err := run.Admit(ctx); err != nil {
		return nil, false, err
	}

	task, created, err := t.queue.Enqueue(ctx, TaskType, run.UserID(), in, key)
	if err != nil {
		run.Refund(context.WithoutCancel(ctx))
		return nil, false, apperr.Internal(err)
	}
	if !created {
		run.Refund(context.WithoutCancel(ctx))
		return task, false, nil
	}

	runCtx, cancel := context.WithCancel(t.base)
	t.mu.Lock()
	t.cancel[task.ID] = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.forget(task.ID)
		t.execute(runCtx, task.ID, run)
	}()
	return task, true, nil
}

func (t *Tasks) execute(ctx context.Context, id string, run *Run) {
	log := t.logger.With(zap.String("task_id", id))
	// Queue writes must land even after the run is cancelled.
	bg := context.WithoutCancel(ctx)

	if _, err := t.queue.Start(bg, id); err != nil {
		log.Info("task not started", zap.Error(err))
		return
	}

	resp, err := run.Execute(ctx, &taskObserver{ctx: bg, queue: t.queue, id: id, logger: log})
	switch {
	case err == nil:
		err = t.queue.Complete(bg, id, resp)
	case errors.Is(err, context.Canceled):
		// Cancelled by the user or by shutdown; a user cancel already
		// finished the task.
		_, err = t.queue.Cancel(bg, id)
	default:
		data := ErrorDataOf(err)
		log.Warn("task failed", zap.String("kind", string(data.Kind)), zap.Error(err))
		err = t.queue.Fail(bg, id, data.Message, string(data.Kind))
	}
	if err != nil && !errors.Is(err, taskqueue.ErrFinished) {
		log.Error("task status update failed", zap.Error(err))
	}
}

func (t *Tasks) forget(id string) {
	t.mu.Lock()
	if cancel, ok := t.cancel[id]; ok {
		cancel()
		delete(t.cancel, id)
	}
	t.mu.Unlock()
}

// Get returns userID's task id, or nil.
func (t *Tasks) Get(ctx context.Context, userID, id string) (*taskqueue.Task, error) {
	task, err := t.queue.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil || task.UserID != userID {
		return nil, nil
	}
	return task, nil
}

// List returns userID's tasks, newest first.
func (t *Tasks) List(ctx context.Context, userID string, page, size int) ([]*taskqueue.Task, int64, error) {
	return t.queue.ListByUser(ctx, userID, page, size)
}

// Cancel stops userID's task id. Cancelling a finished task is a no-op that
// returns its current state.
func (t *Tasks) Cancel(ctx context.Context, userID, id string) (*taskqueue.Task, error) {
	task, err := t.Get(ctx, userID, id)
	if err != nil || task == nil {
		return nil, err
	}
	cancelled, err := t.queue.Cancel(ctx, id)
	if errors.Is(err, taskqueue.ErrFinished) {
		return t.queue.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if cancel, ok := t.cancel[id]; ok {
		cancel()
	}
	t.mu.Unlock()
	return cancelled, nil
}

// Cleanup removes finished tasks older than age.
func (t *Tasks) Cleanup(ctx context.Context, age time.Duration) (int, error) {
	return t.queue.DeleteFinished(ctx, time.Now().Add(-age))
}

// Shutdown cancels running tasks and waits for them until ctx is done.
func (t *Tasks) Shutdown(ctx context.Context) error {
	t.stop()
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every running task has finished.
func (t *Tasks) Wait() {
	t.wg.Wait()
}

// taskObserver mirrors progress into the task record.
type taskObserver struct {
	ctx    context.Context
	queue  *taskqueue.Service
	id     string
	logger *zap.Logger
}

func (o *taskObserver) Status(step, message string) {
	if err := o.queue.UpdateProgress(o.ctx, o.id, step, message); err != nil && !errors.Is(err, taskqueue.ErrFinished) {
		o.logger.Debug("task progress update failed", zap.Error(err))
	}
}

func (o *taskObserver) Text(string)     {}
func (o *taskObserver) Streaming() bool { return false }
