package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisc "github.com/mx-space/distill/internal/pkg/redis"
)

func newService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := redisc.Connect("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return NewService(rc)
}

func TestEnqueueDeduplicatesActiveTasks(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	first, created, err := s.Enqueue(ctx, "extract", "u1", map[string]string{"url": "x"}, "u1|yt:abc")
	if err != nil || !created {
		t.Fatalf("enqueue: created=%v err=%v", created, err)
	}
	again, created, err := s.Enqueue(ctx, "extract", "u1", nil, "u1|yt:abc")
	if err != nil {
		t.Fatalf("enqueue again: %v", err)
	}
	if created || again.ID != first.ID {
		t.Fatalf("duplicate enqueue created a new task %s", again.ID)
	}

	if err := s.Complete(ctx, first.ID, map[string]int{"n": 1}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	next, created, err := s.Enqueue(ctx, "extract", "u1", nil, "u1|yt:abc")
	if err != nil || !created || next.ID == first.ID {
		t.Fatalf("finished task should release the dedup key: created=%v err=%v", created, err)
	}
}

func TestConcurrentEnqueueCreatesOneTask(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		created int
		ids     = map[string]bool{}
		wg      sync.WaitGroup
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, ok, err := s.Enqueue(ctx, "extract", "u1", nil, "u1|text:abc")
			if err != nil {
				t.Errorf("enqueue: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[task.ID] = true
			if ok {
				created++
			}
		}()
	}
	wg.Wait()

	if created != 1 || len(ids) != 1 {
		t.Fatalf("created = %d, distinct ids = %d, want 1 and 1", created, len(ids))
	}
}

func TestLifecycleAndTerminalStatesAreFinal(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	task, _, err := s.Enqueue(ctx, "extract", "u1", nil, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Start(ctx, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.UpdateProgress(ctx, task.ID, "analyzing", "Analyzing"); err != nil {
		t.Fatalf("progress: %v", err)
	}
	got, _ := s.GetByID(ctx, task.ID)
	if got.Status != TaskRunning || got.Step != "analyzing" || got.UserID != "u1" {
		t.Fatalf("task = %+v", got)
	}

	if _, err := s.Cancel(ctx, task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.Complete(ctx, task.ID, "late"); !errors.Is(err, ErrFinished) {
		t.Fatalf("complete after cancel err = %v, want ErrFinished", err)
	}
	got, _ = s.GetByID(ctx, task.ID)
	if got.Status != TaskCancelled || got.Result != nil {
		t.Fatalf("cancelled task was overwritten: %+v", got)
	}

	if _, err := s.Cancel(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel missing err = %v", err)
	}
}

func TestFailStoresKind(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	task, _, _ := s.Enqueue(ctx, "extract", "u1", nil, "")
	if err := s.Fail(ctx, task.ID, "source gone", "source-unavailable"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := s.GetByID(ctx, task.ID)
	if got.Status != TaskFailed || got.ErrorKind != "source-unavailable" || got.Error != "source gone" {
		t.Fatalf("task = %+v", got)
	}
}

func TestListByUserPagesNewestFirst(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		task, _, err := s.Enqueue(ctx, "extract", "u1", nil, "")
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		ids = append(ids, task.ID)
	}
	if _, _, err := s.Enqueue(ctx, "extract", "u2", nil, ""); err != nil {
		t.Fatalf("enqueue other user: %v", err)
	}

	page, total, err := s.ListByUser(ctx, "u1", 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("total=%d len=%d", total, len(page))
	}
	if page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Fatalf("page order = %s,%s", page[0].ID, page[1].ID)
	}

	last, _, _ := s.ListByUser(ctx, "u1", 3, 2)
	if len(last) != 1 || last[0].ID != ids[0] {
		t.Fatalf("last page = %+v", last)
	}
}

func TestDeleteFinishedKeepsActiveAndRecent(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	s.now = func() time.Time { return old }
	done, _, _ := s.Enqueue(ctx, "extract", "u1", nil, "")
	running, _, _ := s.Enqueue(ctx, "extract", "u1", nil, "")
	_ = s.Complete(ctx, done.ID, nil)
	_, _ = s.Start(ctx, running.ID)

	s.now = time.Now
	recent, _, _ := s.Enqueue(ctx, "extract", "u1", nil, "")
	_ = s.Complete(ctx, recent.ID, nil)

	removed, err := s.DeleteFinished(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete finished: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if got, _ := s.GetByID(ctx, done.ID); got != nil {
		t.Fatal("old finished task should be gone")
	}
	for _, id := range []string{running.ID, recent.ID} {
		if got, _ := s.GetByID(ctx, id); got == nil {
			t.Fatalf("task %s should survive", id)
		}
	}
}

func TestTaskJSONHidesOwner(t *testing.T) {
	data, err := json.Marshal(&Task{ID: "t1", UserID: "secret-user", DedupKey: "k", Status: TaskPending})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	if _, ok := m["user_id"]; ok {
		t.Fatal("user id leaked into API json")
	}
	if m["status"] != "pending" {
		t.Fatalf("status = %v", m["status"])
	}
}
