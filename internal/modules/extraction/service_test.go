package extraction

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mx-space/distill/internal/models"
	"github.com/mx-space/distill/internal/pkg/apperr"
	"github.com/mx-space/distill/internal/pkg/taskqueue"
)

func TestStreamYouTubeScenario(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	run, err := env.svc.Prepare(ctx, "user-1", Input{
		URL:            "https://youtube.com/watch?v=abc123",
		Mode:           "action_plan",
		OutputLanguage: "auto",
	})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if run.Cached() {
		t.Fatal("first run should miss the cache")
	}

	events := collect(run.Stream(ctx))
	got := describe(events)
	want := "status(cache) status(transcript) status(language) status(analyzing) "
	if !strings.HasPrefix(got, want+"text") {
		t.Fatalf("events = %s", got)
	}
	if !strings.HasSuffix(got, "text result done") {
		t.Fatalf("events = %s", got)
	}
	for _, ev := range events[4 : len(events)-2] {
		if ev.Type != EventText {
			t.Fatalf("unexpected %s between analyzing and result: %s", ev.Type, got)
		}
	}

	resp, ok := events[len(events)-2].Data.(*Response)
	if !ok {
		t.Fatalf("result data = %T", events[len(events)-2].Data)
	}
	if resp.Mode != "action_plan" || len(resp.Phases) < 4 || len(resp.Phases) > 6 {
		t.Fatalf("result mode=%s phases=%d", resp.Mode, len(resp.Phases))
	}
	if resp.Source.ContentID != "yt:abc123" || resp.Source.ContentSource == "" {
		t.Fatalf("source = %+v", resp.Source)
	}
	if resp.Source.ThumbnailURL == "" {
		t.Fatal("preview thumbnail missing")
	}
	if done := events[len(events)-1].Data.(DoneData); !done.OK {
		t.Fatal("done.ok = false")
	}
}

func TestCacheHitIsIdempotent(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	in := textInput("Notes about starting a newsletter and finding the first hundred readers.")

	first, err := env.svc.Prepare(ctx, "user-1", in)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	firstResp, err := first.Execute(ctx, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	second, err := env.svc.Prepare(ctx, "user-1", in)
	if err != nil {
		t.Fatalf("Prepare again: %v", err)
	}
	if !second.Cached() {
		t.Fatal("second run should hit the cache")
	}
	if second.Quota.Remaining != first.Quota.Remaining {
		t.Fatalf("cache hit consumed quota: %d -> %d", first.Quota.Remaining, second.Quota.Remaining)
	}
	secondResp, err := second.Execute(ctx, nil)
	if err != nil {
		t.Fatalf("Execute again: %v", err)
	}

	a, _ := json.Marshal(firstResp.Result)
	b, _ := json.Marshal(secondResp.Result)
	if string(a) != string(b) {
		t.Fatalf("results differ:\n%s\n%s", a, b)
	}
	if !secondResp.Cached || firstResp.Cached {
		t.Fatalf("cached flags = %v/%v", firstResp.Cached, secondResp.Cached)
	}
	if calls := env.provider.calls.Load(); calls != 1 {
		t.Fatalf("provider calls = %d, want 1", calls)
	}
	if firstResp.OrderNumber != 1 || secondResp.OrderNumber != 2 {
		t.Fatalf("order numbers = %d, %d", firstResp.OrderNumber, secondResp.OrderNumber)
	}

	var usage int64
	env.db.Model(&models.AIUsageModel{}).Count(&usage)
	if usage != 1 {
		t.Fatalf("usage rows = %d, want 1", usage)
	}
}

func TestStreamCancellation(t *testing.T) {
	env := newTestEnv(t, envOptions{hold: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run, err := env.svc.Prepare(ctx, "user-1", textInput("A long talk about habits and systems."))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	events := run.Stream(ctx)

	var seenText bool
	for ev := range events {
		if ev.Type == EventText {
			seenText = true
			break
		}
	}
	if !seenText {
		t.Fatal("stream ended before any text")
	}
	<-env.provider.started
	cancel()

	for ev := range events {
		switch ev.Type {
		case EventText, EventResult, EventDone:
			t.Fatalf("%s event after cancellation", ev.Type)
		}
	}

	var records, cached int64
	env.db.Model(&models.ExtractionModel{}).Count(&records)
	env.db.Model(&models.ExtractionCacheModel{}).Count(&cached)
	if records != 0 || cached != 0 {
		t.Fatalf("persisted after cancel: records=%d cache=%d", records, cached)
	}
}

func TestStreamReportsInvalidOutput(t *testing.T) {
	env := newTestEnv(t, envOptions{replies: []string{"not json at all"}})
	ctx := context.Background()

	run, err := env.svc.Prepare(ctx, "user-1", textInput("Some notes."))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	events := collect(run.Stream(ctx))
	got := describe(events)
	if !strings.HasSuffix(got, "error done") || strings.Contains(got, "result") {
		t.Fatalf("events = %s", got)
	}
	if strings.Count(got, "status(repair-json)") > 2 {
		t.Fatalf("too many repairs: %s", got)
	}
	data := events[len(events)-2].Data.(ErrorData)
	if data.Kind != apperr.KindInvalidModelOutput || data.Code != 502 {
		t.Fatalf("error = %+v", data)
	}
	if done := events[len(events)-1].Data.(DoneData); done.OK {
		t.Fatal("done.ok = true after error")
	}
	if len(env.archiver.raw) != 1 || env.archiver.raw[0] != "not json at all" {
		t.Fatalf("archived = %q", env.archiver.raw)
	}
}

func TestPrepareRejectsWhenQuotaExhausted(t *testing.T) {
	env := newTestEnv(t, envOptions{limit: 1})
	ctx := context.Background()

	run, err := env.svc.Prepare(ctx, "user-1", textInput("first"))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := run.Execute(ctx, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	_, err = env.svc.Prepare(ctx, "user-1", textInput("second"))
	ae := apperr.As(err)
	if ae.Kind != apperr.KindRateLimited || ae.RateLimit == nil || ae.RateLimit.RetryAfterSeconds < 1 {
		t.Fatalf("err = %+v", ae)
	}

	// A cached result is still served without quota.
	if _, err := env.svc.Prepare(ctx, "user-1", textInput("first")); err != nil {
		t.Fatalf("cache hit after exhaustion: %v", err)
	}
	// Other users have their own window.
	if _, err := env.svc.Prepare(ctx, "user-2", textInput("second")); err != nil {
		t.Fatalf("other user: %v", err)
	}
}

func TestPlanValidatesInput(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cases := map[string]Input{
		"empty":          {},
		"both":           {URL: "https://example.com", Text: "x"},
		"bad mode":       {Text: "x", Mode: "poem"},
		"bad language":   {Text: "x", OutputLanguage: "fr"},
		"text with hint": {Text: "x", SourceType: "video"},
		"not a url":      {URL: "ftp://example.com/file"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.Plan(context.Background(), "user-1", in)
			if !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
	if _, err := env.svc.Plan(context.Background(), "", textInput("x")); !apperr.Is(err, apperr.KindUnauthenticated) {
		t.Fatalf("anonymous err = %v", err)
	}
}

func TestPlanDefaultsToActionPlan(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	run, err := env.svc.Plan(context.Background(), "user-1", Input{Text: "notes"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if run.Key().Mode != "action_plan" || run.Key().Language != "auto" {
		t.Fatalf("key = %+v", run.Key())
	}
}

func TestTasksRunInBackground(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()
	in := textInput("Background notes on pricing a product.")

	run, err := env.svc.Plan(ctx, "user-1", in)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	task, created, err := env.tasks.Submit(ctx, run, in)
	if err != nil || !created {
		t.Fatalf("Submit: created=%v err=%v", created, err)
	}
	env.tasks.Wait()

	got, err := env.tasks.Get(ctx, "user-1", task.ID)
	if err != nil || got == nil {
		t.Fatalf("Get: %v %v", got, err)
	}
	if got.Status != taskqueue.TaskCompleted {
		t.Fatalf("status = %s (%s)", got.Status, got.Error)
	}
	if other, _ := env.tasks.Get(ctx, "user-2", task.ID); other != nil {
		t.Fatal("task visible to another user")
	}

	var records int64
	env.db.Model(&models.ExtractionModel{}).Where("user_id = ?", "user-1").Count(&records)
	if records != 1 {
		t.Fatalf("records = %d", records)
	}
}

func TestTasksCancelRunning(t *testing.T) {
	env := newTestEnv(t, envOptions{block: true})
	ctx := context.Background()
	in := textInput("Held notes.")

	run, err := env.svc.Plan(ctx, "user-1", in)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	task, _, err := env.tasks.Submit(ctx, run, in)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-env.provider.started

	before, _ := env.limiter.Peek(ctx, "user-1")
	dup, created, err := env.tasks.Submit(ctx, run, in)
	if err != nil || created || dup.ID != task.ID {
		t.Fatalf("duplicate submit: created=%v err=%v", created, err)
	}
	if after, _ := env.limiter.Peek(ctx, "user-1"); after.Remaining != before.Remaining {
		t.Fatal("duplicate submit consumed quota")
	}

	cancelled, err := env.tasks.Cancel(ctx, "user-1", task.ID)
	if err != nil || cancelled == nil {
		t.Fatalf("Cancel: %v %v", cancelled, err)
	}
	env.tasks.Wait()

	final, _ := env.tasks.Get(ctx, "user-1", task.ID)
	if final == nil || final.Status != taskqueue.TaskCancelled {
		t.Fatalf("final = %+v", final)
	}

	var records int64
	env.db.Model(&models.ExtractionModel{}).Count(&records)
	if records != 0 {
		t.Fatalf("records = %d after cancel", records)
	}
}

func TestTasksConcurrentDuplicatesChargeOnce(t *testing.T) {
	env := newTestEnv(t, envOptions{block: true})
	ctx := context.Background()
	in := textInput("Notes submitted twice at once.")

	var (
		wg      sync.WaitGroup
		created atomic.Int32
		ids     sync.Map
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := env.svc.Plan(ctx, "user-1", in)
			if err != nil {
				t.Errorf("Plan: %v", err)
				return
			}
			task, ok, err := env.tasks.Submit(ctx, run, in)
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			if ok {
				created.Add(1)
			}
			ids.Store(task.ID, true)
		}()
	}
	wg.Wait()

	if got := created.Load(); got != 1 {
		t.Fatalf("created = %d, want 1", got)
	}
	n := 0
	ids.Range(func(any, any) bool { n++; return true })
	if n != 1 {
		t.Fatalf("distinct tasks = %d, want 1", n)
	}
	if d, _ := env.limiter.Peek(ctx, "user-1"); d.Remaining != d.Limit-1 {
		t.Fatalf("remaining = %d, want %d", d.Remaining, d.Limit-1)
	}
}
