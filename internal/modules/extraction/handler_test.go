package extraction

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/distill/internal/middleware"
	"github.com/mx-space/distill/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(env *testEnv) *gin.Engine {
	r := gin.New()
	fakeAuth := func(c *gin.Context) {
		if user := c.GetHeader("X-User"); user != "" {
			c.Set(middleware.ContextKeyUserID, user)
		}
		c.Next()
	}
	NewHandler(env.svc, env.store, env.tasks, env.limiter, nil).RegisterRoutes(r.Group(""), fakeAuth)
	return r
}

func do(r http.Handler, method, target, user string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User", user)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestExtractEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	r := newRouter(env)

	rec := do(r, http.MethodPost, "/extract", "user-1", textInput("How to run better meetings."))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp Response
	decode(t, rec, &resp)
	if resp.ID == "" || resp.OrderNumber != 1 || len(resp.Phases) != 5 || resp.Cached {
		t.Fatalf("resp = %+v", resp)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "10" || rec.Header().Get("X-RateLimit-Remaining") != "9" {
		t.Fatalf("quota headers = %v", rec.Header())
	}

	if rec := do(r, http.MethodPost, "/extract", "user-1", map[string]any{"text": 42}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body: status %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, "/extract", "", textInput("x")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status %d", rec.Code)
	}
}

func TestExtractRateLimited(t *testing.T) {
	env := newTestEnv(t, envOptions{limit: 1})
	r := newRouter(env)

	if rec := do(r, http.MethodPost, "/extract", "user-1", textInput("one")); rec.Code != http.StatusOK {
		t.Fatalf("first: status %d", rec.Code)
	}
	rec := do(r, http.MethodPost, "/extract/stream", "user-1", textInput("two"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second: status %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("headers = %v", rec.Header())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("denial must not open a stream, content-type %q", ct)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["kind"] != "rate-limited" || body["remaining"] != float64(0) {
		t.Fatalf("body = %v", body)
	}
}

func TestStreamEndpointFramesEvents(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	r := newRouter(env)

	rec := do(r, http.MethodPost, "/extract/stream", "user-1", Input{URL: "https://youtu.be/abc123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type %q", ct)
	}

	var names []string
	var last string
	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			last = data
		}
	}
	if len(names) < 3 || names[0] != "status" || names[len(names)-2] != "result" || names[len(names)-1] != "done" {
		t.Fatalf("events = %v", names)
	}
	if last != `{"ok":true}` {
		t.Fatalf("done data = %s", last)
	}
}

func TestStreamEndpointStopsOnDisconnect(t *testing.T) {
	env := newTestEnv(t, envOptions{hold: true})
	r := newRouter(env)

	body, _ := json.Marshal(textInput("A long talk about habits and systems."))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/extract/stream", bytes.NewReader(body)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", "user-1")
	rec := httptest.NewRecorder()

	served := make(chan struct{})
	go func() {
		defer close(served)
		r.ServeHTTP(rec, req)
	}()
	<-env.provider.started
	cancel()

	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("handler kept running after the client left")
	}

	out := rec.Body.String()
	if !strings.Contains(out, "event: status") {
		t.Fatalf("no status frame before disconnect: %q", out)
	}
	if strings.Contains(out, "event: result") || strings.Contains(out, "event: done") {
		t.Fatalf("terminal frame written after disconnect: %q", out)
	}

	var records int64
	env.db.Model(&models.ExtractionModel{}).Count(&records)
	if records != 0 {
		t.Fatalf("records = %d after disconnect", records)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	r := newRouter(env)

	for _, text := range []string{"first notes", "second notes"} {
		if rec := do(r, http.MethodPost, "/extract", "user-1", textInput(text)); rec.Code != http.StatusOK {
			t.Fatalf("extract: %d", rec.Code)
		}
	}

	rec := do(r, http.MethodGet, "/extractions?size=1", "user-1", nil)
	var page struct {
		Data       []Response `json:"data"`
		Pagination struct {
			Total       int64 `json:"total"`
			HasNextPage bool  `json:"has_next_page"`
		} `json:"pagination"`
	}
	decode(t, rec, &page)
	if page.Pagination.Total != 2 || !page.Pagination.HasNextPage || len(page.Data) != 1 || page.Data[0].OrderNumber != 2 {
		t.Fatalf("page = %+v", page)
	}
	id := page.Data[0].ID

	if rec := do(r, http.MethodGet, "/extractions/"+id, "user-2", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign get: %d", rec.Code)
	}

	rec = do(r, http.MethodGet, "/extractions/"+id+"/markdown", "user-1", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/markdown") {
		t.Fatalf("markdown: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), ".md") || !strings.Contains(rec.Body.String(), "Keep a cadence") {
		t.Fatalf("markdown body = %s", rec.Body.String())
	}
	rec = do(r, http.MethodGet, "/extractions/"+id+"/markdown?format=html", "user-1", nil)
	if !strings.Contains(rec.Body.String(), "<h2") {
		t.Fatalf("html body = %s", rec.Body.String())
	}

	if rec := do(r, http.MethodDelete, "/extractions/"+id, "user-1", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/extractions/"+id, "user-1", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/extractions?mode=poem", "user-1", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad mode filter: %d", rec.Code)
	}
}

func TestQuotaEndpointDoesNotConsume(t *testing.T) {
	env := newTestEnv(t, envOptions{limit: 3})
	r := newRouter(env)

	for i := 0; i < 2; i++ {
		rec := do(r, http.MethodGet, "/quota", "user-1", nil)
		var body struct {
			Limit     int `json:"limit"`
			Remaining int `json:"remaining"`
		}
		decode(t, rec, &body)
		if body.Limit != 3 || body.Remaining != 3 {
			t.Fatalf("quota = %+v", body)
		}
	}
}

func TestTaskEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	r := newRouter(env)

	rec := do(r, http.MethodPost, "/extract/tasks", "user-1", textInput("task notes"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	var task struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decode(t, rec, &task)

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = do(r, http.MethodGet, "/extract/tasks/"+task.ID, "user-1", nil)
		decode(t, rec, &task)
		if task.Status == "completed" {
			break
		}
		if task.Status == "failed" || time.Now().After(deadline) {
			t.Fatalf("task = %s", rec.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if rec := do(r, http.MethodGet, "/extract/tasks/"+task.ID, "user-2", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign task: %d", rec.Code)
	}
	rec = do(r, http.MethodGet, "/extract/tasks", "user-1", nil)
	var list struct {
		Data []json.RawMessage `json:"data"`
	}
	decode(t, rec, &list)
	if len(list.Data) != 1 {
		t.Fatalf("tasks = %s", rec.Body.String())
	}
}
