package extraction

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	appcfg "github.com/mx-space/distill/internal/config"
	"github.com/mx-space/distill/internal/database"
	"github.com/mx-space/distill/internal/modules/processing/ai"
	"github.com/mx-space/distill/internal/modules/source"
	"github.com/mx-space/distill/internal/pkg/quota"
	redisc "github.com/mx-space/distill/internal/pkg/redis"
	"github.com/mx-space/distill/internal/pkg/taskqueue"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const fivePhases = `{"objective":"Launch a newsletter","phases":[` +
	`{"id":1,"title":"Pick a niche","items":["List three topics"]},` +
	`{"id":2,"title":"Set up tooling","items":["Choose a platform"]},` +
	`{"id":3,"title":"Write issue zero","items":["Draft 500 words"]},` +
	`{"id":4,"title":"Find readers","items":["Share with ten friends"]},` +
	`{"id":5,"title":"Keep a cadence","items":["Publish weekly"]}],` +
	`"proTip":"Ship before it feels ready","metadata":{"readingTime":"4 min","difficulty":"Intermedio","originalTime":"20 min","savedTime":"16 min"}}`

// fakeProvider replays scripted replies, one per call; the last reply repeats.
type fakeProvider struct {
	replies []string
	calls   atomic.Int32

	// When hold is set, Stream sends its first chunk, closes started and
	// waits for ctx before trying to send the rest.
	hold    bool
	started chan struct{}
	once    sync.Once

	// When block is set, Generate waits for ctx.
	block bool
}

func (f *fakeProvider) Identity() ai.ModelIdentity {
	return ai.ModelIdentity{Provider: "fake", Model: "fake-1"}
}

func (f *fakeProvider) next() string {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.replies) {
		n = len(f.replies) - 1
	}
	return f.replies[n]
}

func (f *fakeProvider) Generate(ctx context.Context, _ ai.Request) (*ai.Completion, error) {
	if f.block {
		f.once.Do(func() { close(f.started) })
		<-ctx.Done()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ai.Completion{Text: f.next(), InputTokens: 100, OutputTokens: 50}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, _ ai.Request, onChunk func(string)) (*ai.Completion, error) {
	text := f.next()
	third := len(text) / 3
	chunks := []string{text[:third], text[third : 2*third], text[2*third:]}
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil && !f.hold {
			return nil, err
		}
		onChunk(chunk)
		if i == 0 && f.hold {
			f.once.Do(func() { close(f.started) })
			<-ctx.Done()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ai.Completion{Text: text, InputTokens: 100, OutputTokens: 50}, nil
}

type fakeArchiver struct {
	mu  sync.Mutex
	raw []string
}

func (a *fakeArchiver) ArchiveInvalidOutput(_ context.Context, raw string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raw = append(a.raw, raw)
	return fmt.Sprintf("invalid-output/test/%d.txt", len(a.raw)), nil
}

func newFakeYouTubeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		v := r.URL.Query().Get("v")
		fmt.Fprintf(w, `<html><script>var ytInitialPlayerResponse = {"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":[`+
			`{"baseUrl":"/api/timedtext?v=%s&lang=en","languageCode":"en"}]}}};</script></html>`, v)
	})
	mux.HandleFunc("/api/timedtext", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"events":[{"segs":[{"utf8":"today we build a newsletter "},{"utf8":"from scratch and grow it with the first readers"}]}]}`)
	})
	mux.HandleFunc("/oembed", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"title":"Newsletter from zero","author_name":"Chan","thumbnail_url":"https://i.ytimg.com/vi/abc123/hqdefault.jpg"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	db       *gorm.DB
	store    *Store
	limiter  *quota.Limiter
	provider *fakeProvider
	archiver *fakeArchiver
	svc      *Service
	tasks    *Tasks
}

type envOptions struct {
	replies []string
	hold    bool
	block   bool
	limit   int
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if len(opts.replies) == 0 {
		opts.replies = []string{fivePhases}
	}
	if opts.limit == 0 {
		opts.limit = 10
	}

	db, err := database.Open(appcfg.DriverSQLite, filepath.Join(t.TempDir(), "distill.db"), logger.Silent)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	rc, err := redisc.Connect("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	yt := newFakeYouTubeServer(t)
	srcCfg := appcfg.SourceConfig{
		YouTubeBaseURL:     yt.URL,
		YouTubeOEmbedURL:   yt.URL + "/oembed",
		YouTubeBurst:       10,
		TranscriptAttempts: 2,
		UserAgent:          "distill-test",
		FetchTimeout:       5 * time.Second,
		MaxBodyBytes:       1 << 20,
	}
	youtube := source.NewYouTube(srcCfg, yt.Client())
	store := NewStore(db)
	resolver := source.NewResolver(store, youtube, source.NewWebFetcher(srcCfg, yt.Client()), srcCfg, 20000,
		source.WithTranscriptBackoff(time.Millisecond, 2*time.Millisecond))

	provider := &fakeProvider{replies: opts.replies, hold: opts.hold, block: opts.block, started: make(chan struct{})}
	exCfg := appcfg.ExtractionConfig{
		MaxOutputTokens: 2048,
		PrimaryAttempts: 3,
		RepairAttempts:  2,
		RequestTimeout:  5 * time.Second,
		BackoffBase:     time.Millisecond,
		BackoffMax:      2 * time.Millisecond,
	}
	orch := ai.NewOrchestrator(provider, exCfg)
	engines := func(context.Context) (*Engine, error) {
		return &Engine{Extract: orch, Repair: orch}, nil
	}

	limiter := quota.NewLimiter(rc, opts.limit, time.Hour)
	archiver := &fakeArchiver{}
	svc := NewService(store, limiter, resolver, engines, NewWriter(store, nil, nil), exCfg,
		WithPreviewer(youtube), WithArchiver(archiver))
	tasks := NewTasks(taskqueue.NewService(rc), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tasks.Shutdown(ctx)
	})

	return &testEnv{db: db, store: store, limiter: limiter, provider: provider, archiver: archiver, svc: svc, tasks: tasks}
}

func textInput(text string) Input {
	return Input{Text: text, Mode: "action_plan", OutputLanguage: "en"}
}

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func describe(events []Event) string {
	parts := make([]string, 0, len(events))
	for _, ev := range events {
		switch d := ev.Data.(type) {
		case StatusData:
			parts = append(parts, "status("+d.Step+")")
		default:
			parts = append(parts, string(ev.Type))
		}
	}
	return strings.Join(parts, " ")
}
