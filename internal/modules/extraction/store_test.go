package extraction

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	appcfg "github.com/mx-space/distill/internal/config"
	"github.com/mx-space/distill/internal/database"
	"github.com/mx-space/distill/internal/models"
	"github.com/mx-space/distill/internal/modules/processing/parser"
	"github.com/mx-space/distill/internal/pkg/pagination"
	"gorm.io/gorm/logger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(appcfg.DriverSQLite, filepath.Join(t.TempDir(), "store.db"), logger.Silent)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db)
}

func cacheEntry(contentID, mode, version, objective string, transcript *string) *models.ExtractionCacheModel {
	return &models.ExtractionCacheModel{
		ContentID:     contentID,
		Mode:          mode,
		Language:      "en",
		PromptVersion: version,
		ModelID:       "fake/fake-1",
		Transcript:    transcript,
		Result:        parser.Result{Objective: objective},
	}
}

func TestUpsertReplacesAndKeepsTranscript(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	transcript := "the transcript"

	if err := store.Upsert(ctx, cacheEntry("yt:1", "action_plan", "v3", "first", &transcript)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Upsert(ctx, cacheEntry("yt:1", "action_plan", "v3", "second", nil)); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	key := CacheKey{ContentID: "yt:1", Mode: "action_plan", Language: "en", PromptVersion: "v3", ModelID: "fake/fake-1"}
	got, err := store.Lookup(ctx, key)
	if err != nil || got == nil {
		t.Fatalf("lookup: %v %v", got, err)
	}
	if got.Result.Objective != "second" {
		t.Fatalf("objective = %q", got.Result.Objective)
	}
	if got.Transcript == nil || *got.Transcript != transcript {
		t.Fatal("transcript was dropped by an upsert without one")
	}

	key.ModelID = "other/model"
	if miss, err := store.Lookup(ctx, key); err != nil || miss != nil {
		t.Fatalf("different model should miss: %v %v", miss, err)
	}
	if text, _ := store.LatestTranscript(ctx, "yt:1"); text != transcript {
		t.Fatalf("latest transcript = %q", text)
	}
	if text, _ := store.LatestTranscript(ctx, "yt:2"); text != "" {
		t.Fatalf("unknown content transcript = %q", text)
	}
}

func TestLatestResultPrefersMode(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_ = store.Upsert(ctx, cacheEntry("yt:1", "guide", "v2", "old guide", nil))
	if got, _ := store.LatestResult(ctx, "yt:1", "action_plan"); got == nil || got.Objective != "old guide" {
		t.Fatalf("fallback to any mode = %+v", got)
	}
	_ = store.Upsert(ctx, cacheEntry("yt:1", "action_plan", "v1", "old plan", nil))
	if got, _ := store.LatestResult(ctx, "yt:1", "action_plan"); got == nil || got.Objective != "old plan" {
		t.Fatalf("same mode = %+v", got)
	}
	if got, err := store.LatestResult(ctx, "yt:9", "action_plan"); err != nil || got != nil {
		t.Fatalf("unknown content = %+v %v", got, err)
	}
}

func TestPurgeStaleKeepsActiveEntries(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_ = store.Upsert(ctx, cacheEntry("yt:1", "action_plan", "v3", "active", nil))
	_ = store.Upsert(ctx, cacheEntry("yt:1", "action_plan", "v2", "stale", nil))

	if n, err := store.PurgeStale(ctx, time.Now().Add(-time.Hour), "v3", "fake/fake-1"); err != nil || n != 0 {
		t.Fatalf("recent entries purged: n=%d err=%v", n, err)
	}
	n, err := store.PurgeStale(ctx, time.Now().Add(time.Hour), "v3", "fake/fake-1")
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
	key := CacheKey{ContentID: "yt:1", Mode: "action_plan", Language: "en", PromptVersion: "v3", ModelID: "fake/fake-1"}
	if got, _ := store.Lookup(ctx, key); got == nil {
		t.Fatal("active entry was purged")
	}
}

func TestRecordsAreNumberedPerUser(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	create := func(user, mode string) *models.ExtractionModel {
		rec := &models.ExtractionModel{UserID: user, Mode: mode, Objective: mode}
		if err := store.CreateRecord(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
		return rec
	}
	a1 := create("alice", "action_plan")
	a2 := create("alice", "guide")
	b1 := create("bob", "action_plan")
	if a1.OrderNumber != 1 || a2.OrderNumber != 2 || b1.OrderNumber != 1 {
		t.Fatalf("order numbers = %d %d %d", a1.OrderNumber, a2.OrderNumber, b1.OrderNumber)
	}

	records, pag, err := store.ListRecords(ctx, "alice", "", pagination.Normalize(1, 10))
	if err != nil || pag.Total != 2 || records[0].OrderNumber != 2 {
		t.Fatalf("list: %+v %+v %v", records, pag, err)
	}
	records, _, _ = store.ListRecords(ctx, "alice", "guide", pagination.Normalize(1, 10))
	if len(records) != 1 || records[0].ID != a2.ID {
		t.Fatalf("mode filter = %+v", records)
	}

	if got, _ := store.GetRecord(ctx, "bob", a1.ID); got != nil {
		t.Fatal("record visible to another user")
	}
	if found, _ := store.DeleteRecord(ctx, "bob", a1.ID); found {
		t.Fatal("another user deleted the record")
	}
	if found, _ := store.DeleteRecord(ctx, "alice", a2.ID); !found {
		t.Fatal("owner delete reported missing")
	}
	if a3 := create("alice", "action_plan"); a3.OrderNumber != 3 {
		t.Fatalf("order number reused after delete: %d", a3.OrderNumber)
	}
}

func TestUsageSince(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rows := []models.AIUsageModel{
		{UserID: "alice", Operation: "extract", InputTokens: 100, OutputTokens: 40, CostUSD: 0.01},
		{UserID: "alice", Operation: "repair", InputTokens: 20, OutputTokens: 10, CostUSD: 0.002},
		{UserID: "bob", Operation: "extract", InputTokens: 999, OutputTokens: 999},
	}
	if err := store.RecordUsage(ctx, rows); err != nil {
		t.Fatalf("record: %v", err)
	}
	sum, err := store.UsageSince(ctx, "alice", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if sum.Calls != 2 || sum.InputTokens != 120 || sum.OutputTokens != 50 {
		t.Fatalf("sum = %+v", sum)
	}
	if sum, _ := store.UsageSince(ctx, "alice", time.Now().Add(time.Hour)); sum.Calls != 0 {
		t.Fatalf("future window = %+v", sum)
	}
}
