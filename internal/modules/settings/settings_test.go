package settings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	appcfg "github.com/mx-space/distill/internal/config"
	"github.com/mx-space/distill/internal/middleware"
	"github.com/mx-space/distill/internal/models"
	"github.com/mx-space/distill/internal/pkg/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "settings.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.AutoMigrate(&models.OptionModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seed() appcfg.AIConfig {
	return appcfg.AIConfig{
		Providers: []appcfg.AIProvider{
			{ID: "main", Type: appcfg.ProviderOpenAI, APIKey: "sk-abcdef123456", DefaultModel: "gpt-4o-mini", Enabled: true},
		},
		Pricing: []appcfg.ModelPrice{{Match: "gpt-4o", InputPerMillion: 2.5, OutputPerMillion: 10}},
	}
}

func TestAISeedsOnFirstLoad(t *testing.T) {
	db := openDB(t)
	svc := NewService(db, seed(), nil)

	cfg, err := svc.AI(context.Background())
	if err != nil {
		t.Fatalf("AI: %v", err)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].ID != "main" {
		t.Fatalf("providers = %+v", cfg.Providers)
	}

	var opt models.OptionModel
	if err := db.Where("name = ?", aiKey).First(&opt).Error; err != nil {
		t.Fatalf("seed row missing: %v", err)
	}
	if strings.Contains(opt.Value, "input_per_million") {
		t.Fatalf("pricing should not be persisted: %s", opt.Value)
	}

	fresh := NewService(db, appcfg.AIConfig{Pricing: seed().Pricing}, nil)
	reloaded, err := fresh.AI(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Providers) != 1 || reloaded.Providers[0].APIKey != "sk-abcdef123456" {
		t.Fatalf("reloaded providers = %+v", reloaded.Providers)
	}
	if len(reloaded.Pricing) != 1 {
		t.Fatalf("pricing = %+v", reloaded.Pricing)
	}
}

func TestPatchMergesAndKeepsMaskedKeys(t *testing.T) {
	svc := NewService(openDB(t), seed(), nil)
	ctx := context.Background()

	masked := Masked(seed()).Providers[0].APIKey
	if masked != "sk-****3456" {
		t.Fatalf("mask = %q", masked)
	}

	providers := `[{"id":"main","type":"OpenAI","api_key":"` + masked + `","default_model":"gpt-4o","enabled":true},
		{"id":"claude","type":"Anthropic","api_key":"ak-1","default_model":"claude-sonnet","enabled":true}]`
	updated, err := svc.Patch(ctx, map[string]json.RawMessage{
		"providers":    json.RawMessage(providers),
		"repair_model": json.RawMessage(`{"providerId":"claude"}`),
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if updated.Providers[0].APIKey != "sk-abcdef123456" {
		t.Fatalf("masked key not restored: %q", updated.Providers[0].APIKey)
	}
	if updated.Providers[1].Type != appcfg.ProviderAnthropic {
		t.Fatalf("type = %q", updated.Providers[1].Type)
	}
	if updated.RepairModel == nil || updated.RepairModel.ProviderID != "claude" {
		t.Fatalf("repair model = %+v", updated.RepairModel)
	}
	if p := updated.SelectProvider(updated.RepairModel); p == nil || p.ID != "claude" {
		t.Fatalf("select repair provider = %+v", p)
	}
}

func TestPatchRejectsInvalidSettings(t *testing.T) {
	svc := NewService(openDB(t), seed(), nil)
	cases := map[string]map[string]json.RawMessage{
		"unknown type":     {"providers": json.RawMessage(`[{"id":"x","type":"gemini"}]`)},
		"duplicate id":     {"providers": json.RawMessage(`[{"id":"x","type":"openai"},{"id":"x","type":"openai"}]`)},
		"dangling assign":  {"extraction_model": json.RawMessage(`{"provider_id":"nope"}`)},
		"malformed values": {"providers": json.RawMessage(`{"id":`)},
	}
	for name, partial := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Patch(context.Background(), partial)
			if !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
	cfg, _ := svc.AI(context.Background())
	if len(cfg.Providers) != 1 {
		t.Fatalf("rejected patch changed settings: %+v", cfg.Providers)
	}
}

func TestHandlerRequiresAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(openDB(t), seed(), nil)
	r := gin.New()
	fakeAuth := func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, c.GetHeader("X-User"))
		c.Next()
	}
	NewHandler(svc, []string{"root"}).RegisterRoutes(r.Group(""), fakeAuth)

	for user, want := range map[string]int{"root": http.StatusOK, "guest": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/settings/ai", nil)
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("%s: status %d, want %d", user, rec.Code, want)
		}
		if want == http.StatusOK && strings.Contains(rec.Body.String(), "abcdef") {
			t.Fatalf("api key leaked: %s", rec.Body.String())
		}
	}
}
