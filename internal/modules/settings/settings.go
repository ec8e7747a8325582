package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	appcfg "github.com/mx-space/distill/internal/config"
	"github.com/mx-space/distill/internal/middleware"
	"github.com/mx-space/distill/internal/models"
	"github.com/mx-space/distill/internal/pkg/apperr"
	"github.com/mx-space/distill/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const aiKey = "ai"

// Service manages the persisted AI settings. The first load seeds the
// options row from the startup config.
type Service struct {
	db     *gorm.DB
	seed   appcfg.AIConfig
	logger *zap.Logger

	mu  sync.RWMutex
	cfg *appcfg.AIConfig
}

func NewService(db *gorm.DB, seed appcfg.AIConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, seed: seed, logger: logger.Named("settings")}
}

// AI returns the current AI settings, loading them from the database if not
// cached. Pricing always comes from the startup config.
func (s *Service) AI(ctx context.Context) (appcfg.AIConfig, error) {
	s.mu.RLock()
	if s.cfg != nil {
		defer s.mu.RUnlock()
		return *s.cfg, nil
	}
	s.mu.RUnlock()

	return s.load(ctx)
}

func (s *Service) load(ctx context.Context) (appcfg.AIConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil {
		return *s.cfg, nil
	}

	var opt models.OptionModel
	err := s.db.WithContext(ctx).Where("name = ?", aiKey).First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		seeded := s.seed
		if err := s.persist(ctx, &seeded); err != nil {
			s.logger.Warn("seed ai settings failed", zap.Error(err))
		}
		s.cfg = &seeded
		return seeded, nil
	}
	if err != nil {
		return appcfg.AIConfig{}, err
	}

	var cfg appcfg.AIConfig
	if err := json.Unmarshal([]byte(opt.Value), &cfg); err != nil {
		return appcfg.AIConfig{}, err
	}
	cfg.Providers = appcfg.NormalizeProviders(cfg.Providers)
	cfg.Pricing = s.seed.Pricing
	s.cfg = &cfg
	return cfg, nil
}

// Patch merges a partial JSON update into the AI settings and persists it.
// Arrays such as providers are replaced as a whole; a provider whose api_key
// is still the masked value keeps its stored key.
func (s *Service) Patch(ctx context.Context, partial map[string]json.RawMessage) (appcfg.AIConfig, error) {
	current, err := s.AI(ctx)
	if err != nil {
		return appcfg.AIConfig{}, err
	}

	currentJSON, err := json.Marshal(current)
	if err != nil {
		return appcfg.AIConfig{}, err
	}
	merged := map[string]interface{}{}
	if err := json.Unmarshal(currentJSON, &merged); err != nil {
		return appcfg.AIConfig{}, err
	}
	for k, v := range partial {
		if len(strings.TrimSpace(string(v))) == 0 {
			continue
		}
		var incoming interface{}
		if err := json.Unmarshal(v, &incoming); err != nil {
			return appcfg.AIConfig{}, apperr.Validation("%s: %v", k, err)
		}
		if existing, ok := merged[k]; ok {
			merged[k] = deepMergeJSON(existing, incoming)
			continue
		}
		merged[k] = incoming
	}

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return appcfg.AIConfig{}, err
	}
	var updated appcfg.AIConfig
	if err := json.Unmarshal(mergedJSON, &updated); err != nil {
		return appcfg.AIConfig{}, apperr.Validation("invalid settings: %v", err)
	}
	updated.Providers = appcfg.NormalizeProviders(updated.Providers)
	updated.Pricing = s.seed.Pricing
	restoreMaskedKeys(updated.Providers, current.Providers)
	if err := validate(updated); err != nil {
		return appcfg.AIConfig{}, err
	}

	if err := s.persist(ctx, &updated); err != nil {
		return appcfg.AIConfig{}, err
	}
	s.mu.Lock()
	s.cfg = &updated
	s.mu.Unlock()
	return updated, nil
}

func validate(cfg appcfg.AIConfig) error {
	seen := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if p.ID == "" {
			return apperr.Validation("providers[%d].id is required", i)
		}
		if seen[p.ID] {
			return apperr.Validation("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		if !appcfg.IsKnownProviderType(p.Type) {
			return apperr.Validation("providers[%d].type %q is not supported", i, p.Type)
		}
	}
	for name, a := range map[string]*appcfg.AIModelAssignment{"extraction_model": cfg.ExtractionModel, "repair_model": cfg.RepairModel} {
		if a != nil && a.ProviderID != "" && !seen[a.ProviderID] {
			return apperr.Validation("%s references unknown provider %q", name, a.ProviderID)
		}
	}
	return nil
}

func deepMergeJSON(oldVal, newVal interface{}) interface{} {
	oldMap, oldIsMap := oldVal.(map[string]interface{})
	newMap, newIsMap := newVal.(map[string]interface{})
	if oldIsMap && newIsMap {
		out := make(map[string]interface{}, len(oldMap))
		for k, v := range oldMap {
			out[k] = v
		}
		for k, v := range newMap {
			if existing, ok := out[k]; ok {
				out[k] = deepMergeJSON(existing, v)
				continue
			}
			out[k] = v
		}
		return out
	}
	return newVal
}

func (s *Service) persist(ctx context.Context, cfg *appcfg.AIConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	opt := models.OptionModel{Name: aiKey, Value: string(data)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&opt).Error
}

// Invalidate clears the in-memory cache, forcing a reload on next read.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = nil
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "****" + key[len(key)-4:]
}

func restoreMaskedKeys(next, prev []appcfg.AIProvider) {
	byID := make(map[string]string, len(prev))
	for _, p := range prev {
		byID[p.ID] = p.APIKey
	}
	for i := range next {
		if old, ok := byID[next[i].ID]; ok && strings.Contains(next[i].APIKey, "****") && next[i].APIKey == maskKey(old) {
			next[i].APIKey = old
		}
	}
}

// Masked returns a copy of cfg with API keys redacted.
func Masked(cfg appcfg.AIConfig) appcfg.AIConfig {
	out := cfg
	out.Providers = make([]appcfg.AIProvider, len(cfg.Providers))
	for i, p := range cfg.Providers {
		p.APIKey = maskKey(p.APIKey)
		out.Providers[i] = p
	}
	return out
}

type Handler struct {
	svc    *Service
	admins map[string]bool
}

func NewHandler(svc *Service, admins []string) *Handler {
	set := make(map[string]bool, len(admins))
	for _, id := range admins {
		set[id] = true
	}
	return &Handler{svc: svc, admins: set}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/settings", authMW, h.requireAdmin)
	g.GET("/ai", h.get)
	g.PATCH("/ai", h.patch)
}

func (h *Handler) requireAdmin(c *gin.Context) {
	if !h.admins[middleware.CurrentUserID(c)] {
		response.Forbidden(c)
		return
	}
	c.Next()
}

// get GET /settings/ai
func (h *Handler) get(c *gin.Context) {
	cfg, err := h.svc.AI(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, Masked(cfg))
}

// patch PATCH /settings/ai
func (h *Handler) patch(c *gin.Context) {
	var partial map[string]json.RawMessage
	if err := c.ShouldBindJSON(&partial); err != nil {
		response.BadRequest(c, "request body must be a JSON object")
		return
	}
	updated, err := h.svc.Patch(c.Request.Context(), partial)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, Masked(updated))
}
