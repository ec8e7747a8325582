package extraction

import (
	"context"

	appcfg "github.com/mx-space/distill/internal/config"
	"github.com/mx-space/distill/internal/modules/processing/ai"
	"github.com/mx-space/distill/internal/pkg/apperr"
	"go.uber.org/zap"
)

// Engine holds the orchestrators for one run. Repair may share the extract
// provider.
type Engine struct {
	Extract *ai.Orchestrator
	Repair  *ai.Orchestrator
}

// ModelID is the model identity that participates in cache keys.
func (e *Engine) ModelID() string {
	return e.Extract.Identity().String()
}

// EngineSource builds the engine for the current settings.
type EngineSource func(ctx context.Context) (*Engine, error)

// AIConfigSource returns the current AI settings.
type AIConfigSource func(ctx context.Context) (appcfg.AIConfig, error)

// NewEngineSource resolves providers from settings on every call, so model
// assignments changed at runtime apply to the next run.
func NewEngineSource(settings AIConfigSource, cfg appcfg.ExtractionConfig, logger *zap.Logger, opts ...ai.ProviderOption) EngineSource {
	return func(ctx context.Context) (*Engine, error) {
		aiCfg, err := settings(ctx)
		if err != nil {
			return nil, apperr.Internal(err)
		}

		extractProvider := aiCfg.SelectProvider(aiCfg.ExtractionModel)
		if extractProvider == nil {
			return nil, apperr.New(apperr.KindAIAuth, "no AI provider is configured")
		}
		extract, err := buildOrchestrator(extractProvider, cfg, logger, opts)
		if err != nil {
			return nil, err
		}

		repair := extract
		if aiCfg.RepairModel != nil {
			if p := aiCfg.SelectProvider(aiCfg.RepairModel); p != nil && (p.ID != extractProvider.ID || p.DefaultModel != extractProvider.DefaultModel) {
				if repair, err = buildOrchestrator(p, cfg, logger, opts); err != nil {
					return nil, err
				}
			}
		}
		return &Engine{Extract: extract, Repair: repair}, nil
	}
}

func buildOrchestrator(p *appcfg.AIProvider, cfg appcfg.ExtractionConfig, logger *zap.Logger, opts []ai.ProviderOption) (*ai.Orchestrator, error) {
	provider, err := ai.NewProvider(p, opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAIAuth, "AI provider is misconfigured", err)
	}
	return ai.NewOrchestrator(provider, cfg, ai.WithLogger(logger)), nil
}
