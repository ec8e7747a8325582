package parser

import (
	"context"

	"github.com/mx-space/distill/internal/modules/processing/ai"
	"github.com/mx-space/distill/internal/modules/processing/prompt"
	"github.com/mx-space/distill/internal/pkg/apperr"
	"go.uber.org/zap"
)

// Invoker performs one budgeted AI call. *ai.Orchestrator satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req ai.Request, budget ai.Budget) (*ai.Completion, error)
}

// Archiver stores model output that could not be repaired.
type Archiver interface {
	ArchiveInvalidOutput(ctx context.Context, raw string) (string, error)
}

// Usage operation labels, one per AI call kind.
const (
	OperationExtract       = "extract"
	OperationRepairFull    = "repair_full"
	OperationRepairCompact = "repair_compact"
)

type repairStep struct {
	strategy  prompt.RepairStrategy
	operation string
	finish    func(*Result)
}

// repairSteps run in order until one yields a parseable result.
var repairSteps = []repairStep{
	{strategy: prompt.RepairFull, operation: OperationRepairFull},
	{
		strategy:  prompt.RepairCompact,
		operation: OperationRepairCompact,
		finish: func(r *Result) {
			r.Cap(prompt.CompactMaxPhases, prompt.CompactMaxItems)
		},
	},
}

// Hooks observe a cascade run.
type Hooks struct {
	// OnRepair fires before each repair call.
	OnRepair func(strategy prompt.RepairStrategy)
	// OnUsage fires after each successful repair call.
	OnUsage func(operation string, completion *ai.Completion)
}

// Cascade parses model output, escalating through repair prompts on failure.
type Cascade struct {
	invoker   Invoker
	maxTokens int
	archiver  Archiver
	logger    *zap.Logger
}

type CascadeOption func(*Cascade)

func WithArchiver(archiver Archiver) CascadeOption {
	return func(c *Cascade) { c.archiver = archiver }
}

func WithLogger(logger *zap.Logger) CascadeOption {
	return func(c *Cascade) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCascade(invoker Invoker, maxTokens int, opts ...CascadeOption) *Cascade {
	c := &Cascade{invoker: invoker, maxTokens: maxTokens, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("parser")
	return c
}

// Run returns the parsed result of raw, issuing at most one AI call per
// repair step. When every step fails the error is invalid-model-output.
func (c *Cascade) Run(ctx context.Context, raw string, hooks Hooks) (*Result, error) {
	result, err := Parse(raw)
	if err == nil {
		return result, nil
	}
	c.logger.Warn("model output did not parse, starting repair", zap.Error(err), zap.Int("length", len(raw)))

	lastErr := err
	for _, step := range repairSteps {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if hooks.OnRepair != nil {
			hooks.OnRepair(step.strategy)
		}

		p := prompt.Repair(step.strategy, raw)
		completion, invokeErr := c.invoker.Invoke(ctx, ai.Request{
			System:    p.System,
			Prompt:    p.User,
			MaxTokens: c.maxTokens,
		}, ai.BudgetRepair)
		if invokeErr != nil {
			// Provider failures keep their own classification.
			return nil, invokeErr
		}
		if hooks.OnUsage != nil {
			hooks.OnUsage(step.operation, completion)
		}

		result, err = Parse(completion.Text)
		if err == nil {
			if step.finish != nil {
				step.finish(result)
			}
			return result, nil
		}
		lastErr = err
		c.logger.Warn("repair output did not parse", zap.String("strategy", string(step.strategy)), zap.Error(err))
	}

	c.archive(ctx, raw)
	return nil, apperr.Wrap(apperr.KindInvalidModelOutput, "the AI returned output that could not be read, please try again", lastErr)
}

func (c *Cascade) archive(ctx context.Context, raw string) {
	if c.archiver == nil {
		return
	}
	key, err := c.archiver.ArchiveInvalidOutput(context.WithoutCancel(ctx), raw)
	if err != nil {
		c.logger.Warn("archive invalid output failed", zap.Error(err))
		return
	}
	c.logger.Info("archived invalid output", zap.String("key", key))
}
