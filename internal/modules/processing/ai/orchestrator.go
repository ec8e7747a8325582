package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	appcfg "github.com/mx-space/distill/internal/config"
	"github.com/mx-space/distill/internal/pkg/retry"
	"go.uber.org/zap"
)

// Budget selects the attempt ceiling for a call.
type Budget int

const (
	// BudgetPrimary is used for the main extraction call.
	BudgetPrimary Budget = iota
	// BudgetRepair is used for each repair call of the parse cascade.
	BudgetRepair
)

func (b Budget) String() string {
	if b == BudgetRepair {
		return "repair"
	}
	return "primary"
}

var errAttemptTimeout = fmt.Errorf("ai: attempt timed out: %w", context.DeadlineExceeded)

// Orchestrator runs provider calls under a retry policy with per-attempt
// timeouts.
type Orchestrator struct {
	provider Provider
	primary  retry.Policy
	repair   retry.Policy
	timeout  time.Duration
	logger   *zap.Logger
}

type OrchestratorOption func(*Orchestrator)

func WithLogger(logger *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func NewOrchestrator(provider Provider, cfg appcfg.ExtractionConfig, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		primary:  retry.Exponential(cfg.PrimaryAttempts, cfg.BackoffBase, cfg.BackoffMax, Retryable),
		repair:   retry.Exponential(cfg.RepairAttempts, cfg.BackoffBase, cfg.BackoffMax, Retryable),
		timeout:  cfg.RequestTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("ai")
	return o
}

// Identity reports the provider/model pair behind this orchestrator.
func (o *Orchestrator) Identity() ModelIdentity {
	return o.provider.Identity()
}

// Invoke performs a non-streaming call.
func (o *Orchestrator) Invoke(ctx context.Context, req Request, budget Budget) (*Completion, error) {
	var out *Completion
	err := o.policy(budget).Do(ctx, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := o.attemptContext(ctx)
		defer cancel()

		completion, err := o.provider.Generate(attemptCtx, req)
		if err != nil {
			return attemptError(ctx, attemptCtx, err)
		}
		out = completion
		return nil
	})
	if err != nil {
		return nil, o.finish(ctx, err)
	}
	return out, nil
}

// InvokeStream performs a streaming call, forwarding deltas to onChunk. Once
// any delta has been forwarded a failure is final, since the consumer has
// already seen partial text.
func (o *Orchestrator) InvokeStream(ctx context.Context, req Request, budget Budget, onChunk func(string)) (*Completion, error) {
	var out *Completion
	err := o.policy(budget).Do(ctx, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := o.attemptContext(ctx)
		defer cancel()

		forwarded := false
		completion, err := o.provider.Stream(attemptCtx, req, func(chunk string) {
			if ctx.Err() != nil || chunk == "" {
				return
			}
			forwarded = true
			if onChunk != nil {
				onChunk(chunk)
			}
		})
		if err != nil {
			err = attemptError(ctx, attemptCtx, err)
			if forwarded {
				return retry.Permanent(err)
			}
			return err
		}
		out = completion
		return nil
	})
	if err != nil {
		return nil, o.finish(ctx, err)
	}
	return out, nil
}

func (o *Orchestrator) policy(budget Budget) retry.Policy {
	p := o.primary
	if budget == BudgetRepair {
		p = o.repair
	}
	identity := o.provider.Identity()
	return p.WithOnRetry(func(attempt int, delay time.Duration, err error) {
		o.logger.Warn("provider call failed, retrying",
			zap.String("budget", budget.String()),
			zap.String("model", identity.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	})
}

func (o *Orchestrator) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// attemptError marks failures caused by the per-attempt deadline as timeouts
// so they stay retryable while the caller is still waiting.
func attemptError(parent, attempt context.Context, err error) error {
	if parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w (%v)", errAttemptTimeout, err)
	}
	return err
}

func (o *Orchestrator) finish(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	appErr := ToAppError(err)
	o.logger.Error("provider call failed",
		zap.String("model", o.provider.Identity().String()),
		zap.String("kind", string(appErr.Kind)),
		zap.Error(err),
	)
	return appErr
}
