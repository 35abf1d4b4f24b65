package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bobby854854854/LexiSense/config"
	"github.com/bobby854854854/LexiSense/model"
	"github.com/bobby854854854/LexiSense/pkg/logger"
	"github.com/bobby854854854/LexiSense/service"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout     = 60 * time.Second
	failurePrefix      = "analysis failed: "
	categoryInternal   = "internal error"
	categoryProvider   = "provider error"
	categoryExtraction = "text extraction"
)

// Analyzer runs one completion per contract and records the outcome.
type Analyzer struct {
	completer     Completer
	contracts     service.ContractStore
	limiter       *rate.Limiter
	timeout       time.Duration
	maxInputChars int
}

func NewAnalyzer(completer Completer, contracts service.ContractStore, cfg *config.AIConfig) *Analyzer {
	a := &Analyzer{
		completer:     completer,
		contracts:     contracts,
		timeout:       cfg.Timeout,
		maxInputChars: cfg.MaxInputChars,
		limiter:       rate.NewLimiter(rate.Inf, 1),
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return a
}

// Analyze sends text to the completion backend and moves the contract to
// active or failed. Calling it for a contract that already left processing
// repeats the completion but leaves the record untouched.
func (a *Analyzer) Analyze(ctx context.Context, contractID, text string) (err error) {
	ctx = logger.WithContract(ctx, contractID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "analysis panicked", "panic", r)
			err = fmt.Errorf("panic: %v", r)
			a.Fail(ctx, contractID, categoryInternal)
		}
	}()

	logger.Info(ctx, "analysis started", "chars", utf8.RuneCountInString(text))

	result, err := a.run(ctx, text)
	if err != nil && ctx.Err() != nil {
		// shutting down; the sweeper picks the contract up again
		logger.Warn(ctx, "analysis interrupted", "error", err)
		return err
	}
	if err != nil {
		category := failureCategory(err)
		logger.Warn(ctx, "analysis failed", "category", category, "error", err,
			"duration_ms", time.Since(start).Milliseconds())
		a.Fail(ctx, contractID, category)
		return err
	}

	if err := a.contracts.MarkActive(context.WithoutCancel(ctx), contractID, result); err != nil {
		if errors.Is(err, service.ErrNotProcessing) || errors.Is(err, service.ErrNotFound) {
			logger.Info(ctx, "analysis result discarded, contract already settled", "error", err)
			return nil
		}
		logger.Error(ctx, "failed to record analysis result", "error", err)
		return err
	}

	logger.Info(ctx, "analysis completed", "risk_level", result.RiskLevel,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Fail records a failed analysis with the given category. A contract that
// is no longer processing is left as it is.
func (a *Analyzer) Fail(ctx context.Context, contractID, category string) {
	err := a.contracts.MarkFailed(context.WithoutCancel(ctx), contractID, failurePrefix+category)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrNotProcessing), errors.Is(err, service.ErrNotFound):
		logger.Info(ctx, "failure not recorded, contract already settled", "error", err)
	default:
		logger.Error(ctx, "failed to record analysis failure", "error", err)
	}
}

func (a *Analyzer) run(ctx context.Context, text string) (*model.AnalysisResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.limiter.Wait(callCtx); err != nil {
		return nil, fmt.Errorf("waiting for completion slot: %w", ErrCompletionTimeout)
	}

	raw, err := a.completer.Complete(callCtx, systemInstruction, truncate(text, a.maxInputChars))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%v: %w", err, ErrCompletionTimeout)
		}
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyCompletion
	}

	parsed, err := ParseCompletion(raw)
	if err != nil {
		return nil, err
	}

	schemaErr := CheckSchema(parsed)
	n := Normalize(parsed)
	if schemaErr != nil || n.Dropped > 0 {
		logger.Warn(ctx, "ValidationDegraded", "dropped", n.Dropped, "schema_error", errString(schemaErr))
	}
	return n.Result, nil
}

func failureCategory(err error) string {
	switch {
	case errors.Is(err, ErrCompletionTimeout):
		return ErrCompletionTimeout.Error()
	case errors.Is(err, ErrEmptyCompletion):
		return ErrEmptyCompletion.Error()
	case errors.Is(err, ErrMalformedCompletion):
		return ErrMalformedCompletion.Error()
	default:
		return categoryProvider
	}
}

// truncate cuts s to at most limit runes. limit <= 0 disables the cut.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
