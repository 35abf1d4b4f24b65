package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobby854854854/LexiSense/config"
)

// Completion failure categories
var (
	ErrEmptyCompletion     = errors.New("empty completion")
	ErrMalformedCompletion = errors.New("malformed completion")
	ErrCompletionTimeout   = errors.New("timeout")
)

// Completer sends one document to a language model and returns the raw
// completion text. Implementations must request JSON output at
// temperature 0.
type Completer interface {
	Complete(ctx context.Context, system, document string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, system, document string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, system, document string) (string, error) {
	return f(ctx, system, document)
}

// NewCompleter builds the completion backend selected by cfg.Provider.
func NewCompleter(ctx context.Context, cfg *config.AIConfig) (Completer, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiCompleter(ctx, cfg)
	case "vertex":
		return NewVertexCompleter(ctx, cfg)
	case "openai":
		return NewOpenAICompleter(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

const systemInstruction = `You are a contract analyst. Read the contract text supplied by the user and answer with a single JSON object of this shape:
{
  "summary": "one paragraph describing the purpose and scope of the contract",
  "title": "short title of the contract",
  "counterparty": "the main party the contract is signed with",
  "contractType": "e.g. NDA, Lease, Master Services Agreement",
  "value": "total monetary value as written in the contract",
  "effectiveDate": "YYYY-MM-DD",
  "expiryDate": "YYYY-MM-DD",
  "riskLevel": "low | medium | high",
  "parties": [{"name": "full legal name", "role": "e.g. Landlord, Service Provider"}],
  "keyDates": [{"date": "YYYY-MM-DD", "event": "e.g. Effective Date, Termination Date"}],
  "risks": [{"level": "High | Medium | Low", "description": "a specific risk found in the contract"}],
  "insights": [{"type": "opportunity | warning | info", "title": "short heading", "content": "one or two sentences"}]
}
Write every date as YYYY-MM-DD and leave out dates the contract does not state.
Use empty arrays when nothing applies.
Do not include any text outside the JSON object.`
