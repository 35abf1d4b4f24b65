package analysis

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/bobby854854854/LexiSense/config"
)

// VertexCompleter calls Gemini models through Vertex AI using application
// default credentials.
type VertexCompleter struct {
	client    *genai.Client
	modelName string
}

func NewVertexCompleter(ctx context.Context, cfg *config.AIConfig) (*VertexCompleter, error) {
	if cfg.Project == "" || cfg.Location == "" {
		return nil, fmt.Errorf("NewVertexCompleter: project and location cannot be empty")
	}

	client, err := genai.NewClient(ctx, cfg.Project, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	return &VertexCompleter{client: client, modelName: cfg.Model}, nil
}

func (v *VertexCompleter) Complete(ctx context.Context, system, document string) (string, error) {
	model := v.client.GenerativeModel(v.modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	resp, err := model.GenerateContent(ctx, genai.Text(document))
	if err != nil {
		return "", fmt.Errorf("vertex request failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}

func (v *VertexCompleter) Close() error {
	return v.client.Close()
}
