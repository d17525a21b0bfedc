package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/logger"
)

// contentGenerator is the slice of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini extracts line items by sending the statement to a Gemini model.
type Gemini struct {
	models contentGenerator
	model  string
	prompt string
}

// NewGemini creates a Gemini extractor. An empty apiKey lets the SDK read
// GOOGLE_API_KEY / GEMINI_API_KEY or Vertex settings from the environment.
func NewGemini(ctx context.Context, apiKey, model string, set domain.CategorySet) (*Gemini, error) {
	cfg := &genai.ClientConfig{}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGemini: create genai client: %w", err)
	}
	return newGemini(client.Models, model, set), nil
}

func newGemini(models contentGenerator, model string, set domain.CategorySet) *Gemini {
	if model == "" {
		model = DefaultModelName
	}
	return &Gemini{models: models, model: model, prompt: buildPrompt(set)}
}

// Extract reads the file at path and asks the model for its transactions.
func (g *Gemini) Extract(ctx context.Context, path string) ([]domain.LineItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Extract: read %q: %w", path, err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: g.prompt},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeTypeFor(path),
						Data:     data,
					},
				},
			},
		},
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("Extract: generate content: %w", err)
	}

	rawText := resp.Text()
	if strings.TrimSpace(rawText) == "" {
		return nil, fmt.Errorf("Extract: %w: empty response from model", domain.ErrContent)
	}

	items, err := parseResponse(ctx, rawText)
	if err != nil {
		return nil, fmt.Errorf("Extract: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("model", g.model).
		Int("items", len(items)).
		Msg("Extracted line items")
	return items, nil
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/pdf"
	}
}
