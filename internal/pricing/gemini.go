package pricing

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// Generator produces raw model text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var ErrNotConfigured = errors.New("gemini API key not configured")

// GeminiGenerator calls the Gemini generateContent endpoint.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator builds a generator for model. An empty apiKey yields a
// generator whose every call fails with ErrNotConfigured, so the service
// still starts and answers from the fallback tiers.
func NewGeminiGenerator(ctx context.Context, apiKey, model, baseURL string) (*GeminiGenerator, error) {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	if apiKey == "" {
		return &GeminiGenerator{model: model}, nil
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Model() string {
	return g.model
}

// Configured reports whether an API key was supplied.
func (g *GeminiGenerator) Configured() bool {
	return g.client != nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.client == nil {
		return "", ErrNotConfigured
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned no text")
	}
	return text, nil
}
