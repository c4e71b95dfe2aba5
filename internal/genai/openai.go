package genai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// imageService defines the minimal interface for image generation.
type imageService interface {
	Generate(ctx context.Context, body openai.ImageGenerateParams, opts ...option.RequestOption) (*openai.ImagesResponse, error)
}

// OpenAIOpts holds configuration options for the OpenAI provider.
type OpenAIOpts struct {
	APIKey string
	Model  string
}

// OpenAIOption defines a configuration option for the OpenAI provider.
type OpenAIOption func(*OpenAIOpts)

// WithOpenAIKey sets the API key.
func WithOpenAIKey(key string) OpenAIOption {
	return func(o *OpenAIOpts) { o.APIKey = key }
}

// WithOpenAIModel overrides the image model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(o *OpenAIOpts) { o.Model = model }
}

// OpenAIProvider generates images through the OpenAI Images API.
// The Images API has no negative prompt, so exclusions are appended to the prompt.
type OpenAIProvider struct {
	images imageService
	model  openai.ImageModel
}

// NewOpenAIProvider creates a provider; without a key it stays unconfigured.
func NewOpenAIProvider(opts ...OpenAIOption) *OpenAIProvider {
	var cfg OpenAIOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	model := openai.ImageModelDallE3
	if cfg.Model != "" {
		model = openai.ImageModel(cfg.Model)
	}
	p := &OpenAIProvider{model: model}
	if cfg.APIKey != "" {
		cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
		p.images = &cli.Images
	}
	slog.Debug("OpenAIProvider created", "api_key_set", cfg.APIKey != "", "model", model)
	return p
}

// Name implements ImageProvider.
func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

// Configured implements ImageProvider.
func (p *OpenAIProvider) Configured() bool { return p.images != nil }

// GenerateImage requests a single 1024x1024 image and returns its URL.
func (p *OpenAIProvider) GenerateImage(ctx context.Context, prompt, negativePrompt string) ([]string, error) {
	if !p.Configured() {
		return nil, ErrNotConfigured
	}
	params := openai.ImageGenerateParams{
		Prompt:         combinePrompt(prompt, negativePrompt),
		Model:          p.model,
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize1024x1024,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	}
	resp, err := p.images.Generate(ctx, params)
	if err != nil {
		slog.Error("OpenAIProvider.GenerateImage: request failed", "error", err, "model", p.model)
		return nil, err
	}
	if resp == nil {
		return nil, ErrNoOutput
	}
	var urls []string
	for _, img := range resp.Data {
		if img.URL != "" {
			urls = append(urls, img.URL)
		}
	}
	if len(urls) == 0 {
		return nil, ErrNoOutput
	}
	slog.Info("OpenAIProvider.GenerateImage: image generated", "model", p.model, "outputs", len(urls))
	return urls, nil
}

func combinePrompt(prompt, negativePrompt string) string {
	negativePrompt = strings.TrimSpace(negativePrompt)
	if negativePrompt == "" {
		return prompt
	}
	return prompt + ". Avoid: " + negativePrompt
}
