package genai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/replicate/replicate-go"
)

// Replicate defaults
const (
	// SDXLModelVersion is the pinned model version used for every prediction
	SDXLModelVersion = "39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b"
	// DefaultPollInterval is how often a running prediction is polled
	DefaultPollInterval = time.Second
	// cancelTimeout bounds the best-effort cancel call after the caller gave up
	cancelTimeout = 5 * time.Second
)

// ReplicateOpts holds configuration options for the Replicate provider.
type ReplicateOpts struct {
	APIToken     string
	BaseURL      string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// ReplicateOption defines a configuration option for the Replicate provider.
type ReplicateOption func(*ReplicateOpts)

// WithReplicateToken sets the API token.
func WithReplicateToken(token string) ReplicateOption {
	return func(o *ReplicateOpts) { o.APIToken = token }
}

// WithReplicateBaseURL overrides the API root (used by tests).
func WithReplicateBaseURL(u string) ReplicateOption {
	return func(o *ReplicateOpts) { o.BaseURL = u }
}

// WithPollInterval sets how often a running prediction is polled.
func WithPollInterval(d time.Duration) ReplicateOption {
	return func(o *ReplicateOpts) { o.PollInterval = d }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) ReplicateOption {
	return func(o *ReplicateOpts) { o.HTTPClient = c }
}

// ReplicateProvider runs SDXL predictions on Replicate and waits for them to finish.
type ReplicateProvider struct {
	client       *replicate.Client
	pollInterval time.Duration
}

// NewReplicateProvider creates a provider. A missing token is not an error here;
// it is reported per request through Configured.
func NewReplicateProvider(opts ...ReplicateOption) *ReplicateProvider {
	var cfg ReplicateOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	p := &ReplicateProvider{pollInterval: cfg.PollInterval}
	if cfg.APIToken != "" {
		clientOpts := []replicate.ClientOption{replicate.WithToken(cfg.APIToken)}
		if cfg.BaseURL != "" {
			clientOpts = append(clientOpts, replicate.WithBaseURL(cfg.BaseURL))
		}
		if cfg.HTTPClient != nil {
			clientOpts = append(clientOpts, replicate.WithHTTPClient(cfg.HTTPClient))
		}
		client, err := replicate.NewClient(clientOpts...)
		if err != nil {
			slog.Error("ReplicateProvider: failed to create client", "error", err)
		} else {
			p.client = client
		}
	}
	slog.Debug("ReplicateProvider created", "configured", p.client != nil, "base_url_override", cfg.BaseURL != "", "poll_interval", cfg.PollInterval)
	return p
}

// Name implements ImageProvider.
func (p *ReplicateProvider) Name() string { return ProviderReplicate }

// Configured implements ImageProvider.
func (p *ReplicateProvider) Configured() bool { return p.client != nil }

// sdxlInput is the fixed SDXL input map for one prompt pair.
func sdxlInput(prompt, negativePrompt string) replicate.PredictionInput {
	return replicate.PredictionInput{
		"prompt":              prompt,
		"negative_prompt":     negativePrompt,
		"num_inference_steps": InferenceSteps,
		"guidance_scale":      GuidanceScale,
		"width":               ImageWidth,
		"height":              ImageHeight,
		"refine":              RefineMode,
		"scheduler":           Scheduler,
	}
}

// GenerateImage creates a prediction and waits until it reaches a terminal status.
// When ctx ends first the prediction is canceled upstream on a best-effort basis.
func (p *ReplicateProvider) GenerateImage(ctx context.Context, prompt, negativePrompt string) ([]string, error) {
	if !p.Configured() {
		return nil, ErrNotConfigured
	}

	pred, err := p.client.CreatePrediction(ctx, SDXLModelVersion, sdxlInput(prompt, negativePrompt), nil, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction: %w", err)
	}
	slog.Debug("ReplicateProvider.GenerateImage: prediction created", "id", pred.ID, "status", pred.Status)

	if err := p.client.Wait(ctx, pred, replicate.WithPollingInterval(p.pollInterval)); err != nil {
		if ctx.Err() != nil {
			slog.Warn("ReplicateProvider.GenerateImage: giving up on prediction", "id", pred.ID, "status", pred.Status, "error", ctx.Err())
			p.cancelPrediction(pred.ID)
			return nil, ctx.Err()
		}
		if !pred.Status.Terminated() {
			return nil, fmt.Errorf("failed waiting for prediction %s: %w", pred.ID, err)
		}
	}
	if !pred.Status.Terminated() {
		if pred, err = p.client.GetPrediction(ctx, pred.ID); err != nil {
			return nil, fmt.Errorf("failed to read prediction: %w", err)
		}
	}

	switch pred.Status {
	case replicate.Failed:
		return nil, fmt.Errorf("%w: %v", ErrPredictionFailed, pred.Error)
	case replicate.Canceled:
		return nil, ErrPredictionCanceled
	}

	urls := outputURLs(pred.Output)
	if len(urls) == 0 || urls[0] == "" {
		slog.Warn("ReplicateProvider.GenerateImage: prediction succeeded without output", "id", pred.ID)
		return nil, ErrNoOutput
	}
	slog.Info("ReplicateProvider.GenerateImage: prediction succeeded", "id", pred.ID, "outputs", len(urls))
	return urls, nil
}

func (p *ReplicateProvider) cancelPrediction(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if _, err := p.client.CancelPrediction(ctx, id); err != nil {
		slog.Warn("ReplicateProvider.cancelPrediction: cancel failed", "id", id, "error", err)
		return
	}
	slog.Debug("ReplicateProvider.cancelPrediction: prediction canceled", "id", id)
}

// outputURLs reads a prediction output, which is a list of URLs for SDXL but a
// single string for some models.
func outputURLs(output replicate.PredictionOutput) []string {
	switch v := output.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []interface{}:
		urls := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				urls = append(urls, s)
			}
		}
		return urls
	default:
		return nil
	}
}
