// Package gateway implements the generation gateway: it validates a prompt pair,
// forwards it to the configured image provider and maps every failure to a typed
// Error, plus the HTTP client used to reach the gateway endpoint.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/MeditationVisual/internal/genai"
	"github.com/BTreeMap/MeditationVisual/internal/models"
	"golang.org/x/time/rate"
)

// Defaults for the gateway
const (
	// DefaultTimeout bounds the wait for one provider job
	DefaultTimeout = 2 * time.Minute
	// DefaultRate is the number of provider calls allowed per second
	DefaultRate = 1.0
	// DefaultBurst is the limiter bucket size
	DefaultBurst = 3
)

// Generator produces an image URL for a generation request.
type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest) (string, error)
}

// Opts holds configuration options for the gateway service.
type Opts struct {
	Timeout time.Duration
	Rate    float64 // calls per second; <= 0 disables limiting
	Burst   int
}

// Option defines a configuration option for the gateway service.
type Option func(*Opts)

// WithTimeout bounds the wait for one provider job.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithRateLimit sets the provider call rate and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Opts) {
		o.Rate = perSecond
		o.Burst = burst
	}
}

// Service is the generation gateway.
type Service struct {
	provider genai.ImageProvider
	limiter  *rate.Limiter
	timeout  time.Duration
}

// NewService creates a gateway in front of provider.
func NewService(provider genai.ImageProvider, opts ...Option) *Service {
	cfg := Opts{Timeout: DefaultTimeout, Rate: DefaultRate, Burst: DefaultBurst}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Service{provider: provider, timeout: cfg.Timeout}
	if cfg.Rate > 0 {
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)
	}
	slog.Debug("gateway.NewService: created", "provider", provider.Name(), "configured", provider.Configured(), "timeout", cfg.Timeout, "rate", cfg.Rate, "burst", cfg.Burst)
	return s
}

// Provider returns the name of the underlying provider.
func (s *Service) Provider() string {
	return s.provider.Name()
}

// CheckConfigured returns a config_missing *Error when the provider has no credential.
func (s *Service) CheckConfigured() error {
	if s.provider.Configured() {
		return nil
	}
	slog.Error("Service.CheckConfigured: provider credential missing", "provider", s.provider.Name())
	return NewError(KindConfigMissing, missingCredentialMessage(s.provider.Name()), genai.ErrNotConfigured)
}

// Generate validates req, calls the provider and returns the first image URL.
// Every failure is returned as an *Error.
func (s *Service) Generate(ctx context.Context, req models.GenerationRequest) (string, error) {
	if err := s.CheckConfigured(); err != nil {
		return "", err
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Service.Generate: invalid request", "error", err)
		return "", NewError(KindMalformedInput, err.Error(), err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.limiter != nil {
		if err := s.waitForSlot(ctx); err != nil {
			slog.Warn("Service.Generate: rate limiter wait aborted", "error", err)
			return "", s.contextError(ctx, err)
		}
	}

	start := time.Now()
	slog.Debug("Service.Generate: calling provider", "provider", s.provider.Name(), "prompt_length", len(req.Prompt))
	urls, err := s.provider.GenerateImage(ctx, req.Prompt, req.NegativePrompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", s.contextError(ctx, err)
		}
		if errors.Is(err, genai.ErrNoOutput) {
			slog.Warn("Service.Generate: provider returned no output", "provider", s.provider.Name())
			return "", NewError(KindUpstreamEmpty, noOutputMessage(s.provider.Name()), err)
		}
		slog.Error("Service.Generate: provider call failed", "provider", s.provider.Name(), "error", err)
		return "", NewError(KindUpstreamError, err.Error(), err)
	}
	if len(urls) == 0 || urls[0] == "" {
		return "", NewError(KindUpstreamEmpty, noOutputMessage(s.provider.Name()), genai.ErrNoOutput)
	}

	slog.Info("Service.Generate: image generated", "provider", s.provider.Name(), "duration", time.Since(start))
	return urls[0], nil
}

// waitForSlot blocks until the limiter admits one call. A wait that cannot finish
// before the deadline fails at once with context.DeadlineExceeded.
func (s *Service) waitForSlot(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := s.limiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
		r.Cancel()
		return context.DeadlineExceeded
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func (s *Service) contextError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindUpstreamTimeout, fmt.Sprintf("Image generation timed out after %s", s.timeout), err)
	}
	return NewError(KindUpstreamError, "Image generation was canceled", err)
}

func missingCredentialMessage(provider string) string {
	switch provider {
	case genai.ProviderOpenAI:
		return "OpenAI API key not configured"
	default:
		return "Replicate API token not configured"
	}
}

func noOutputMessage(provider string) string {
	switch provider {
	case genai.ProviderOpenAI:
		return "No output received from OpenAI"
	default:
		return "No output received from Replicate"
	}
}
