// Package genai provides the image-generation providers used by the generation gateway.
//
// Each provider submits one generation job with fixed model parameters and returns the
// output image URLs once the job has completed.
package genai

import (
	"context"
	"errors"
)

// Provider names accepted by configuration.
const (
	ProviderReplicate = "replicate"
	ProviderOpenAI    = "openai"
)

// Fixed generation parameters. They are not user-configurable.
const (
	// ImageWidth is the output width in pixels
	ImageWidth = 1024
	// ImageHeight is the output height in pixels
	ImageHeight = 1024
	// InferenceSteps is the number of denoising steps
	InferenceSteps = 50
	// GuidanceScale is the classifier-free guidance scale
	GuidanceScale = 7.5
	// RefineMode selects the SDXL refiner
	RefineMode = "expert_ensemble_refiner"
	// Scheduler selects the sampling scheduler
	Scheduler = "K_EULER"
)

// Error variables for better error handling and testability
var (
	ErrNotConfigured      = errors.New("image provider credential not configured")
	ErrNoOutput           = errors.New("no output received from image provider")
	ErrPredictionFailed   = errors.New("image generation job failed")
	ErrPredictionCanceled = errors.New("image generation job was canceled")
)

// ImageProvider generates images for a prompt pair.
type ImageProvider interface {
	// Name identifies the provider in logs and receipts
	Name() string
	// Configured reports whether a credential is available; checked before every call
	Configured() bool
	// GenerateImage submits one job and blocks until it completes or ctx is done
	GenerateImage(ctx context.Context, prompt, negativePrompt string) ([]string, error)
}
