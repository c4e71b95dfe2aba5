// Package models defines the core data structures for MeditationVisual.
//
// It includes the emotion catalog, generation requests and the JSON envelopes
// shared between the gateway, the flow controller and the API layer.
package models

import (
	"errors"
	"strings"
)

// Validation constants for input validation
const (
	// MaxPromptLength defines the maximum allowed length for a generation prompt
	MaxPromptLength = 4096
	// MaxNegativePromptLength defines the maximum allowed length for a negative prompt
	MaxNegativePromptLength = 1024
)

// Error variables for better error handling and testability
var (
	ErrEmptyPrompt            = errors.New("prompt is required")
	ErrPromptTooLong          = errors.New("prompt exceeds maximum length")
	ErrNegativePromptTooLong  = errors.New("negative prompt exceeds maximum length")
	ErrEmptyCatalog           = errors.New("catalog must contain at least one emotion")
	ErrEmptyEmotionName       = errors.New("emotion name cannot be empty")
	ErrDuplicateEmotion       = errors.New("duplicate emotion name")
	ErrEmotionWithoutThemes   = errors.New("emotion must define at least one theme")
	ErrEmptyTheme             = errors.New("theme cannot be empty")
	ErrDuplicateTheme         = errors.New("duplicate theme for emotion")
	ErrMissingShareRecipient  = errors.New("recipient is required")
	ErrMissingEmotionSelected = errors.New("emotion is required")
	ErrMissingThemeSelected   = errors.New("theme is required")
)

// GenerationRequest is the body accepted by the generation gateway.
type GenerationRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
}

// Validate checks that the request carries a usable prompt.
func (r *GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if len(r.Prompt) > MaxPromptLength {
		return ErrPromptTooLong
	}
	if len(r.NegativePrompt) > MaxNegativePromptLength {
		return ErrNegativePromptTooLong
	}
	return nil
}

// GenerationResponse is the gateway envelope: exactly one of the fields is set.
type GenerationResponse struct {
	ImageURL string `json:"imageUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorResponse is the uniform error envelope used by every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Error creates an error envelope with a message.
func Error(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

// StatusResponse is the envelope for endpoints that return no resource.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Success creates an ok envelope with a message.
func Success(message string) StatusResponse {
	return StatusResponse{Status: "ok", Message: message}
}

// EmotionSelection is the body of POST /api/sessions/{id}/emotion.
type EmotionSelection struct {
	Emotion string `json:"emotion"`
}

// Validate checks the selection is not blank.
func (s *EmotionSelection) Validate() error {
	if strings.TrimSpace(s.Emotion) == "" {
		return ErrMissingEmotionSelected
	}
	return nil
}

// ThemeSelection is the body of POST /api/sessions/{id}/theme.
type ThemeSelection struct {
	Theme string `json:"theme"`
}

// Validate checks the selection is not blank.
func (s *ThemeSelection) Validate() error {
	if strings.TrimSpace(s.Theme) == "" {
		return ErrMissingThemeSelected
	}
	return nil
}

// ShareRequest is the body of POST /api/sessions/{id}/share.
type ShareRequest struct {
	To string `json:"to"`
}

// Validate checks the recipient is present.
func (s *ShareRequest) Validate() error {
	if strings.TrimSpace(s.To) == "" {
		return ErrMissingShareRecipient
	}
	return nil
}

// ReceiptStatus represents how a generation attempt settled.
type ReceiptStatus string

const (
	// ReceiptStatusSucceeded indicates the attempt produced an image URL.
	ReceiptStatusSucceeded ReceiptStatus = "succeeded"
	// ReceiptStatusFailed indicates the attempt settled with an error.
	ReceiptStatusFailed ReceiptStatus = "failed"
	// ReceiptStatusDiscarded indicates the attempt settled after its session was reset.
	ReceiptStatusDiscarded ReceiptStatus = "discarded"
)

// Receipt records one settled generation attempt.
type Receipt struct {
	SessionID  string        `json:"session_id"`
	Emotion    string        `json:"emotion"`
	Theme      string        `json:"theme"`
	Status     ReceiptStatus `json:"status"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	ImageURL   string        `json:"image_url,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	Time       int64         `json:"time"`
}
