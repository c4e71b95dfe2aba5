// Package messaging shares generated meditation visuals with a phone number over WhatsApp.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/BTreeMap/MeditationVisual/internal/twiliowhatsapp"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient   = errors.New("recipient cannot be empty")
	ErrInvalidRecipient = errors.New("invalid phone number")
	ErrEmptyImageURL    = errors.New("image URL cannot be empty")
)

// MinPhoneDigits is the minimum length of a canonical phone number.
const MinPhoneDigits = 6

var phoneNumberRegex = regexp.MustCompile(`[^\d]`)

// Sharer sends a generated image to a recipient.
type Sharer interface {
	Share(ctx context.Context, to string, share Share) error
}

// Share describes the image being sent.
type Share struct {
	Emotion  string
	Theme    string
	ImageURL string
}

// ShareService delivers images through a WhatsApp sender.
type ShareService struct {
	sender twiliowhatsapp.Sender
}

// NewShareService creates a ShareService.
func NewShareService(sender twiliowhatsapp.Sender) *ShareService {
	return &ShareService{sender: sender}
}

// ValidateAndCanonicalizeRecipient strips everything but digits and checks the length.
func ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("%w: no digits found in recipient %q", ErrInvalidRecipient, recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("%w: %q is too short (minimum %d digits required)", ErrInvalidRecipient, canonical, MinPhoneDigits)
	}
	if recipient != canonical {
		slog.Debug("ValidateAndCanonicalizeRecipient: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Caption is the message text sent with a shared image.
func Caption(s Share) string {
	return fmt.Sprintf("Your meditation visual for feeling %s: %s. Take a slow breath and rest your eyes on it.", s.Emotion, s.Theme)
}

// Share implements Sharer.
func (s *ShareService) Share(ctx context.Context, to string, share Share) error {
	if share.ImageURL == "" {
		return ErrEmptyImageURL
	}
	canonical, err := ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Warn("ShareService.Share: invalid recipient", "error", err)
		return err
	}
	if err := s.sender.SendMedia(ctx, "+"+canonical, Caption(share), share.ImageURL); err != nil {
		slog.Error("ShareService.Share: send failed", "to", canonical, "error", err)
		return fmt.Errorf("failed to share image: %w", err)
	}
	slog.Info("ShareService.Share: image shared", "to", canonical, "emotion", share.Emotion, "theme", share.Theme)
	return nil
}
