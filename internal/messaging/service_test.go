package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/MeditationVisual/internal/twiliowhatsapp"
)

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{"+1 (555) 222-3333", "15552223333", nil},
		{"15552223333", "15552223333", nil},
		{"", "", ErrEmptyRecipient},
		{"abc", "", ErrInvalidRecipient},
		{"123", "", ErrInvalidRecipient},
	}
	for _, tt := range tests {
		got, err := ValidateAndCanonicalizeRecipient(tt.in)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) error = %v, want %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShareService_Share(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewShareService(mock)
	share := Share{Emotion: "Seeking Peace", Theme: "Lotus Pond", ImageURL: "https://img/u.png"}

	if err := svc.Share(context.Background(), "+1 555 222 3333", share); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].To != "+15552223333" || sent[0].MediaURL != "https://img/u.png" || sent[0].Body != Caption(share) {
		t.Errorf("unexpected message: %+v", sent[0])
	}
}

func TestShareService_Errors(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewShareService(mock)

	if err := svc.Share(context.Background(), "+15552223333", Share{}); !errors.Is(err, ErrEmptyImageURL) {
		t.Errorf("expected ErrEmptyImageURL, got %v", err)
	}
	if err := svc.Share(context.Background(), "12", Share{ImageURL: "u"}); !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("expected ErrInvalidRecipient, got %v", err)
	}

	mock.Err = errors.New("twilio down")
	if err := svc.Share(context.Background(), "+15552223333", Share{ImageURL: "u"}); !errors.Is(err, mock.Err) {
		t.Errorf("expected sender error, got %v", err)
	}
	if len(mock.Sent()) != 0 {
		t.Error("no message should have been recorded")
	}
}
