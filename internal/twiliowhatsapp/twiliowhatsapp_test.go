package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCreator struct {
	params *twilioApi.CreateMessageParams
	err    error
}

func (f *fakeCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestClient_SendMedia(t *testing.T) {
	fake := &fakeCreator{}
	c := &Client{api: fake, fromWhats: whatsappAddress("+15550001111")}

	if err := c.SendMedia(context.Background(), "+15552223333", "Your meditation visual", "https://img/u.png"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := fake.params
	if p == nil || p.To == nil || *p.To != "whatsapp:+15552223333" {
		t.Fatalf("unexpected To: %+v", p)
	}
	if *p.From != "whatsapp:+15550001111" {
		t.Errorf("unexpected From: %s", *p.From)
	}
	if p.MediaUrl == nil || len(*p.MediaUrl) != 1 || (*p.MediaUrl)[0] != "https://img/u.png" {
		t.Errorf("unexpected MediaUrl: %v", p.MediaUrl)
	}
}

func TestClient_SendMessageWithoutMedia(t *testing.T) {
	fake := &fakeCreator{}
	c := &Client{api: fake, fromWhats: "whatsapp:+1"}
	if err := c.SendMessage(context.Background(), "whatsapp:+2", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *fake.params.To != "whatsapp:+2" {
		t.Errorf("prefix must not be doubled: %s", *fake.params.To)
	}
	if fake.params.MediaUrl != nil {
		t.Errorf("expected no media, got %v", *fake.params.MediaUrl)
	}
}

func TestClient_SendError(t *testing.T) {
	c := &Client{api: &fakeCreator{err: errors.New("20003 authenticate")}, fromWhats: "whatsapp:+1"}
	if err := c.SendMessage(context.Background(), "+2", "hi"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("+1")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()
	if err := mock.SendMedia(context.Background(), "12345", "Hello", "https://img/u.png"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].MediaURL != "https://img/u.png" {
		t.Errorf("unexpected sent messages: %+v", sent)
	}
}
