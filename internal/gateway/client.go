package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/MeditationVisual/internal/models"
)

// Client messages shown to the user.
const (
	MsgGenerateFailed = "Failed to generate image"
	MsgNoImageURL     = "No image URL received"
)

// Client calls a remote generation gateway over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for the gateway at endpoint (the full URL of POST /api/generate).
// The request context bounds each call.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{endpoint: endpoint, httpClient: httpClient}
}

// Generate posts req and returns the image URL. Failures are returned as *Error.
func (c *Client) Generate(ctx context.Context, req models.GenerationRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", NewError(KindMalformedInput, MsgGenerateFailed, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", NewError(KindNetworkFailure, MsgGenerateFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		slog.Warn("Client.Generate: request failed", "endpoint", c.endpoint, "error", err)
		return "", NewError(KindNetworkFailure, err.Error(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewError(KindNetworkFailure, err.Error(), err)
	}

	var envelope models.GenerationResponse
	decodeErr := json.Unmarshal(body, &envelope)

	if resp.StatusCode != http.StatusOK {
		msg := envelope.Error
		if decodeErr != nil || msg == "" {
			msg = MsgGenerateFailed
		}
		kind := Kind(resp.Header.Get(KindHeader))
		if kind == "" {
			kind = KindUpstreamError
		}
		slog.Warn("Client.Generate: gateway returned error", "status", resp.StatusCode, "kind", kind, "error", msg)
		return "", NewError(kind, msg, fmt.Errorf("gateway status %d", resp.StatusCode))
	}

	if decodeErr != nil || envelope.ImageURL == "" {
		slog.Warn("Client.Generate: response without image URL", "status", resp.StatusCode)
		return "", NewError(KindUpstreamEmpty, MsgNoImageURL, decodeErr)
	}
	return envelope.ImageURL, nil
}

// KindHeader carries the error kind on gateway error responses. The body stays {error}.
const KindHeader = "X-Error-Kind"
