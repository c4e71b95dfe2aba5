package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/MeditationVisual/internal/flow"
	"github.com/BTreeMap/MeditationVisual/internal/gateway"
	"github.com/BTreeMap/MeditationVisual/internal/genai"
	"github.com/BTreeMap/MeditationVisual/internal/messaging"
	"github.com/BTreeMap/MeditationVisual/internal/models"
	"github.com/BTreeMap/MeditationVisual/internal/store"
	"github.com/BTreeMap/MeditationVisual/internal/twiliowhatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGenerator returns a fixed result and records the requests it saw.
type stubGenerator struct {
	mu   sync.Mutex
	url  string
	err  error
	reqs []models.GenerationRequest
}

func (g *stubGenerator) Generate(ctx context.Context, req models.GenerationRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	return g.url, g.err
}

// blockingProvider blocks every generation until its context ends.
type blockingProvider struct {
	configured bool
	started    chan struct{}
}

func (p *blockingProvider) Name() string     { return genai.ProviderReplicate }
func (p *blockingProvider) Configured() bool { return p.configured }

func (p *blockingProvider) GenerateImage(ctx context.Context, prompt, negativePrompt string) ([]string, error) {
	if p.started != nil {
		p.started <- struct{}{}
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

type stubFetcher struct{ data []byte }

func (f stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f.data, nil
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func TestGenerateHandler(t *testing.T) {
	tests := []struct {
		name      string
		gen       *stubGenerator
		body      string
		status    int
		wantURL   string
		wantError string
		kind      gateway.Kind
	}{
		{"success", &stubGenerator{url: "https://img/u.png"}, `{"prompt":"a lake","negative_prompt":"nsfw"}`, http.StatusOK, "https://img/u.png", "", ""},
		{"config missing", &stubGenerator{err: gateway.NewError(gateway.KindConfigMissing, "Replicate API token not configured", nil)}, `{"prompt":"a lake"}`, http.StatusInternalServerError, "", "Replicate API token not configured", gateway.KindConfigMissing},
		{"upstream empty", &stubGenerator{err: gateway.NewError(gateway.KindUpstreamEmpty, "No output received from Replicate", nil)}, `{"prompt":"a lake"}`, http.StatusInternalServerError, "", "No output received from Replicate", gateway.KindUpstreamEmpty},
		{"malformed body", &stubGenerator{url: "u"}, `{"prompt":`, http.StatusInternalServerError, "", "Invalid JSON format", gateway.KindMalformedInput},
		{"empty body", &stubGenerator{url: "u"}, ``, http.StatusInternalServerError, "", "Request body is required", gateway.KindMalformedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(WithGenerator(tt.gen)).Handler()
			rr := doJSON(t, h, http.MethodPost, "/api/generate", tt.body)

			assert.Equal(t, tt.status, rr.Code)
			resp := decode[models.GenerationResponse](t, rr)
			assert.Equal(t, tt.wantURL, resp.ImageURL)
			assert.Equal(t, tt.wantError, resp.Error)
			if tt.kind != "" {
				assert.Equal(t, string(tt.kind), rr.Header().Get(gateway.KindHeader))
			}
		})
	}
}

func TestGenerateHandler_CredentialCheckedBeforeBody(t *testing.T) {
	svc := gateway.NewService(&blockingProvider{})
	h := NewServer(WithGenerator(svc)).Handler()

	for _, body := range []string{`{"prompt":`, ``, `{"prompt":"a lake"}`} {
		rr := doJSON(t, h, http.MethodPost, "/api/generate", body)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, string(gateway.KindConfigMissing), rr.Header().Get(gateway.KindHeader), "body %q", body)
		assert.Equal(t, "Replicate API token not configured", decode[models.GenerationResponse](t, rr).Error)
	}
}

func TestGenerateHandler_ForwardsRequest(t *testing.T) {
	gen := &stubGenerator{url: "u"}
	h := NewServer(WithGenerator(gen)).Handler()
	doJSON(t, h, http.MethodPost, "/api/generate", `{"prompt":"p","negative_prompt":"n"}`)
	require.Len(t, gen.reqs, 1)
	assert.Equal(t, models.GenerationRequest{Prompt: "p", NegativePrompt: "n"}, gen.reqs[0])
}

func TestEmotionsAndHealth(t *testing.T) {
	h := NewServer().Handler()

	rr := doJSON(t, h, http.MethodGet, "/api/emotions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	emotions := decode[[]models.Emotion](t, rr)
	require.Len(t, emotions, 6)
	assert.Equal(t, "Anxious", emotions[0].Name)
	assert.Equal(t, []string{"Garden Path", "Lotus Pond", "Starry Night"}, emotions[3].Themes)

	rr = doJSON(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/api/generate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func newSessionServer(gen gateway.Generator, opts ...Option) (http.Handler, *flow.Registry, store.Store) {
	st := store.NewInMemoryStore()
	reg := flow.NewRegistry(models.DefaultCatalog(), gen,
		flow.WithRegistryRecorder(st),
		flow.WithRegistryFetcher(stubFetcher{data: []byte("\x89PNG\r\n\x1a\nrest")}))
	opts = append([]Option{WithRegistry(reg), WithStore(st)}, opts...)
	return NewServer(opts...).Handler(), reg, st
}

func TestSessionFlow(t *testing.T) {
	h, _, _ := newSessionServer(&stubGenerator{url: "https://img/u.png"})

	rr := doJSON(t, h, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, rr.Code)
	snap := decode[flow.Snapshot](t, rr)
	require.NotEmpty(t, snap.ID)
	assert.Equal(t, flow.StepEmotion, snap.Step)
	base := "/api/sessions/" + snap.ID

	rr = doJSON(t, h, http.MethodPost, base+"/emotion", `{"emotion":"Seeking Peace"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	snap = decode[flow.Snapshot](t, rr)
	assert.Equal(t, flow.StepTheme, snap.Step)
	assert.Equal(t, []string{"Garden Path", "Lotus Pond", "Starry Night"}, snap.Themes)

	rr = doJSON(t, h, http.MethodPost, base+"/theme?wait=true", `{"theme":"Lotus Pond"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	snap = decode[flow.Snapshot](t, rr)
	assert.Equal(t, flow.StatusReady, snap.Status)
	assert.Equal(t, "https://img/u.png", snap.ImageURL)

	rr = doJSON(t, h, http.MethodGet, base+"/download", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "meditation-Seeking Peace-Lotus Pond.png")

	rr = doJSON(t, h, http.MethodGet, "/api/receipts?session="+snap.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	receipts := decode[[]models.Receipt](t, rr)
	require.Len(t, receipts, 1)
	assert.Equal(t, models.ReceiptStatusSucceeded, receipts[0].Status)

	rr = doJSON(t, h, http.MethodPost, base+"/start-over", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, flow.StepEmotion, decode[flow.Snapshot](t, rr).Step)

	rr = doJSON(t, h, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = doJSON(t, h, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessionErrors(t *testing.T) {
	gen := &stubGenerator{err: gateway.NewError(gateway.KindUpstreamError, "model exploded", nil)}
	h, reg, _ := newSessionServer(gen)
	c := reg.Create()
	base := "/api/sessions/" + c.ID()

	rr := doJSON(t, h, http.MethodGet, "/api/sessions/s_missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, h, http.MethodPost, base+"/emotion", `{"emotion":"Ecstatic"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode[models.ErrorResponse](t, rr).Error, "unknown emotion")

	rr = doJSON(t, h, http.MethodPost, base+"/emotion", `{"emotion":""}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, h, http.MethodPost, base+"/theme", `{"theme":"Lotus Pond"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doJSON(t, h, http.MethodPost, base+"/emotion", `{"emotion":"Anxious"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = doJSON(t, h, http.MethodPost, base+"/theme", `{"theme":"Lotus Pond"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, h, http.MethodPost, base+"/theme?wait=1", `{"theme":"Water Flow"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decode[flow.Snapshot](t, rr)
	assert.Equal(t, flow.StatusFailed, snap.Status)
	assert.Equal(t, "model exploded", snap.Error)
	assert.Equal(t, string(gateway.KindUpstreamError), snap.ErrorKind)

	rr = doJSON(t, h, http.MethodGet, base+"/download", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	gen.mu.Lock()
	gen.err, gen.url = nil, "https://img/retry.png"
	gen.mu.Unlock()
	rr = doJSON(t, h, http.MethodPost, base+"/retry?wait=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://img/retry.png", decode[flow.Snapshot](t, rr).ImageURL)

	rr = doJSON(t, h, http.MethodPost, base+"/back", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestThemeWithoutWaitIsAccepted(t *testing.T) {
	h, reg, _ := newSessionServer(&stubGenerator{url: "u"})
	c := reg.Create()
	require.NoError(t, c.SelectEmotion("Restless"))

	rr := doJSON(t, h, http.MethodPost, "/api/sessions/"+c.ID()+"/theme", `{"theme":"Moonlit Lake"}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	assert.Equal(t, "u", c.Snapshot().ImageURL)
}

func TestShareHandler(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	h, reg, _ := newSessionServer(&stubGenerator{url: "https://img/u.png"}, WithSharer(messaging.NewShareService(mock)))
	c := reg.Create()
	base := "/api/sessions/" + c.ID()

	rr := doJSON(t, h, http.MethodPost, base+"/share", `{"to":"+15552223333"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	require.NoError(t, c.SelectEmotion("Want Inspiration"))
	require.NoError(t, c.SelectTheme("Rising Sun"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	rr = doJSON(t, h, http.MethodPost, base+"/share", `{"to":"12"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, h, http.MethodPost, base+"/share", `{"to":"+1 555 222 3333"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "https://img/u.png", sent[0].MediaURL)

	mock.Err = errors.New("twilio down")
	rr = doJSON(t, h, http.MethodPost, base+"/share", `{"to":"+15552223333"}`)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestDisabledEndpoints(t *testing.T) {
	h := NewServer().Handler()
	for _, path := range []string{"/api/sessions", "/api/sessions/s_1/back"} {
		rr := doJSON(t, h, http.MethodPost, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
	}
	rr := doJSON(t, h, http.MethodGet, "/api/receipts", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = doJSON(t, h, http.MethodPost, "/api/generate", `{"prompt":"p"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "not configured"))
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s := NewServer(WithAddr("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRunCancelsSessionsBeforeShutdown(t *testing.T) {
	addr := freeAddr(t)
	provider := &blockingProvider{configured: true, started: make(chan struct{}, 1)}
	reg := flow.NewRegistry(models.DefaultCatalog(), gateway.NewClient("http://"+addr+"/api/generate", nil))
	s := NewServer(WithAddr(addr), WithGenerator(gateway.NewService(provider)), WithRegistry(reg))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	c := reg.Create()
	require.NoError(t, c.SelectEmotion("Anxious"))
	require.NoError(t, c.SelectTheme("Water Flow"))
	select {
	case <-provider.started:
	case <-time.After(2 * time.Second):
		t.Fatal("generation never reached the gateway")
	}

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Less(t, time.Since(start), DefaultShutdownTimeout/2)
	case <-time.After(DefaultShutdownTimeout + 2*time.Second):
		t.Fatal("server did not shut down")
	}
}
