package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/MeditationVisual/internal/gateway"
	"github.com/BTreeMap/MeditationVisual/internal/models"
)

// Error variables for better error handling and testability
var (
	ErrUnknownEmotion      = errors.New("unknown emotion")
	ErrUnknownTheme        = errors.New("theme does not belong to the selected emotion")
	ErrInvalidTransition   = errors.New("operation not allowed in the current step")
	ErrGenerationInFlight  = errors.New("a generation is already in progress")
	ErrImageNotReady       = errors.New("no generated image is available")
	ErrSessionClosed       = errors.New("session is closed")
	ErrDownloadUnavailable = errors.New("image download is not configured")
)

// ReceiptRecorder persists a receipt for each settled generation attempt.
type ReceiptRecorder interface {
	AddReceipt(r models.Receipt) error
}

// ImageFetcher retrieves the bytes behind an image URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Image is a downloadable generated image.
type Image struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ControllerOpts holds configuration options for a Controller.
type ControllerOpts struct {
	ID       string
	Recorder ReceiptRecorder
	Fetcher  ImageFetcher
}

// ControllerOption defines a configuration option for a Controller.
type ControllerOption func(*ControllerOpts)

// WithSessionID sets the session ID reported in snapshots and receipts.
func WithSessionID(id string) ControllerOption {
	return func(o *ControllerOpts) { o.ID = id }
}

// WithReceiptRecorder records a receipt for every settled attempt.
func WithReceiptRecorder(r ReceiptRecorder) ControllerOption {
	return func(o *ControllerOpts) { o.Recorder = r }
}

// WithImageFetcher enables Download.
func WithImageFetcher(f ImageFetcher) ControllerOption {
	return func(o *ControllerOpts) { o.Fetcher = f }
}

// Controller drives one session through emotion -> theme -> generate.
//
// Each generation attempt is tagged with an epoch and runs on its own goroutine with
// its own cancellable context. Leaving the generate step bumps the epoch and cancels
// the attempt; a settlement carrying an old epoch is discarded.
type Controller struct {
	id       string
	catalog  *models.Catalog
	gen      gateway.Generator
	recorder ReceiptRecorder
	fetcher  ImageFetcher

	mu       sync.Mutex
	state    State
	epoch    uint64
	cancel   context.CancelFunc
	inflight chan struct{} // closed when the current attempt settles
	closed   bool
}

// NewController creates a controller in the emotion step.
func NewController(catalog *models.Catalog, gen gateway.Generator, opts ...ControllerOption) *Controller {
	var cfg ControllerOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Controller{
		id:       cfg.ID,
		catalog:  catalog,
		gen:      gen,
		recorder: cfg.Recorder,
		fetcher:  cfg.Fetcher,
		state:    EmotionStep{},
	}
}

// ID returns the session ID.
func (c *Controller) ID() string {
	return c.id
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelectEmotion moves from the emotion step to the theme step.
func (c *Controller) SelectEmotion(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	if _, ok := c.state.(EmotionStep); !ok {
		return fmt.Errorf("%w: cannot select an emotion in step %s", ErrInvalidTransition, c.state.Step())
	}
	if _, ok := c.catalog.Lookup(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEmotion, name)
	}
	c.state = ThemeStep{Emotion: name}
	slog.Debug("Controller.SelectEmotion: emotion selected", "session", c.id, "emotion", name)
	return nil
}

// Themes returns the selected emotion's themes in catalog order.
func (c *Controller) Themes() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state.(ThemeStep)
	if !ok {
		return nil, fmt.Errorf("%w: themes are only offered in step %s", ErrInvalidTransition, StepTheme)
	}
	e, _ := c.catalog.Lookup(st.Emotion)
	return e.Themes, nil
}

// SelectTheme moves to the generate step and starts one generation.
func (c *Controller) SelectTheme(theme string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	st, ok := c.state.(ThemeStep)
	if !ok {
		return fmt.Errorf("%w: cannot select a theme in step %s", ErrInvalidTransition, c.state.Step())
	}
	e, _ := c.catalog.Lookup(st.Emotion)
	if !e.HasTheme(theme) {
		return fmt.Errorf("%w: %q is not a theme of %q", ErrUnknownTheme, theme, st.Emotion)
	}
	c.state = GenerateStep{Emotion: st.Emotion, Theme: theme, Status: Loading{}}
	slog.Info("Controller.SelectTheme: theme selected, generating", "session", c.id, "emotion", st.Emotion, "theme", theme)
	c.startLocked(st.Emotion, theme)
	return nil
}

// Back returns from the theme step to the emotion step.
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state.(ThemeStep); !ok {
		return fmt.Errorf("%w: back is only allowed in step %s", ErrInvalidTransition, StepTheme)
	}
	c.resetLocked()
	slog.Debug("Controller.Back: returned to emotion step", "session", c.id)
	return nil
}

// Retry re-runs generation with the same selections after a failure.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	st, ok := c.state.(GenerateStep)
	if !ok {
		return fmt.Errorf("%w: retry is only allowed in step %s", ErrInvalidTransition, StepGenerate)
	}
	switch st.Status.(type) {
	case Loading:
		return ErrGenerationInFlight
	case Ready:
		return fmt.Errorf("%w: the image is already generated", ErrInvalidTransition)
	}
	c.state = GenerateStep{Emotion: st.Emotion, Theme: st.Theme, Status: Loading{}}
	slog.Info("Controller.Retry: retrying generation", "session", c.id, "emotion", st.Emotion, "theme", st.Theme)
	c.startLocked(st.Emotion, st.Theme)
	return nil
}

// StartOver resets to the emotion step from any state, canceling any in-flight attempt.
func (c *Controller) StartOver() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	slog.Debug("Controller.StartOver: session reset", "session", c.id)
}

// Close cancels any in-flight attempt and rejects further generations.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.epoch++
	c.stopLocked()
	slog.Debug("Controller.Close: session closed", "session", c.id)
}

// Snapshot returns the render view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{ID: c.id, Step: c.state.Step()}
	switch st := c.state.(type) {
	case ThemeStep:
		snap.Emotion = st.Emotion
		e, _ := c.catalog.Lookup(st.Emotion)
		snap.Themes = e.Themes
	case GenerateStep:
		snap.Emotion = st.Emotion
		snap.Theme = st.Theme
		snap.Status = st.Status.Name()
		switch s := st.Status.(type) {
		case Loading:
			snap.Generating = true
		case Failed:
			snap.Error = s.Message
			snap.ErrorKind = string(s.Kind)
		case Ready:
			snap.ImageURL = s.ImageURL
		}
	}
	return snap
}

// Wait blocks until the current attempt settles or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	ch := c.inflight
	c.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Download fetches the generated image.
func (c *Controller) Download(ctx context.Context) (*Image, error) {
	c.mu.Lock()
	st, ok := c.state.(GenerateStep)
	var ready Ready
	if ok {
		ready, ok = st.Status.(Ready)
	}
	c.mu.Unlock()
	if !ok {
		return nil, ErrImageNotReady
	}
	if c.fetcher == nil {
		return nil, ErrDownloadUnavailable
	}

	data, err := c.fetcher.Fetch(ctx, ready.ImageURL)
	if err != nil {
		slog.Error("Controller.Download: failed to fetch image", "session", c.id, "url", ready.ImageURL, "error", err)
		return nil, gateway.NewError(gateway.KindDownloadFailure, "Failed to download image", err)
	}
	return &Image{
		FileName:    DownloadFileName(st.Emotion, st.Theme),
		ContentType: detectImageType(data),
		Data:        data,
	}, nil
}

// DownloadFileName names the downloaded image for a selection.
func DownloadFileName(emotion, theme string) string {
	return fmt.Sprintf("meditation-%s-%s.png", emotion, theme)
}

// startLocked launches a new attempt; c.mu must be held.
func (c *Controller) startLocked(emotion, theme string) {
	c.stopLocked()
	c.epoch++
	token := c.epoch
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.inflight = done
	go c.run(ctx, token, done, emotion, theme)
}

// stopLocked cancels the in-flight attempt, if any; c.mu must be held.
func (c *Controller) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.inflight = nil
}

// resetLocked discards selections and results; c.mu must be held.
func (c *Controller) resetLocked() {
	c.epoch++
	c.stopLocked()
	c.state = EmotionStep{}
}

func (c *Controller) run(ctx context.Context, token uint64, done chan struct{}, emotion, theme string) {
	defer close(done)
	start := time.Now()
	url, err := c.gen.Generate(ctx, BuildRequest(emotion, theme))
	if err == nil && url == "" {
		err = gateway.NewError(gateway.KindUpstreamEmpty, gateway.MsgNoImageURL, nil)
	}
	c.settle(token, emotion, theme, url, err, time.Since(start))
}

func (c *Controller) settle(token uint64, emotion, theme, url string, err error, elapsed time.Duration) {
	receipt := models.Receipt{
		SessionID:  c.id,
		Emotion:    emotion,
		Theme:      theme,
		DurationMS: elapsed.Milliseconds(),
		Time:       time.Now().Unix(),
	}
	if err != nil {
		receipt.ErrorKind = string(gateway.KindOf(err))
		receipt.Error = err.Error()
	} else {
		receipt.ImageURL = url
	}

	c.mu.Lock()
	if token != c.epoch {
		c.mu.Unlock()
		slog.Debug("Controller.settle: discarding stale generation result", "session", c.id, "emotion", emotion, "theme", theme)
		receipt.Status = models.ReceiptStatusDiscarded
		c.record(receipt)
		return
	}
	if err != nil {
		kind := gateway.KindOf(err)
		c.state = GenerateStep{Emotion: emotion, Theme: theme, Status: Failed{Message: err.Error(), Kind: kind}}
		receipt.Status = models.ReceiptStatusFailed
		slog.Warn("Controller.settle: generation failed", "session", c.id, "kind", kind, "error", err)
	} else {
		c.state = GenerateStep{Emotion: emotion, Theme: theme, Status: Ready{ImageURL: url}}
		receipt.Status = models.ReceiptStatusSucceeded
		slog.Info("Controller.settle: image ready", "session", c.id, "emotion", emotion, "theme", theme, "duration", elapsed)
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.inflight = nil
	c.mu.Unlock()

	c.record(receipt)
}

func (c *Controller) record(r models.Receipt) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.AddReceipt(r); err != nil {
		slog.Error("Controller.record: failed to store receipt", "session", c.id, "error", err)
	}
}
