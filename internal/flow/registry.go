package flow

import (
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/MeditationVisual/internal/gateway"
	"github.com/BTreeMap/MeditationVisual/internal/models"
	"github.com/BTreeMap/MeditationVisual/internal/util"
	"github.com/patrickmn/go-cache"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 30 * time.Minute

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("session not found")

// RegistryOpts holds configuration options for a Registry.
type RegistryOpts struct {
	TTL      time.Duration
	Recorder ReceiptRecorder
	Fetcher  ImageFetcher
}

// RegistryOption defines a configuration option for a Registry.
type RegistryOption func(*RegistryOpts)

// WithSessionTTL sets the idle expiry of sessions.
func WithSessionTTL(ttl time.Duration) RegistryOption {
	return func(o *RegistryOpts) { o.TTL = ttl }
}

// WithRegistryRecorder passes a receipt recorder to every session.
func WithRegistryRecorder(r ReceiptRecorder) RegistryOption {
	return func(o *RegistryOpts) { o.Recorder = r }
}

// WithRegistryFetcher passes an image fetcher to every session.
func WithRegistryFetcher(f ImageFetcher) RegistryOption {
	return func(o *RegistryOpts) { o.Fetcher = f }
}

// Registry holds live sessions. Sessions expire after TTL of inactivity;
// an evicted session is closed, which cancels its in-flight generation.
type Registry struct {
	catalog  *models.Catalog
	gen      gateway.Generator
	recorder ReceiptRecorder
	fetcher  ImageFetcher
	ttl      time.Duration
	sessions *cache.Cache
}

// NewRegistry creates an empty registry.
func NewRegistry(catalog *models.Catalog, gen gateway.Generator, opts ...RegistryOption) *Registry {
	cfg := RegistryOpts{TTL: DefaultSessionTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	sessions := cache.New(cfg.TTL, cfg.TTL/2)
	sessions.OnEvicted(func(id string, v interface{}) {
		if c, ok := v.(*Controller); ok {
			c.Close()
			slog.Debug("Registry: session evicted", "session", id)
		}
	})
	slog.Debug("Registry created", "ttl", cfg.TTL, "recorder_set", cfg.Recorder != nil, "fetcher_set", cfg.Fetcher != nil)
	return &Registry{
		catalog:  catalog,
		gen:      gen,
		recorder: cfg.Recorder,
		fetcher:  cfg.Fetcher,
		ttl:      cfg.TTL,
		sessions: sessions,
	}
}

// Catalog returns the catalog shared by all sessions.
func (r *Registry) Catalog() *models.Catalog {
	return r.catalog
}

// Create starts a new session in the emotion step.
func (r *Registry) Create() *Controller {
	opts := []ControllerOption{WithSessionID(util.GenerateSessionID())}
	if r.recorder != nil {
		opts = append(opts, WithReceiptRecorder(r.recorder))
	}
	if r.fetcher != nil {
		opts = append(opts, WithImageFetcher(r.fetcher))
	}
	c := NewController(r.catalog, r.gen, opts...)
	r.sessions.Set(c.ID(), c, r.ttl)
	slog.Info("Registry.Create: session created", "session", c.ID())
	return c
}

// Get returns a session and extends its expiry.
func (r *Registry) Get(id string) (*Controller, error) {
	v, ok := r.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	c := v.(*Controller)
	r.sessions.Set(id, c, r.ttl)
	return c, nil
}

// Delete ends a session.
func (r *Registry) Delete(id string) error {
	if _, ok := r.sessions.Get(id); !ok {
		return ErrSessionNotFound
	}
	r.sessions.Delete(id)
	slog.Info("Registry.Delete: session ended", "session", id)
	return nil
}

// Len returns the number of live sessions, including expired ones not yet purged.
func (r *Registry) Len() int {
	return r.sessions.ItemCount()
}

// Close ends every session.
func (r *Registry) Close() {
	for id := range r.sessions.Items() {
		r.sessions.Delete(id)
	}
}
