package models

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Emotion is a fixed catalog entry.
type Emotion struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Themes      []string `json:"themes"` // ordered
	Icon        string   `json:"icon"`
}

// HasTheme reports whether theme belongs to this emotion.
func (e Emotion) HasTheme(theme string) bool {
	return slices.Contains(e.Themes, theme)
}

// Catalog is an immutable, ordered table of emotions built once at startup.
// Accessors return copies so callers cannot mutate the table.
type Catalog struct {
	emotions []Emotion
	index    map[string]int
}

// NewCatalog validates the entries and builds a Catalog preserving their order.
func NewCatalog(emotions []Emotion) (*Catalog, error) {
	if len(emotions) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{
		emotions: make([]Emotion, 0, len(emotions)),
		index:    make(map[string]int, len(emotions)),
	}
	for _, e := range emotions {
		if strings.TrimSpace(e.Name) == "" {
			return nil, ErrEmptyEmotionName
		}
		if _, dup := c.index[e.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEmotion, e.Name)
		}
		if len(e.Themes) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmotionWithoutThemes, e.Name)
		}
		seen := make(map[string]struct{}, len(e.Themes))
		for _, t := range e.Themes {
			if strings.TrimSpace(t) == "" {
				return nil, fmt.Errorf("%w: %s", ErrEmptyTheme, e.Name)
			}
			if _, dup := seen[t]; dup {
				return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateTheme, e.Name, t)
			}
			seen[t] = struct{}{}
		}
		e.Themes = slices.Clone(e.Themes)
		c.index[e.Name] = len(c.emotions)
		c.emotions = append(c.emotions, e)
	}
	return c, nil
}

// Lookup returns the emotion with the given name.
func (c *Catalog) Lookup(name string) (Emotion, bool) {
	i, ok := c.index[name]
	if !ok {
		return Emotion{}, false
	}
	e := c.emotions[i]
	e.Themes = slices.Clone(e.Themes)
	return e, true
}

// Emotions returns all entries in catalog order.
func (c *Catalog) Emotions() []Emotion {
	out := make([]Emotion, len(c.emotions))
	for i, e := range c.emotions {
		e.Themes = slices.Clone(e.Themes)
		out[i] = e
	}
	return out
}

// Len returns the number of emotions.
func (c *Catalog) Len() int {
	return len(c.emotions)
}

// DefaultEmotions is the built-in table used when no catalog file is configured.
func DefaultEmotions() []Emotion {
	return []Emotion{
		{Name: "Anxious", Description: "Seeking calmness and comfort", Themes: []string{"Water Flow", "Cloud Paths", "Gentle Waves"}, Icon: "🌊"},
		{Name: "Overwhelmed", Description: "Finding space and release", Themes: []string{"Open Sky", "Mountain View", "Forest Clearing"}, Icon: "🗻"},
		{Name: "Restless", Description: "Finding rhythm and serenity", Themes: []string{"Falling Leaves", "Moonlit Lake", "Swaying Grass"}, Icon: "🍃"},
		{Name: "Seeking Peace", Description: "Finding inner tranquility", Themes: []string{"Garden Path", "Lotus Pond", "Starry Night"}, Icon: "🌸"},
		{Name: "Need Grounding", Description: "Seeking stability and strength", Themes: []string{"Ancient Tree", "Stone Garden", "Mountain Base"}, Icon: "🌳"},
		{Name: "Want Inspiration", Description: "Sparking creativity and vitality", Themes: []string{"Rising Sun", "Blooming Garden", "Light Streams"}, Icon: "✨"},
	}
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultEmotions())
	if err != nil {
		// The built-in table is a constant; failing here is a programming error.
		panic(fmt.Sprintf("invalid built-in catalog: %v", err))
	}
	return c
}

// LoadCatalog reads a JSON array of emotions from path.
// An empty path yields the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		slog.Debug("LoadCatalog: no catalog file configured, using built-in table")
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("LoadCatalog: failed to read catalog file", "error", err, "path", path)
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}
	var emotions []Emotion
	if err := json.Unmarshal(data, &emotions); err != nil {
		slog.Error("LoadCatalog: failed to decode catalog file", "error", err, "path", path)
		return nil, fmt.Errorf("failed to decode catalog file %s: %w", path, err)
	}
	c, err := NewCatalog(emotions)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog file %s: %w", path, err)
	}
	slog.Info("LoadCatalog: catalog loaded", "path", path, "emotions", c.Len())
	return c, nil
}
