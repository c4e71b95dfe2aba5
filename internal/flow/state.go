// Package flow implements the guided meditation flow: a per-session state machine
// (emotion, then theme, then generate) plus the registry that holds live sessions.
package flow

import (
	"github.com/BTreeMap/MeditationVisual/internal/gateway"
)

// Step names the stage of the flow.
type Step string

const (
	StepEmotion  Step = "emotion"
	StepTheme    Step = "theme"
	StepGenerate Step = "generate"
)

// State is the session state. Exactly one of EmotionStep, ThemeStep or GenerateStep.
type State interface {
	Step() Step
	isState()
}

// EmotionStep is the initial state; nothing is selected.
type EmotionStep struct{}

// ThemeStep holds the selected emotion while a theme is chosen.
type ThemeStep struct {
	Emotion string
}

// GenerateStep holds both selections and the generation status.
type GenerateStep struct {
	Emotion string
	Theme   string
	Status  Status
}

func (EmotionStep) Step() Step  { return StepEmotion }
func (ThemeStep) Step() Step    { return StepTheme }
func (GenerateStep) Step() Step { return StepGenerate }

func (EmotionStep) isState()  {}
func (ThemeStep) isState()    {}
func (GenerateStep) isState() {}

// StatusName is the rendered name of a generation status.
type StatusName string

const (
	StatusLoading StatusName = "loading"
	StatusFailed  StatusName = "failed"
	StatusReady   StatusName = "ready"
)

// Status is the outcome of the current generation attempt: Loading, Failed or Ready.
type Status interface {
	Name() StatusName
	isStatus()
}

// Loading means an attempt is in flight.
type Loading struct{}

// Failed carries the message shown to the user and the failure kind.
type Failed struct {
	Message string
	Kind    gateway.Kind
}

// Ready carries the generated image URL.
type Ready struct {
	ImageURL string
}

func (Loading) Name() StatusName { return StatusLoading }
func (Failed) Name() StatusName  { return StatusFailed }
func (Ready) Name() StatusName   { return StatusReady }

func (Loading) isStatus() {}
func (Failed) isStatus()  {}
func (Ready) isStatus()   {}

// Snapshot is the render view of a session.
type Snapshot struct {
	ID         string     `json:"id,omitempty"`
	Step       Step       `json:"step"`
	Emotion    string     `json:"emotion,omitempty"`
	Theme      string     `json:"theme,omitempty"`
	Themes     []string   `json:"themes,omitempty"`
	Status     StatusName `json:"status,omitempty"`
	ImageURL   string     `json:"imageUrl,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorKind  string     `json:"errorKind,omitempty"`
	Generating bool       `json:"generating"`
}
