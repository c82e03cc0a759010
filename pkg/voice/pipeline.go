// Package voice abstracts the remote full-duplex speech pipeline behind
// a small interface. The bundled implementation speaks the Gemini Live
// wire protocol; tests substitute a fake.
package voice

import (
	"context"
	"errors"
)

// Common errors returned by pipelines.
var (
	ErrNotConnected   = errors.New("voice: pipeline not connected")
	ErrAlreadyStarted = errors.New("voice: pipeline already started")
	ErrMissingAPIKey  = errors.New("voice: missing API key")
)

// Pipeline is one bidirectional streaming session with the remote voice
// model. A pipeline serves exactly one local connection; its lifecycle
// is owned by the session engine.
type Pipeline interface {
	// Start establishes the connection and begins processing.
	// Call this after registering tools and setting up callbacks.
	Start(ctx context.Context) error

	// Stop shuts the pipeline down. Safe to call more than once.
	Stop() error

	// IsConnected returns true if the pipeline is connected and ready.
	IsConnected() bool

	// SendAudio sends PCM16 mono audio at the configured input rate.
	SendAudio(pcm16 []byte) error

	// OnAudioOut sets the callback for model audio. Audio is PCM16 mono
	// at the model's native output rate (24kHz for Gemini).
	OnAudioOut(fn func(pcm16 []byte))

	// OnToolCall sets the callback for tool invocations. Every call must
	// be answered with SubmitToolResult bearing the same call ID.
	OnToolCall(fn func(call ToolCall))

	// OnTurnComplete is called when the model finishes a response turn.
	OnTurnComplete(fn func())

	// OnInterrupted is called when the model's response was cut off by
	// user speech.
	OnInterrupted(fn func())

	// OnError is called on transport or protocol errors. The pipeline is
	// unusable afterwards.
	OnError(fn func(err error))

	// RegisterTool declares a tool before Start.
	RegisterTool(tool Tool)

	// SubmitToolResult returns a tool call result to the model.
	// Results may be submitted in any order; correlation is by call ID.
	SubmitToolResult(res ToolResult) error

	// Metrics returns counters for the session so far.
	Metrics() Metrics
}

// Factory creates a Pipeline from a config. The session engine takes a
// Factory so tests can inject fakes.
type Factory func(cfg Config) (Pipeline, error)

var factory Factory

// Register sets the pipeline factory. Called by the bundled Gemini
// implementation in init().
func Register(f Factory) {
	factory = f
}

// New creates a new Pipeline with the given configuration.
func New(cfg Config) (Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, errors.New("voice: no pipeline implementation registered")
	}
	return factory(cfg)
}
