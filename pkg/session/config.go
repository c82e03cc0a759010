package session

import (
	"context"
	"time"

	"github.com/hearthware/go-hearth/pkg/hass"
	"github.com/hearthware/go-hearth/pkg/policy"
	"github.com/hearthware/go-hearth/pkg/voice"
)

// Defaults for streaming behavior.
const (
	DefaultSilenceTail   = 600 * time.Millisecond
	DefaultDrainDeadline = 5 * time.Second
	DefaultFetchTimeout  = 5 * time.Second

	// silenceChunkSamples is the chunk size used for injected silence.
	silenceChunkSamples = 1024

	// maxPendingChunks bounds audio buffered while the remote handshake
	// is in flight. Oldest chunks are dropped to keep latency low.
	maxPendingChunks = 50

	// maxConcurrentDispatches bounds in-flight tool calls per session so
	// a slow home-automation call cannot starve the HTTP pool.
	maxConcurrentDispatches = 4
)

// Inventory fetches the entity snapshot used for context curation.
// *hass.Client satisfies it.
type Inventory interface {
	States(ctx context.Context) ([]hass.Entity, error)
}

// Notification describes a session lifecycle change, delivered to the
// engine's OnEvent hook (used by the status server).
type Notification struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Err       string `json:"error,omitempty"`
}

// Config holds everything a session needs beyond its two connections.
// It is shared read-only across sessions.
type Config struct {
	// Voice is the base remote-session config; the per-session system
	// prompt is filled in during Connecting.
	Voice voice.Config

	// Pipeline creates the remote session client. Defaults to voice.New.
	Pipeline voice.Factory

	// Inventory and Invoker are both satisfied by *hass.Client.
	Inventory Inventory

	// Dispatcher executes tool calls. Required.
	Dispatcher Dispatcher

	// Policy filters the curated context.
	Policy *policy.Policy

	// MaxContextEntities truncates the curated inventory.
	MaxContextEntities int

	// OutputSampleRate is the local leg's PCM16 rate (default 16000).
	OutputSampleRate int

	// SilenceTail is the silence injected after local stop so the remote
	// VAD closes the turn.
	SilenceTail time.Duration

	// DrainDeadline bounds StateDraining when the remote never signals
	// end of turn.
	DrainDeadline time.Duration

	// OnEvent, when set, receives lifecycle notifications.
	OnEvent func(Notification)
}

// Dispatcher is the tool-call execution boundary.
// *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, call voice.ToolCall) voice.ToolResult
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Pipeline == nil {
		out.Pipeline = voice.New
	}
	if out.OutputSampleRate <= 0 {
		out.OutputSampleRate = 16000
	}
	if out.SilenceTail <= 0 {
		out.SilenceTail = DefaultSilenceTail
	}
	if out.DrainDeadline <= 0 {
		out.DrainDeadline = DefaultDrainDeadline
	}
	if out.Policy == nil {
		out.Policy = &policy.Policy{}
	}
	return out
}
