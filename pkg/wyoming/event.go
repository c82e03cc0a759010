// Package wyoming implements the framed audio-event protocol spoken by
// Home Assistant voice satellites. Each event on the wire is a single
// JSON header line followed by an optional binary payload:
//
//	{"type":"audio-chunk","data":{"rate":16000,...},"payload_length":640}\n
//	<640 payload bytes>
//
// A session is one audio-start, any number of audio-chunks, and one
// audio-stop. The reverse direction carries the same event shapes for
// returned audio.
package wyoming

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the type of Wyoming event.
type EventType string

const (
	// Client → server
	TypeDescribe   EventType = "describe"    // capability probe, acked with info
	TypeAudioStart EventType = "audio-start" // begin an audio stream
	TypeAudioChunk EventType = "audio-chunk" // PCM16 payload
	TypeAudioStop  EventType = "audio-stop"  // end an audio stream

	// Server → client
	TypeInfo  EventType = "info"
	TypeError EventType = "error"
)

// Event is the wire representation of a single Wyoming event.
// Payload is carried outside the JSON header.
type Event struct {
	Type          EventType       `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	PayloadLength int             `json:"payload_length,omitempty"`

	Payload []byte `json:"-"`
}

// AudioFormat describes a PCM16 stream.
type AudioFormat struct {
	Rate     int `json:"rate"`
	Width    int `json:"width"` // bytes per sample, always 2 for PCM16
	Channels int `json:"channels"`
}

// ErrorData is the data block of an error event.
type ErrorData struct {
	Text string `json:"text,omitempty"`
	Code string `json:"code,omitempty"`
}

// NewAudioStart builds an audio-start event.
func NewAudioStart(format AudioFormat) *Event {
	data, _ := json.Marshal(format)
	return &Event{Type: TypeAudioStart, Data: data}
}

// NewAudioChunk builds an audio-chunk event carrying pcm as payload.
func NewAudioChunk(format AudioFormat, pcm []byte) *Event {
	data, _ := json.Marshal(format)
	return &Event{
		Type:          TypeAudioChunk,
		Data:          data,
		PayloadLength: len(pcm),
		Payload:       pcm,
	}
}

// NewAudioStop builds an audio-stop event.
func NewAudioStop() *Event {
	return &Event{Type: TypeAudioStop}
}

// NewInfo builds an empty info event used to ack describe.
func NewInfo() *Event {
	return &Event{Type: TypeInfo, Data: json.RawMessage(`{}`)}
}

// NewError builds an error event with the given code and text.
func NewError(code, text string) *Event {
	data, _ := json.Marshal(ErrorData{Text: text, Code: code})
	return &Event{Type: TypeError, Data: data}
}

// AudioFormat parses the audio format from an audio-start or audio-chunk
// event. Missing fields fall back to 16kHz mono PCM16.
func (e *Event) AudioFormat() (AudioFormat, error) {
	format := AudioFormat{Rate: 16000, Width: 2, Channels: 1}
	if e.Type != TypeAudioStart && e.Type != TypeAudioChunk {
		return format, fmt.Errorf("wyoming: %s event has no audio format", e.Type)
	}
	if len(e.Data) == 0 {
		return format, nil
	}
	if err := json.Unmarshal(e.Data, &format); err != nil {
		return format, fmt.Errorf("wyoming: bad audio format: %w", err)
	}
	if format.Rate <= 0 {
		format.Rate = 16000
	}
	if format.Width <= 0 {
		format.Width = 2
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	return format, nil
}
