// Package bundled provides the production voice.Pipeline implementation
// backed by Google's Gemini Live API.
package bundled

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthware/go-hearth/internal/log"
	"github.com/hearthware/go-hearth/pkg/voice"
)

const (
	// Gemini Live API WebSocket endpoint
	geminiLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	handshakeTimeout = 10 * time.Second
)

// Gemini implements voice.Pipeline using Google's Gemini Live API.
// Gemini 2.0 Flash handles VAD, ASR, LLM, and TTS in a single
// full-duplex stream: 16kHz PCM16 in, 24kHz PCM16 out.
type Gemini struct {
	config voice.Config

	// WebSocket connection
	ws   *websocket.Conn
	wsMu sync.Mutex

	// Tools
	tools []voice.Tool

	// Session state
	mu        sync.RWMutex
	connected bool
	closed    bool
	cancel    context.CancelFunc

	// Metrics
	metrics *voice.MetricsCollector

	// Callbacks
	onAudioOut     func(pcm16 []byte)
	onToolCall     func(call voice.ToolCall)
	onTurnComplete func()
	onInterrupted  func()
	onError        func(err error)
}

// NewGemini creates a new Gemini Live pipeline.
func NewGemini(cfg voice.Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, voice.ErrMissingAPIKey
	}

	return &Gemini{
		config:  cfg,
		metrics: voice.NewMetricsCollector(),
	}, nil
}

// Start establishes the WebSocket connection and begins processing.
func (g *Gemini) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.connected {
		g.mu.Unlock()
		return voice.ErrAlreadyStarted
	}
	g.mu.Unlock()

	ctx, g.cancel = context.WithCancel(ctx)

	model := g.config.Model
	if model == "" {
		model = voice.DefaultConfig().Model
	}
	// Accept both "gemini-..." and "models/gemini-..."
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	url := fmt.Sprintf("%s?key=%s", geminiLiveURL, g.config.APIKey)

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		g.cancel()
		return fmt.Errorf("voice/gemini: failed to connect: %w", err)
	}

	g.mu.Lock()
	g.ws = ws
	g.connected = true
	g.closed = false
	g.mu.Unlock()

	if err := g.sendSetup(model); err != nil {
		g.Stop()
		return fmt.Errorf("voice/gemini: failed to configure session: %w", err)
	}

	go g.handleMessages()

	log.Debug("gemini live connected", "model", model)
	return nil
}

// sendSetup sends the initial configuration to Gemini Live.
func (g *Gemini) sendSetup(model string) error {
	var toolDeclarations []map[string]any
	for _, tool := range g.tools {
		toolDeclarations = append(toolDeclarations, map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"parameters":  tool.Parameters,
		})
	}

	voiceName := g.config.Voice
	if voiceName == "" {
		voiceName = "Puck"
	}

	setup := map[string]any{
		"setup": map[string]any{
			"model": model,
			"generation_config": map[string]any{
				"response_modalities": []string{"AUDIO"},
				"speech_config": map[string]any{
					"voice_config": map[string]any{
						"prebuilt_voice_config": map[string]any{
							"voice_name": voiceName,
						},
					},
				},
			},
			"system_instruction": map[string]any{
				"parts": []map[string]any{
					{"text": g.config.SystemPrompt},
				},
			},
		},
	}

	if len(toolDeclarations) > 0 {
		setup["setup"].(map[string]any)["tools"] = []map[string]any{
			{
				"function_declarations": toolDeclarations,
			},
		}
	}

	return g.sendJSON(setup)
}

// Stop shuts down the pipeline. Safe to call more than once.
func (g *Gemini) Stop() error {
	g.mu.Lock()
	wasClosed := g.closed
	g.closed = true
	g.connected = false
	ws := g.ws
	g.mu.Unlock()

	if wasClosed {
		return nil
	}

	if g.cancel != nil {
		g.cancel()
	}

	if ws != nil {
		return ws.Close()
	}
	return nil
}

// IsConnected returns true if connected and ready.
func (g *Gemini) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected && !g.closed
}

// SendAudio sends PCM16 audio to the pipeline.
// Gemini expects 16kHz mono PCM16 audio.
func (g *Gemini) SendAudio(pcm16 []byte) error {
	if !g.IsConnected() {
		return voice.ErrNotConnected
	}

	g.metrics.IncrementAudioIn()

	encoded := base64.StdEncoding.EncodeToString(pcm16)

	msg := map[string]any{
		"realtime_input": map[string]any{
			"media_chunks": []map[string]any{
				{
					"data":      encoded,
					"mime_type": "audio/pcm",
				},
			},
		},
	}

	return g.sendJSON(msg)
}

// OnAudioOut sets the callback for audio output.
func (g *Gemini) OnAudioOut(fn func(pcm16 []byte)) {
	g.onAudioOut = fn
}

// OnToolCall sets the callback for tool invocations.
func (g *Gemini) OnToolCall(fn func(call voice.ToolCall)) {
	g.onToolCall = fn
}

// OnTurnComplete sets the callback for model end-of-turn.
func (g *Gemini) OnTurnComplete(fn func()) {
	g.onTurnComplete = fn
}

// OnInterrupted sets the callback for barge-in interruptions.
func (g *Gemini) OnInterrupted(fn func()) {
	g.onInterrupted = fn
}

// OnError sets the error callback.
func (g *Gemini) OnError(fn func(err error)) {
	g.onError = fn
}

// RegisterTool adds a tool the model can invoke. Must be called before
// Start; Gemini only accepts tool declarations in the setup message.
func (g *Gemini) RegisterTool(tool voice.Tool) {
	g.tools = append(g.tools, tool)
}

// SubmitToolResult returns a tool result to the model.
func (g *Gemini) SubmitToolResult(res voice.ToolResult) error {
	msg := map[string]any{
		"tool_response": map[string]any{
			"function_responses": []map[string]any{
				{
					"id":   res.CallID,
					"name": res.Name,
					"response": map[string]any{
						"ok":     res.OK,
						"result": res.Detail,
					},
				},
			},
		},
	}

	return g.sendJSON(msg)
}

// Metrics returns current session counters.
func (g *Gemini) Metrics() voice.Metrics {
	return g.metrics.Current()
}

// handleMessages processes incoming WebSocket messages.
func (g *Gemini) handleMessages() {
	for {
		g.mu.RLock()
		closed := g.closed
		ws := g.ws
		g.mu.RUnlock()

		if closed {
			return
		}

		_, message, err := ws.ReadMessage()
		if err != nil {
			g.mu.RLock()
			closed := g.closed
			g.mu.RUnlock()

			if !closed && g.onError != nil {
				g.onError(fmt.Errorf("voice/gemini: read: %w", err))
			}
			return
		}

		var msg map[string]any
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug("gemini: failed to parse message", "err", err)
			continue
		}

		g.handleMessage(msg)
	}
}

// handleMessage processes a single Gemini Live message.
func (g *Gemini) handleMessage(msg map[string]any) {
	if _, ok := msg["setupComplete"]; ok {
		log.Debug("gemini live session ready")
		return
	}

	if serverContent, ok := msg["serverContent"].(map[string]any); ok {
		g.handleServerContent(serverContent)
		return
	}

	if toolCall, ok := msg["toolCall"].(map[string]any); ok {
		g.handleToolCall(toolCall)
		return
	}

	if _, ok := msg["toolCallCancellation"]; ok {
		// Model withdrew a pending call; any result we still submit for
		// it is discarded server-side.
		log.Debug("gemini: tool call cancelled")
		return
	}

	if g.config.Debug {
		log.Debug("gemini: unhandled message", "msg", msg)
	}
}

// handleServerContent processes audio and turn signals from Gemini.
func (g *Gemini) handleServerContent(content map[string]any) {
	if turnComplete, ok := content["turnComplete"].(bool); ok && turnComplete {
		g.metrics.MarkTurnDone()
		if g.onTurnComplete != nil {
			g.onTurnComplete()
		}
		return
	}

	if interrupted, ok := content["interrupted"].(bool); ok && interrupted {
		if g.onInterrupted != nil {
			g.onInterrupted()
		}
		return
	}

	modelTurn, ok := content["modelTurn"].(map[string]any)
	if !ok {
		return
	}
	parts, ok := modelTurn["parts"].([]any)
	if !ok {
		return
	}

	for _, part := range parts {
		partMap, ok := part.(map[string]any)
		if !ok {
			continue
		}

		if inlineData, ok := partMap["inlineData"].(map[string]any); ok {
			mimeType, _ := inlineData["mimeType"].(string)
			if !strings.HasPrefix(mimeType, "audio/pcm") {
				continue
			}
			data, ok := inlineData["data"].(string)
			if !ok {
				continue
			}
			audioData, err := base64.StdEncoding.DecodeString(data)
			if err != nil || len(audioData) == 0 {
				continue
			}
			g.metrics.MarkFirstAudio()
			g.metrics.IncrementAudioOut()
			if g.onAudioOut != nil {
				g.onAudioOut(audioData)
			}
		}

		if text, ok := partMap["text"].(string); ok {
			log.Debug("gemini text", "text", text)
		}
	}
}

// handleToolCall processes function calls from Gemini.
func (g *Gemini) handleToolCall(toolCall map[string]any) {
	functionCalls, ok := toolCall["functionCalls"].([]any)
	if !ok {
		return
	}

	for _, fc := range functionCalls {
		fcMap, ok := fc.(map[string]any)
		if !ok {
			continue
		}

		name, _ := fcMap["name"].(string)
		id, _ := fcMap["id"].(string)
		args, _ := fcMap["args"].(map[string]any)

		g.metrics.IncrementToolCall()
		log.Debug("gemini tool call", "name", name, "id", id)

		if g.onToolCall != nil {
			g.onToolCall(voice.ToolCall{
				ID:        id,
				Name:      name,
				Arguments: args,
			})
		} else if err := g.SubmitToolResult(voice.ToolResult{
			CallID: id,
			Name:   name,
			OK:     false,
			Detail: "no tool handler registered",
		}); err != nil && g.onError != nil {
			g.onError(err)
		}
	}
}

// sendJSON sends a JSON message over the WebSocket.
func (g *Gemini) sendJSON(v any) error {
	g.wsMu.Lock()
	defer g.wsMu.Unlock()

	if g.ws == nil {
		return voice.ErrNotConnected
	}

	return g.ws.WriteJSON(v)
}

// Ensure Gemini implements voice.Pipeline at compile time.
var _ voice.Pipeline = (*Gemini)(nil)

func init() {
	voice.Register(func(cfg voice.Config) (voice.Pipeline, error) {
		return NewGemini(cfg)
	})
}
