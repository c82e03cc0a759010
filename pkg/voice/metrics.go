package voice

import (
	"sync"
	"time"
)

// Metrics tracks per-session counters and first-audio latency.
type Metrics struct {
	AudioChunksIn  int // chunks sent to the model
	AudioChunksOut int // chunks received from the model
	ToolCalls      int // tool invocations received
	Turns          int // completed model turns

	FirstAudioLatency time.Duration // turn start to first audio chunk
}

// MetricsCollector is a goroutine-safe accumulator used from pipeline
// callbacks.
type MetricsCollector struct {
	mu        sync.Mutex
	current   Metrics
	turnStart time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// MarkTurnStart records the reference point for first-audio latency.
// Called when the user's turn ends.
func (m *MetricsCollector) MarkTurnStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turnStart = time.Now()
	m.current.FirstAudioLatency = 0
}

// MarkFirstAudio records when the first audio chunk of a turn arrived.
func (m *MetricsCollector) MarkFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.FirstAudioLatency == 0 && !m.turnStart.IsZero() {
		m.current.FirstAudioLatency = time.Since(m.turnStart)
	}
}

// MarkTurnDone counts a completed model turn.
func (m *MetricsCollector) MarkTurnDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Turns++
	m.turnStart = time.Time{}
}

// IncrementAudioIn counts a chunk sent to the model.
func (m *MetricsCollector) IncrementAudioIn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AudioChunksIn++
}

// IncrementAudioOut counts a chunk received from the model.
func (m *MetricsCollector) IncrementAudioOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AudioChunksOut++
}

// IncrementToolCall counts a tool invocation.
func (m *MetricsCollector) IncrementToolCall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ToolCalls++
}

// Current returns the current metrics snapshot.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
