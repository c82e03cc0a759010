package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hearthware/go-hearth/pkg/voice"
	"github.com/hearthware/go-hearth/pkg/wyoming"
)

// fakePipeline is an in-process stand-in for the remote voice session.
type fakePipeline struct {
	mu        sync.Mutex
	connected bool
	stopped   bool
	startErr  error
	audio     [][]byte
	tools     []voice.Tool

	results chan voice.ToolResult

	onAudioOut     func([]byte)
	onToolCall     func(voice.ToolCall)
	onTurnComplete func()
	onInterrupted  func()
	onError        func(error)
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{results: make(chan voice.ToolResult, 8)}
}

func (f *fakePipeline) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.connected = true
	return nil
}

func (f *fakePipeline) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.stopped = true
	return nil
}

func (f *fakePipeline) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePipeline) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return voice.ErrNotConnected
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	f.audio = append(f.audio, cp)
	return nil
}

func (f *fakePipeline) OnAudioOut(fn func([]byte))         { f.mu.Lock(); f.onAudioOut = fn; f.mu.Unlock() }
func (f *fakePipeline) OnToolCall(fn func(voice.ToolCall)) { f.mu.Lock(); f.onToolCall = fn; f.mu.Unlock() }
func (f *fakePipeline) OnTurnComplete(fn func())           { f.mu.Lock(); f.onTurnComplete = fn; f.mu.Unlock() }
func (f *fakePipeline) OnInterrupted(fn func())            { f.mu.Lock(); f.onInterrupted = fn; f.mu.Unlock() }
func (f *fakePipeline) OnError(fn func(error))             { f.mu.Lock(); f.onError = fn; f.mu.Unlock() }

func (f *fakePipeline) RegisterTool(tool voice.Tool) {
	f.mu.Lock()
	f.tools = append(f.tools, tool)
	f.mu.Unlock()
}

func (f *fakePipeline) SubmitToolResult(res voice.ToolResult) error {
	f.results <- res
	return nil
}

func (f *fakePipeline) Metrics() voice.Metrics { return voice.Metrics{} }

func (f *fakePipeline) emitAudio(pcm []byte) {
	f.mu.Lock()
	fn := f.onAudioOut
	f.mu.Unlock()
	if fn != nil {
		fn(pcm)
	}
}

func (f *fakePipeline) emitToolCall(call voice.ToolCall) {
	f.mu.Lock()
	fn := f.onToolCall
	f.mu.Unlock()
	if fn != nil {
		fn(call)
	}
}

func (f *fakePipeline) emitTurnComplete() {
	f.mu.Lock()
	fn := f.onTurnComplete
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakePipeline) sentAudio() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.audio))
	copy(out, f.audio)
	return out
}

// fakeDispatcher records tool calls and returns canned success.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []voice.ToolCall
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, call voice.ToolCall) voice.ToolResult {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
	return voice.ToolResult{CallID: call.ID, Name: call.Name, OK: true, Detail: "ok"}
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type harness struct {
	t      *testing.T
	sess   *Session
	client *wyoming.Conn
	pipe   *fakePipeline
	disp   *fakeDispatcher
	runErr chan error
	events chan *wyoming.Event
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	pipe := newFakePipeline()
	disp := &fakeDispatcher{}

	cfg := Config{
		Voice: voice.Config{
			APIKey:           "test-key",
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
		},
		Pipeline: func(voice.Config) (voice.Pipeline, error) {
			return pipe, nil
		},
		Dispatcher:    disp,
		SilenceTail:   20 * time.Millisecond,
		DrainDeadline: 200 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		t:      t,
		sess:   New(serverConn, cfg),
		client: wyoming.NewConn(clientConn),
		pipe:   pipe,
		disp:   disp,
		runErr: make(chan error, 1),
		events: make(chan *wyoming.Event, 64),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.runErr <- h.sess.Run(ctx) }()
	go func() {
		defer close(h.events)
		for {
			ev, err := h.client.ReadEvent()
			if err != nil {
				return
			}
			h.events <- ev
		}
	}()

	t.Cleanup(func() {
		cancel()
		h.client.Close()
		select {
		case <-h.runErr:
		case <-time.After(2 * time.Second):
			t.Error("Session did not shut down")
		}
	})
	return h
}

func (h *harness) send(ev *wyoming.Event) {
	h.t.Helper()
	if err := h.client.WriteEvent(ev); err != nil {
		h.t.Fatalf("WriteEvent failed: %v", err)
	}
}

func (h *harness) nextEvent() *wyoming.Event {
	h.t.Helper()
	select {
	case ev, ok := <-h.events:
		if !ok {
			h.t.Fatal("Client connection closed while waiting for event")
		}
		return ev
	case <-time.After(2 * time.Second):
		h.t.Fatal("Timed out waiting for event")
	}
	return nil
}

func (h *harness) waitRun() error {
	h.t.Helper()
	select {
	case err := <-h.runErr:
		h.runErr <- err // keep Cleanup happy
		return err
	case <-time.After(3 * time.Second):
		h.t.Fatal("Session did not finish")
	}
	return nil
}

func (h *harness) waitState(want State) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.sess.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("Timed out waiting for state %s, still %s", want, h.sess.State())
}

func localFormat() wyoming.AudioFormat {
	return wyoming.AudioFormat{Rate: 16000, Width: 2, Channels: 1}
}

func pcmChunk(seed byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i%7)
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	chunks := [][]byte{pcmChunk(1, 320), pcmChunk(2, 320), pcmChunk(3, 320)}

	h.send(wyoming.NewAudioStart(localFormat()))
	for _, c := range chunks {
		h.send(wyoming.NewAudioChunk(localFormat(), c))
	}
	h.send(wyoming.NewAudioStop())

	// No remote turn-complete arrives; the drain deadline closes the
	// session cleanly.
	if err := h.waitRun(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if h.sess.State() != StateClosed {
		t.Errorf("Expected Closed, got %s", h.sess.State())
	}

	sent := h.pipe.sentAudio()
	if len(sent) < 4 {
		t.Fatalf("Expected 3 chunks plus silence tail, got %d sends", len(sent))
	}
	for i, want := range chunks {
		if string(sent[i]) != string(want) {
			t.Errorf("Chunk %d not relayed verbatim", i)
		}
	}
	// Everything after the user audio is injected silence.
	for i := 3; i < len(sent); i++ {
		for _, b := range sent[i] {
			if b != 0 {
				t.Fatalf("Send %d should be silence", i)
			}
		}
	}

	if got := h.sess.BytesIn(); got != 960 {
		t.Errorf("Expected 960 bytes in, got %d", got)
	}
	if !h.pipe.stopped {
		t.Error("Pipeline was not stopped")
	}
}

func TestSessionDescribeAck(t *testing.T) {
	h := newHarness(t, nil)

	h.send(&wyoming.Event{Type: wyoming.TypeDescribe})

	ev := h.nextEvent()
	if ev.Type != wyoming.TypeInfo {
		t.Errorf("Expected info ack, got %s", ev.Type)
	}
	if h.sess.State() != StateIdle {
		t.Errorf("Describe must not leave Idle, got %s", h.sess.State())
	}

	h.client.Close()
	if err := h.waitRun(); err != nil {
		t.Errorf("Expected clean close on EOF, got %v", err)
	}
}

func TestSessionRemoteAudioRelay(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.DrainDeadline = 5 * time.Second
	})

	h.send(wyoming.NewAudioStart(localFormat()))
	h.waitState(StateStreaming)

	// 480 samples at 24kHz resample down to 320 samples at 16kHz.
	h.pipe.emitAudio(pcmChunk(9, 960))

	ev := h.nextEvent()
	if ev.Type != wyoming.TypeAudioStart {
		t.Fatalf("Expected audio-start, got %s", ev.Type)
	}
	format, err := ev.AudioFormat()
	if err != nil {
		t.Fatalf("AudioFormat failed: %v", err)
	}
	if format.Rate != 16000 {
		t.Errorf("Expected 16kHz output, got %d", format.Rate)
	}

	ev = h.nextEvent()
	if ev.Type != wyoming.TypeAudioChunk {
		t.Fatalf("Expected audio-chunk, got %s", ev.Type)
	}
	if len(ev.Payload) != 640 {
		t.Errorf("Expected 640 bytes after resample, got %d", len(ev.Payload))
	}

	h.pipe.emitTurnComplete()
	ev = h.nextEvent()
	if ev.Type != wyoming.TypeAudioStop {
		t.Fatalf("Expected audio-stop, got %s", ev.Type)
	}

	if got := h.sess.BytesOut(); got != 640 {
		t.Errorf("Expected 640 bytes out, got %d", got)
	}

	// End the user turn; the remote end-of-turn closes the session
	// before the 5s drain deadline.
	h.send(wyoming.NewAudioStop())
	h.waitState(StateDraining)
	start := time.Now()
	h.pipe.emitTurnComplete()
	if err := h.waitRun(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Turn-complete should end draining promptly, took %s", elapsed)
	}
}

func TestSessionToolCallRoundTrip(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.DrainDeadline = 5 * time.Second
	})

	h.send(wyoming.NewAudioStart(localFormat()))
	h.waitState(StateStreaming)

	h.pipe.emitToolCall(voice.ToolCall{
		ID:   "call-42",
		Name: "control_home_assistant",
		Arguments: map[string]any{
			"domain": "light", "service": "turn_on", "entity_id": "light.kitchen",
		},
	})

	select {
	case res := <-h.pipe.results:
		if res.CallID != "call-42" {
			t.Errorf("Result call ID mismatch: %q", res.CallID)
		}
		if !res.OK {
			t.Errorf("Expected success, got %q", res.Detail)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Tool result never reached the pipeline")
	}

	if got := h.disp.callCount(); got != 1 {
		t.Errorf("Expected 1 dispatch, got %d", got)
	}
}

func TestSessionRegistersControlTool(t *testing.T) {
	h := newHarness(t, nil)

	h.send(wyoming.NewAudioStart(localFormat()))
	h.waitState(StateStreaming)

	h.pipe.mu.Lock()
	tools := h.pipe.tools
	h.pipe.mu.Unlock()

	if len(tools) != 1 || tools[0].Name != "control_home_assistant" {
		t.Fatalf("Expected the control tool registered, got %v", tools)
	}
}

func TestSessionBargeIn(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.DrainDeadline = 5 * time.Second
	})

	h.send(wyoming.NewAudioStart(localFormat()))
	h.waitState(StateStreaming)

	h.pipe.emitAudio(pcmChunk(5, 960))
	if ev := h.nextEvent(); ev.Type != wyoming.TypeAudioStart {
		t.Fatalf("Expected audio-start, got %s", ev.Type)
	}
	if ev := h.nextEvent(); ev.Type != wyoming.TypeAudioChunk {
		t.Fatalf("Expected audio-chunk, got %s", ev.Type)
	}

	// The user starts a new turn while the model is speaking: the output
	// stream closes and further model audio is suppressed.
	h.send(wyoming.NewAudioStart(localFormat()))
	if ev := h.nextEvent(); ev.Type != wyoming.TypeAudioStop {
		t.Fatalf("Expected audio-stop on barge-in, got %s", ev.Type)
	}

	before := h.sess.BytesOut()
	h.pipe.emitAudio(pcmChunk(6, 960))
	time.Sleep(50 * time.Millisecond)
	if got := h.sess.BytesOut(); got != before {
		t.Errorf("Suppressed audio was still relayed: %d -> %d", before, got)
	}
}

func TestSessionChunkBeforeStart(t *testing.T) {
	h := newHarness(t, nil)

	h.send(wyoming.NewAudioChunk(localFormat(), pcmChunk(1, 320)))

	ev := h.nextEvent()
	if ev.Type != wyoming.TypeError {
		t.Fatalf("Expected error event, got %s", ev.Type)
	}

	err := h.waitRun()
	if !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("Expected protocol violation, got %v", err)
	}
	if h.sess.State() != StateClosed {
		t.Errorf("Expected Closed, got %s", h.sess.State())
	}
}

func TestSessionDoubleStop(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.DrainDeadline = 5 * time.Second
	})

	h.send(wyoming.NewAudioStart(localFormat()))
	h.waitState(StateStreaming)
	h.send(wyoming.NewAudioStop())
	h.waitState(StateDraining)
	h.send(wyoming.NewAudioStop())

	err := h.waitRun()
	if !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("Expected protocol violation, got %v", err)
	}
}

func TestSessionConnectFailure(t *testing.T) {
	dialErr := errors.New("dial failed")
	h := newHarness(t, func(cfg *Config) {
		cfg.Pipeline = func(voice.Config) (voice.Pipeline, error) {
			return nil, dialErr
		}
	})

	h.send(wyoming.NewAudioStart(localFormat()))

	ev := h.nextEvent()
	if ev.Type != wyoming.TypeError {
		t.Fatalf("Expected error event, got %s", ev.Type)
	}

	err := h.waitRun()
	if !errors.Is(err, dialErr) {
		t.Errorf("Expected dial failure, got %v", err)
	}
}

func TestSessionStopBeforeConnected(t *testing.T) {
	// The user's whole turn can land while the remote handshake is still
	// in flight; buffered audio flushes in order, then draining begins.
	release := make(chan struct{})
	pipe := newFakePipeline()
	h := newHarness(t, func(cfg *Config) {
		cfg.Pipeline = func(voice.Config) (voice.Pipeline, error) {
			<-release
			return pipe, nil
		}
	})
	h.pipe = pipe

	h.send(wyoming.NewAudioStart(localFormat()))
	h.send(wyoming.NewAudioChunk(localFormat(), pcmChunk(1, 320)))
	h.send(wyoming.NewAudioChunk(localFormat(), pcmChunk(2, 320)))
	h.send(wyoming.NewAudioStop())

	close(release)

	if err := h.waitRun(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	sent := pipe.sentAudio()
	if len(sent) < 3 {
		t.Fatalf("Expected buffered chunks plus silence, got %d sends", len(sent))
	}
	if string(sent[0]) != string(pcmChunk(1, 320)) || string(sent[1]) != string(pcmChunk(2, 320)) {
		t.Error("Buffered chunks not flushed in order")
	}
}

func TestSessionInputResampled(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.DrainDeadline = 5 * time.Second
	})

	format := wyoming.AudioFormat{Rate: 24000, Width: 2, Channels: 1}
	h.send(wyoming.NewAudioStart(format))
	h.waitState(StateStreaming)
	h.send(wyoming.NewAudioChunk(format, pcmChunk(1, 960)))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.pipe.sentAudio()) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	sent := h.pipe.sentAudio()
	if len(sent) == 0 {
		t.Fatal("Chunk never reached the pipeline")
	}
	// 480 samples at 24kHz arrive as 320 samples at the 16kHz input rate.
	if len(sent[0]) != 640 {
		t.Errorf("Expected 640 bytes after input resample, got %d", len(sent[0]))
	}
}
