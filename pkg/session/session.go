package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hearthware/go-hearth/internal/log"
	"github.com/hearthware/go-hearth/pkg/audio"
	"github.com/hearthware/go-hearth/pkg/curate"
	"github.com/hearthware/go-hearth/pkg/dispatch"
	"github.com/hearthware/go-hearth/pkg/hass"
	"github.com/hearthware/go-hearth/pkg/voice"
	"github.com/hearthware/go-hearth/pkg/wyoming"
)

// Sentinel errors for the session package.
var (
	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("session: closed")

	// ErrProtocolViolation indicates a malformed local event sequence,
	// e.g. an audio chunk before audio-start.
	ErrProtocolViolation = errors.New("session: protocol violation")
)

// Session is one full-duplex relay between a local satellite connection
// and a remote voice session. Only the session's own run loop mutates
// it; there is no cross-session shared state.
type Session struct {
	ID string

	cfg   Config
	local *wyoming.Conn

	ctx    context.Context
	cancel context.CancelFunc

	events chan event
	done   chan struct{}

	// Readable from other goroutines (status server).
	state     atomic.Int32
	bytesIn   atomic.Int64
	bytesOut  atomic.Int64
	startedAt time.Time

	// Owned by the run loop.
	pipeline    voice.Pipeline
	localFormat wyoming.AudioFormat
	stopSeen    bool
	outputOpen  bool
	suppress    bool
	pending     [][]byte
	drainTimer  *time.Timer
	graceC      <-chan time.Time
	closeErr    error

	sem       chan struct{}
	closeOnce sync.Once
}

// New wraps an accepted local connection in a Session. Call Run to
// drive it.
func New(conn net.Conn, cfg Config) *Session {
	return &Session{
		ID:        uuid.NewString(),
		cfg:       cfg.withDefaults(),
		local:     wyoming.NewConn(conn),
		events:    make(chan event, 256),
		done:      make(chan struct{}),
		sem:       make(chan struct{}, maxConcurrentDispatches),
		startedAt: time.Now(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// BytesIn returns local→remote relayed audio bytes.
func (s *Session) BytesIn() int64 { return s.bytesIn.Load() }

// BytesOut returns remote→local relayed audio bytes.
func (s *Session) BytesOut() int64 { return s.bytesOut.Load() }

// StartedAt returns when the local connection was accepted.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Run drives the session until both legs are closed. It returns the
// terminal error, or nil for a clean shutdown. The context cancels the
// session and any in-flight home-automation calls it initiated.
func (s *Session) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	go s.readLocal()

	for s.State() != StateClosed {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.graceC:
			// Grace period expired with no end-of-turn from the remote.
			log.Debug("session drain deadline reached", "session", s.ID)
			s.close(nil)
		case <-s.ctx.Done():
			s.close(s.ctx.Err())
		}
	}

	<-s.done
	if errors.Is(s.closeErr, io.EOF) || errors.Is(s.closeErr, context.Canceled) {
		return nil
	}
	return s.closeErr
}

// readLocal pumps local events into the session channel. It is the only
// reader of the local connection.
func (s *Session) readLocal() {
	for {
		ev, err := s.local.ReadEvent()
		if err != nil {
			s.push(event{kind: evLocalError, err: err})
			return
		}

		switch ev.Type {
		case wyoming.TypeDescribe:
			s.push(event{kind: evLocalDescribe})
		case wyoming.TypeAudioStart:
			format, _ := ev.AudioFormat()
			s.push(event{kind: evLocalStart, format: format})
		case wyoming.TypeAudioChunk:
			format, _ := ev.AudioFormat()
			s.push(event{kind: evLocalChunk, format: format, pcm: ev.Payload})
		case wyoming.TypeAudioStop:
			s.push(event{kind: evLocalStop})
		default:
			s.push(event{kind: evLocalError,
				err: fmt.Errorf("%w: unexpected %s event", ErrProtocolViolation, ev.Type)})
			return
		}
	}
}

// push delivers an event to the run loop without blocking past close.
func (s *Session) push(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) handle(ev event) {
	switch ev.kind {
	case evLocalDescribe:
		// Ack capability probes so satellites proceed to streaming.
		if err := s.local.WriteEvent(wyoming.NewInfo()); err != nil {
			s.close(err)
		}

	case evLocalStart:
		s.handleLocalStart(ev.format)

	case evLocalChunk:
		s.handleLocalChunk(ev.pcm, ev.format)

	case evLocalStop:
		s.handleLocalStop()

	case evLocalError:
		// Terminal for this session only.
		s.close(ev.err)

	case evConnected:
		s.handleConnected()

	case evConnectError:
		s.close(fmt.Errorf("session: connect: %w", ev.err))

	case evRemoteAudio:
		s.handleRemoteAudio(ev.pcm)

	case evToolCall:
		s.handleToolCall(ev.call)

	case evToolResult:
		s.handleToolResult(ev.result)

	case evInterrupted:
		// User spoke over the model: stop forwarding the rest of this
		// model turn and close the local output stream.
		s.suppress = true
		s.closeLocalOutput()

	case evTurnComplete:
		s.suppress = false
		s.closeLocalOutput()
		if s.State() == StateDraining {
			s.close(nil)
		}

	case evRemoteError:
		s.close(fmt.Errorf("session: remote: %w", ev.err))
	}
}

func (s *Session) handleLocalStart(format wyoming.AudioFormat) {
	switch s.State() {
	case StateIdle:
		s.localFormat = format
		s.setState(StateConnecting)
		go s.connect()
	case StateStreaming:
		// A new user turn while the model is speaking: barge in and drop
		// the remainder of the model's audio.
		s.suppress = true
		s.closeLocalOutput()
	default:
		s.close(fmt.Errorf("%w: audio-start in state %s", ErrProtocolViolation, s.State()))
	}
}

func (s *Session) handleLocalChunk(pcm []byte, format wyoming.AudioFormat) {
	switch s.State() {
	case StateIdle:
		s.close(fmt.Errorf("%w: audio-chunk before audio-start", ErrProtocolViolation))
	case StateConnecting:
		// Handshake still in flight; keep a bounded backlog.
		if len(s.pending) >= maxPendingChunks {
			s.pending = s.pending[1:]
		}
		s.pending = append(s.pending, s.toRemote(pcm, format))
	case StateStreaming:
		s.suppress = false // user is speaking again
		s.sendRemote(s.toRemote(pcm, format))
	default:
		// Draining or closed: local audio-in relay has stopped.
	}
}

func (s *Session) handleLocalStop() {
	switch s.State() {
	case StateConnecting:
		// Turn ended before the handshake finished; drain right after
		// the backlog is flushed.
		s.stopSeen = true
	case StateStreaming:
		s.startDraining()
	default:
		s.close(fmt.Errorf("%w: audio-stop in state %s", ErrProtocolViolation, s.State()))
	}
}

func (s *Session) handleConnected() {
	if s.State() != StateConnecting {
		return
	}
	s.setState(StateStreaming)

	// Flush audio buffered during the handshake, in arrival order.
	for _, pcm := range s.pending {
		s.sendRemote(pcm)
	}
	s.pending = nil

	if s.stopSeen {
		s.startDraining()
	}
}

func (s *Session) handleRemoteAudio(pcm []byte) {
	state := s.State()
	if state != StateStreaming && state != StateDraining {
		return
	}
	if s.suppress {
		return
	}

	out := audio.ResampleBytes(pcm, s.cfg.Voice.OutputSampleRate, s.cfg.OutputSampleRate, 1)
	format := wyoming.AudioFormat{Rate: s.cfg.OutputSampleRate, Width: 2, Channels: 1}

	if !s.outputOpen {
		if err := s.local.WriteEvent(wyoming.NewAudioStart(format)); err != nil {
			s.close(err)
			return
		}
		s.outputOpen = true
	}
	if err := s.local.WriteEvent(wyoming.NewAudioChunk(format, out)); err != nil {
		s.close(err)
		return
	}
	s.bytesOut.Add(int64(len(out)))
}

func (s *Session) handleToolCall(call voice.ToolCall) {
	state := s.State()
	if state != StateStreaming && state != StateDraining {
		return
	}

	// Dispatch concurrently so a slow home-automation call never blocks
	// audio relay or other tool calls; results correlate by call ID.
	go func() {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-s.ctx.Done():
			return
		}
		res := s.cfg.Dispatcher.Dispatch(s.ctx, call)
		s.push(event{kind: evToolResult, result: res})
	}()
}

func (s *Session) handleToolResult(res voice.ToolResult) {
	if s.pipeline == nil || s.State() == StateClosed {
		return
	}
	if !res.OK {
		log.Warn("tool call failed", "session", s.ID, "call", res.CallID, "reason", res.Detail)
	}
	if err := s.pipeline.SubmitToolResult(res); err != nil {
		// The remote leg is gone; the read side will surface the error.
		log.Debug("session: submit tool result", "session", s.ID, "err", err)
	}
}

// connect runs context curation and the remote handshake off the loop.
func (s *Session) connect() {
	prompt, err := s.buildPrompt()
	if err != nil {
		s.push(event{kind: evConnectError, err: err})
		return
	}

	cfg := s.cfg.Voice.WithSystemPrompt(prompt)
	pipeline, err := s.cfg.Pipeline(cfg)
	if err != nil {
		s.push(event{kind: evConnectError, err: err})
		return
	}

	pipeline.RegisterTool(dispatch.ControlTool())
	pipeline.OnAudioOut(func(pcm []byte) {
		s.push(event{kind: evRemoteAudio, pcm: pcm})
	})
	pipeline.OnToolCall(func(call voice.ToolCall) {
		s.push(event{kind: evToolCall, call: call})
	})
	pipeline.OnTurnComplete(func() {
		s.push(event{kind: evTurnComplete})
	})
	pipeline.OnInterrupted(func() {
		s.push(event{kind: evInterrupted})
	})
	pipeline.OnError(func(err error) {
		s.push(event{kind: evRemoteError, err: err})
	})

	if err := pipeline.Start(s.ctx); err != nil {
		s.push(event{kind: evConnectError, err: err})
		return
	}

	s.pipeline = pipeline
	s.push(event{kind: evConnected})
}

// buildPrompt fetches a fresh inventory snapshot and curates it. A
// fetch failure degrades to a placeholder context; a rejected credential
// aborts the session.
func (s *Session) buildPrompt() (string, error) {
	lines := curate.FallbackLines()
	if s.cfg.Inventory != nil {
		ctx, cancel := context.WithTimeout(s.ctx, DefaultFetchTimeout)
		entities, err := s.cfg.Inventory.States(ctx)
		cancel()
		switch {
		case errors.Is(err, hass.ErrUnauthorized):
			return "", err
		case err != nil:
			log.Warn("failed to fetch entity inventory", "session", s.ID, "err", err)
		default:
			curated := curate.Filter(entities, s.cfg.Policy, s.cfg.MaxContextEntities)
			lines = curate.ContextLines(curated)
		}
	}
	return curate.SystemPrompt(lines), nil
}

// startDraining stops the local→remote relay, injects the silence tail
// so the remote VAD closes the turn, and arms the grace timer.
func (s *Session) startDraining() {
	s.setState(StateDraining)

	for _, chunk := range audio.SilenceChunks(
		int(s.cfg.SilenceTail/time.Millisecond),
		s.cfg.Voice.InputSampleRate,
		silenceChunkSamples,
	) {
		if err := s.pipeline.SendAudio(chunk); err != nil {
			s.close(err)
			return
		}
	}

	s.drainTimer = time.NewTimer(s.cfg.DrainDeadline)
	s.graceC = s.drainTimer.C
}

// toRemote converts a local chunk to the remote input format.
func (s *Session) toRemote(pcm []byte, format wyoming.AudioFormat) []byte {
	rate := format.Rate
	if rate <= 0 {
		rate = s.localFormat.Rate
	}
	return audio.ResampleBytes(pcm, rate, s.cfg.Voice.InputSampleRate, format.Channels)
}

func (s *Session) sendRemote(pcm []byte) {
	if err := s.pipeline.SendAudio(pcm); err != nil {
		s.close(err)
		return
	}
	s.bytesIn.Add(int64(len(pcm)))
}

func (s *Session) closeLocalOutput() {
	if !s.outputOpen {
		return
	}
	s.outputOpen = false
	if err := s.local.WriteEvent(wyoming.NewAudioStop()); err != nil {
		s.close(err)
	}
}

// close releases both legs exactly once. err == nil is a clean close.
func (s *Session) close(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err

		if s.drainTimer != nil {
			s.drainTimer.Stop()
		}

		// Tell the satellite why it is being dropped, best effort.
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, wyoming.ErrClosed) {
			code := "error"
			if errors.Is(err, ErrProtocolViolation) {
				code = "protocol-violation"
			}
			_ = s.local.WriteEvent(wyoming.NewError(code, err.Error()))
		}
		if s.outputOpen {
			s.outputOpen = false
			_ = s.local.WriteEvent(wyoming.NewAudioStop())
		}

		if s.pipeline != nil {
			_ = s.pipeline.Stop()
		}
		_ = s.local.Close()

		s.setState(StateClosed)
		s.cancel()
		close(s.done)
	})
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
	log.Debug("session state", "session", s.ID, "state", state.String())
	if s.cfg.OnEvent != nil {
		n := Notification{SessionID: s.ID, State: state.String()}
		if state == StateClosed && s.closeErr != nil && !errors.Is(s.closeErr, io.EOF) {
			n.Err = s.closeErr.Error()
		}
		s.cfg.OnEvent(n)
	}
}
