package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hearthware/go-hearth/internal/log"
)

// Stats are process-wide relay counters exposed by the status server.
type Stats struct {
	ActiveSessions int   `json:"active_sessions"`
	SessionsTotal  int64 `json:"sessions_total"`
	BytesIn        int64 `json:"audio_bytes_in"`
	BytesOut       int64 `json:"audio_bytes_out"`
}

// Info is a point-in-time view of one session for the status API.
type Info struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	BytesIn   int64     `json:"audio_bytes_in"`
	BytesOut  int64     `json:"audio_bytes_out"`
	StartedAt time.Time `json:"started_at"`
}

// Engine accepts local connections and runs one Session per connection.
// Sessions are fully independent; the engine only tracks them for
// shutdown and stats.
type Engine struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup

	sessionsTotal atomic.Int64
	closedIn      atomic.Int64
	closedOut     atomic.Int64
}

// NewEngine creates an engine with the given shared session config.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Serve accepts connections until the listener closes or the context is
// cancelled, then waits for all sessions to finish.
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			log.Warn("accept failed", "err", err)
			continue
		}

		sess := New(conn, e.cfg)
		e.track(sess)

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer e.untrack(sess)

			log.Info("session opened", "session", sess.ID, "peer", conn.RemoteAddr())
			if err := sess.Run(ctx); err != nil {
				log.Error("session ended", "session", sess.ID, "err", err)
			} else {
				log.Info("session closed", "session", sess.ID)
			}
		}()
	}

	e.wg.Wait()
	return nil
}

// Stats returns aggregate relay counters, live sessions included.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{
		ActiveSessions: len(e.sessions),
		SessionsTotal:  e.sessionsTotal.Load(),
		BytesIn:        e.closedIn.Load(),
		BytesOut:       e.closedOut.Load(),
	}
	for _, s := range e.sessions {
		stats.BytesIn += s.BytesIn()
		stats.BytesOut += s.BytesOut()
	}
	return stats
}

// Snapshot lists the active sessions.
func (e *Engine) Snapshot() []Info {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos := make([]Info, 0, len(e.sessions))
	for _, s := range e.sessions {
		infos = append(infos, Info{
			ID:        s.ID,
			State:     s.State().String(),
			BytesIn:   s.BytesIn(),
			BytesOut:  s.BytesOut(),
			StartedAt: s.StartedAt(),
		})
	}
	return infos
}

func (e *Engine) track(s *Session) {
	e.sessionsTotal.Add(1)
	e.mu.Lock()
	e.sessions[s.ID] = s
	e.mu.Unlock()
}

func (e *Engine) untrack(s *Session) {
	e.closedIn.Add(s.BytesIn())
	e.closedOut.Add(s.BytesOut())
	e.mu.Lock()
	delete(e.sessions, s.ID)
	e.mu.Unlock()
}
