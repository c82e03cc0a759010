package wyoming

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// maxPayloadBytes bounds a single event payload. A satellite streaming
// 16kHz PCM16 sends ~32KB/s, so anything near this limit is a framing
// error, not audio.
const maxPayloadBytes = 1 << 20

// Sentinel errors for the wyoming package.
var (
	// ErrClosed indicates a read or write on a closed connection.
	ErrClosed = errors.New("wyoming: connection closed")

	// ErrPayloadTooLarge indicates an event payload over the wire limit.
	ErrPayloadTooLarge = errors.New("wyoming: payload too large")
)

// Conn frames and unframes Wyoming events over a net.Conn.
// ReadEvent must be called from a single goroutine; WriteEvent is safe
// for concurrent use. Writes block on the underlying socket, so
// back-pressure propagates to the caller.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader

	wmu    sync.Mutex
	bw     *bufio.Writer
	closed bool

	rmu sync.Mutex
}

// NewConn wraps an accepted connection.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
	}
}

// ReadEvent reads the next event from the connection. It returns io.EOF
// when the peer closes cleanly and ErrClosed after Close.
func (c *Conn) ReadEvent() (*Event, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	line, err := c.br.ReadBytes('\n')
	if err != nil {
		if c.isClosed() {
			return nil, ErrClosed
		}
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wyoming: read header: %w", err)
	}

	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("wyoming: bad header %q: %w", truncate(line, 120), err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("wyoming: header missing type: %q", truncate(line, 120))
	}

	if ev.PayloadLength < 0 || ev.PayloadLength > maxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, ev.PayloadLength)
	}
	if ev.PayloadLength > 0 {
		ev.Payload = make([]byte, ev.PayloadLength)
		if _, err := io.ReadFull(c.br, ev.Payload); err != nil {
			if c.isClosed() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("wyoming: read payload: %w", err)
		}
	}

	return &ev, nil
}

// WriteEvent writes a single event. It fails with ErrClosed after the
// connection has been closed.
func (c *Conn) WriteEvent(ev *Event) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closed {
		return ErrClosed
	}

	// Header always reflects the actual payload length.
	header := *ev
	header.PayloadLength = len(ev.Payload)

	line, err := json.Marshal(&header)
	if err != nil {
		return fmt.Errorf("wyoming: encode header: %w", err)
	}

	if _, err := c.bw.Write(line); err != nil {
		return fmt.Errorf("wyoming: write header: %w", err)
	}
	if err := c.bw.WriteByte('\n'); err != nil {
		return fmt.Errorf("wyoming: write header: %w", err)
	}
	if len(ev.Payload) > 0 {
		if _, err := c.bw.Write(ev.Payload); err != nil {
			return fmt.Errorf("wyoming: write payload: %w", err)
		}
	}
	if err := c.bw.Flush(); err != nil {
		return fmt.Errorf("wyoming: flush: %w", err)
	}
	return nil
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Conn) Close() error {
	c.wmu.Lock()
	if c.closed {
		c.wmu.Unlock()
		return nil
	}
	c.closed = true
	c.wmu.Unlock()

	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) isClosed() bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.closed
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
