// Package socket provides the connection machinery shared by the webcam
// server and viewer: a framed-message Connection with one reader
// goroutine and serialized writes, a per-kind handler registry, a server
// accept loop, and a client dialer.
package socket

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"

	"github.com/karlrwjohnson/camstream/lib/wire"
)

var (
	// ErrConnClosed is returned by Send once the connection has started
	// closing. No I/O is attempted after that point.
	ErrConnClosed = errors.New("connection is closed")
)

// Connection lifecycle states. Transitions are one-way:
// open -> closing -> closed.
const (
	stateOpen int32 = iota
	stateClosing
	stateClosed
)

// Conn is one TCP peer. It owns the reader goroutine that decodes
// inbound messages and dispatches them through the handler registry, and
// it serializes outbound messages so a header is never interleaved with
// another message's bytes.
type Conn struct {
	nc net.Conn

	// Immutable snapshots taken at accept/connect time.
	remoteAddr string
	remotePort int

	writeMu sync.Mutex
	reg     *registry

	state       atomic.Int32
	stopReading atomic.Bool
	done        chan struct{}
	closeOnce   sync.Once
}

// NewConn wraps an established transport. The reader does not run until
// Start is called.
func NewConn(nc net.Conn) *Conn {
	c := &Conn{
		nc:   nc,
		reg:  newRegistry(),
		done: make(chan struct{}),
	}
	if addr, ok := nc.RemoteAddr().(*net.TCPAddr); ok {
		c.remoteAddr = addr.IP.String()
		c.remotePort = addr.Port
	} else {
		c.remoteAddr = nc.RemoteAddr().String()
	}
	return c
}

// Start launches the reader goroutine.
func (c *Conn) Start() {
	go c.readLoop()
}

// RemoteAddr returns the peer's address as seen at accept/connect time.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// RemotePort returns the peer's port as seen at accept/connect time.
func (c *Conn) RemotePort() int { return c.remotePort }

// Done is closed once the reader goroutine has exited and the transport
// is released. Waiting on it joins the reader.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send writes one message atomically with respect to other senders.
// Concurrent sends serialize in arrival order at the writer lock. A
// transport failure is fatal to the connection; the caller should Close.
func (c *Conn) Send(kind wire.Kind, body []byte) error {
	if c.state.Load() != stateOpen {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.state.Load() != stateOpen {
		return ErrConnClosed
	}
	if err := wire.WriteMessage(c.nc, kind, body); err != nil {
		return eris.Wrapf(err, "send %s to %s failed", kind, c.remoteAddr)
	}
	return nil
}

// SendString sends the raw UTF-8 bytes of text, no terminator.
func (c *Conn) SendString(kind wire.Kind, text string) error {
	return c.Send(kind, []byte(text))
}

// SendEmpty sends a message with a zero-length body.
func (c *Conn) SendEmpty(kind wire.Kind) error {
	return c.Send(kind, nil)
}

// AddHandler registers h for kind. Adding the same handler twice is a
// no-op.
func (c *Conn) AddHandler(kind wire.Kind, h *Handler) { c.reg.add(kind, h) }

// AddDefaultHandler registers h for any kind with no specific handler.
func (c *Conn) AddDefaultHandler(h *Handler) { c.reg.addDefault(h) }

// RemoveHandler unregisters h from kind. Removing twice is a no-op.
func (c *Conn) RemoveHandler(kind wire.Kind, h *Handler) { c.reg.remove(kind, h) }

// RemoveDefaultHandler unregisters a default handler.
func (c *Conn) RemoveDefaultHandler(h *Handler) { c.reg.removeDefault(h) }

// Close is idempotent. It flags the reader to stop, shuts the transport
// down in both directions so a blocked read wakes with EOF, and releases
// the socket. The reader goroutine exits on its own; wait on Done to
// join it.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state.CompareAndSwap(stateOpen, stateClosing)
		c.stopReading.Store(true)

		// Shut down before closing so a recv blocked in the reader
		// returns zero bytes instead of racing the close.
		if tc, ok := c.nc.(*net.TCPConn); ok {
			_ = tc.CloseRead()
			_ = tc.CloseWrite()
		}
		if err := c.nc.Close(); err != nil {
			log.Printf("closing connection to %s: %v", c.remoteAddr, err)
		}
	})
	return nil
}

// readLoop decodes messages until the peer closes, an error occurs, or
// Close flags it to stop, then dispatches each through the registry.
func (c *Conn) readLoop() {
	defer func() {
		c.Close()
		c.state.Store(stateClosed)
		close(c.done)
	}()

	for !c.stopReading.Load() {
		kind, body, err := wire.ReadMessage(c.nc)
		if err != nil {
			switch {
			case err == io.EOF:
				log.Printf("peer %s closed the connection", c.remoteAddr)
			case err == io.ErrUnexpectedEOF:
				log.Printf("peer %s closed mid-message", c.remoteAddr)
			case c.stopReading.Load():
				// Close woke the read; nothing to report.
			default:
				log.Printf("read from %s failed: %v", c.remoteAddr, err)
			}
			return
		}

		c.reg.dispatch(kind, body)
	}
}
