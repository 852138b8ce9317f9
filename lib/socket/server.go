package socket

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
)

// Session is one peer attached to a Server or produced by Connect: the
// Connection contract plus whatever side-specific state the factory
// wires on top of it.
type Session interface {
	// Start launches the session's reader goroutine.
	Start()
	// Close tears the session down. Must be idempotent.
	Close() error
	// Done is closed once the session's reader has exited.
	Done() <-chan struct{}
}

// SessionFactory builds the side-specific session for a freshly
// established transport. The factory must not start the reader; the
// accept loop and dialer do that once bookkeeping is in place.
type SessionFactory func(nc net.Conn) Session

// Server listens for viewer connections and runs one Session per peer.
type Server struct {
	factory SessionFactory

	mu       sync.Mutex
	ln       net.Listener
	sessions []Session

	stopAccepting atomic.Bool
}

// NewServer returns a server that builds sessions with factory.
func NewServer(factory SessionFactory) *Server {
	return &Server{factory: factory}
}

// Start listens on 0.0.0.0:port and blocks in the accept loop, spawning
// a session per inbound peer, until Stop is called or accept fails.
// Returns nil when stopped deliberately.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return eris.Wrapf(err, "failed to listen on port %d", port)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.stopAccepting.Store(false)

	log.Printf("listening on %s", ln.Addr())

	for !s.stopAccepting.Load() {
		nc, err := ln.Accept()
		if err != nil {
			if s.stopAccepting.Load() {
				break
			}
			return eris.Wrap(err, "accept failed")
		}
		log.Printf("accepted connection from %s", nc.RemoteAddr())

		sess := s.factory(nc)
		sess.Start()

		s.mu.Lock()
		s.prune()
		s.sessions = append(s.sessions, sess)
		s.mu.Unlock()
	}

	log.Println("accept loop stopped")
	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener, which makes a pending accept fail and the
// loop exit, then closes every live session.
func (s *Server) Stop() {
	s.stopAccepting.Store(true)

	s.mu.Lock()
	ln := s.ln
	sessions := make([]Session, len(s.sessions))
	copy(sessions, s.sessions)
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			log.Printf("closing session: %v", err)
		}
	}
}

// ForEachSession applies fn to each tracked session while holding the
// connections lock.
func (s *Server) ForEachSession(fn func(Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		fn(sess)
	}
}

// prune drops sessions whose reader has exited. Called with mu held.
func (s *Server) prune() {
	live := s.sessions[:0]
	for _, sess := range s.sessions {
		select {
		case <-sess.Done():
		default:
			live = append(live, sess)
		}
	}
	s.sessions = live
}
