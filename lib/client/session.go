// Package client implements the viewer side of the stream protocol: a
// per-connection session that tracks the server's webcam state and
// presents incoming frames to a render surface created lazily once the
// server reports the image spec.
package client

import (
	"encoding/binary"
	"log"
	"net"
	"sync"

	"github.com/karlrwjohnson/camstream/lib/socket"
	"github.com/karlrwjohnson/camstream/lib/viewer"
	"github.com/karlrwjohnson/camstream/lib/wire"
)

// Session is the viewer's client-side state: the connection, the render
// surface once one exists, and the name of the device the server has
// open.
type Session struct {
	*socket.Conn

	newRenderer viewer.Factory

	mu       sync.Mutex
	renderer viewer.Renderer
	device   string
}

// NewFactory returns a SessionFactory that builds viewer sessions whose
// render surfaces come from newRenderer.
func NewFactory(newRenderer viewer.Factory) socket.SessionFactory {
	return func(nc net.Conn) socket.Session {
		return NewSession(nc, newRenderer)
	}
}

// NewSession wires the full viewer handler table onto a fresh
// connection. The reader is not started.
func NewSession(nc net.Conn, newRenderer viewer.Factory) *Session {
	s := &Session{
		Conn:        socket.NewConn(nc),
		newRenderer: newRenderer,
	}

	s.AddDefaultHandler(socket.NewHandler(s.handleUnknown))
	s.AddHandler(wire.KindTerminatingConnection, socket.NewHandler(s.handleTerminating))
	s.AddHandler(wire.KindFrame, socket.NewHandler(s.handleFrame))
	s.AddHandler(wire.KindImageSpec, socket.NewHandler(s.handleImageSpec))
	s.AddHandler(wire.KindStreamIsStarted, socket.NewHandler(s.handleStreamStarted))
	s.AddHandler(wire.KindStreamIsStopped, socket.NewHandler(s.handleStreamStopped))
	s.AddHandler(wire.KindWebcamIsOpened, socket.NewHandler(s.handleWebcamOpened))
	s.AddHandler(wire.KindWebcamIsClosed, socket.NewHandler(s.handleWebcamClosed))
	s.AddHandler(wire.KindWebcamList, socket.NewHandler(s.handleWebcamList))
	s.AddHandler(wire.KindInvalidMsg, socket.NewHandler(s.handleInvalidMsg))

	serverErr := socket.NewHandler(s.handleServerError)
	s.AddHandler(wire.KindInvalidSpec, serverErr)
	s.AddHandler(wire.KindNoWebcamOpened, serverErr)
	s.AddHandler(wire.KindRuntimeError, serverErr)
	s.AddHandler(wire.KindWebcamUnavailable, serverErr)

	return s
}

// Close drops the render surface and closes the connection. Idempotent.
func (s *Session) Close() error {
	s.dropRenderer()
	return s.Conn.Close()
}

//--- requests the cmd layer drives ---//

// OpenWebcam asks the server to open the named device.
func (s *Session) OpenWebcam(name string) error {
	return s.SendString(wire.KindOpenWebcam, name)
}

// CloseWebcam asks the server to release its device.
func (s *Session) CloseWebcam() error {
	return s.SendEmpty(wire.KindCloseWebcam)
}

// StartStream asks the server to begin sending frames.
func (s *Session) StartStream() error {
	return s.SendEmpty(wire.KindStartStream)
}

// StopStream asks the server to stop sending frames.
func (s *Session) StopStream() error {
	return s.SendEmpty(wire.KindStopStream)
}

// QueryWebcamStatus asks whether the server has a device open.
func (s *Session) QueryWebcamStatus() error {
	return s.SendEmpty(wire.KindGetWebcamStatus)
}

// QueryCurrentSpec asks for the device's current image spec.
func (s *Session) QueryCurrentSpec() error {
	return s.SendEmpty(wire.KindGetCurrentSpec)
}

// QuerySupportedSpecs asks for every spec the device supports.
func (s *Session) QuerySupportedSpecs() error {
	return s.SendEmpty(wire.KindGetSupportedSpecs)
}

// SetSpec asks the server to switch the device to spec.
func (s *Session) SetSpec(spec wire.ImageSpec) error {
	return s.Send(wire.KindSetCurrentSpec, spec.Encode())
}

// Terminate tells the server we are going away, then closes the session.
func (s *Session) Terminate() error {
	if err := s.SendEmpty(wire.KindTerminatingConnection); err != nil {
		log.Printf("sending termination notice: %v", err)
	}
	return s.Close()
}

//--- handlers (all run on the reader goroutine) ---//

func (s *Session) handleUnknown(kind wire.Kind, body []byte) {
	log.Printf("received invalid message: %s", kind)
	var offender [4]byte
	binary.LittleEndian.PutUint32(offender[:], uint32(kind))
	if err := s.Send(wire.KindInvalidMsg, offender[:]); err != nil {
		log.Printf("reporting invalid message: %v", err)
	}
}

func (s *Session) handleTerminating(kind wire.Kind, body []byte) {
	log.Println("server is terminating the connection")
	if err := s.Close(); err != nil {
		log.Printf("closing session: %v", err)
	}
}

func (s *Session) handleFrame(kind wire.Kind, body []byte) {
	s.mu.Lock()
	renderer := s.renderer
	s.mu.Unlock()

	if renderer == nil {
		log.Println("dropping frame: no render surface yet")
		return
	}
	if err := renderer.Present(body); err != nil {
		log.Printf("presenting frame: %v", err)
	}
}

func (s *Session) handleImageSpec(kind wire.Kind, body []byte) {
	spec, err := wire.DecodeImageSpec(body)
	if err != nil {
		log.Printf("ignoring malformed image spec: %v", err)
		return
	}

	log.Printf("image format set to %s, %dx%dpx",
		wire.FourCCString(spec.Format), spec.Width, spec.Height)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.renderer == nil {
		renderer, err := s.newRenderer(spec)
		if err != nil {
			log.Printf("creating render surface: %v", err)
			return
		}
		s.renderer = renderer
		return
	}

	if err := s.renderer.SetFormat(spec.Format); err != nil {
		log.Printf("switching format: %v", err)
		return
	}
	if err := s.renderer.SetSize(spec.Width, spec.Height); err != nil {
		log.Printf("resizing: %v", err)
	}
}

func (s *Session) handleStreamStarted(kind wire.Kind, body []byte) {
	log.Println("server has started streaming")
}

func (s *Session) handleStreamStopped(kind wire.Kind, body []byte) {
	log.Println("server has stopped streaming")
}

func (s *Session) handleWebcamOpened(kind wire.Kind, body []byte) {
	name := string(body)
	s.mu.Lock()
	s.device = name
	s.mu.Unlock()
	log.Printf("server opened %s", name)

	// The render surface can't exist until we know the image format and
	// dimensions; ask for them now so it is ready before frames arrive.
	if err := s.QueryCurrentSpec(); err != nil {
		log.Printf("querying spec: %v", err)
	}
}

func (s *Session) handleWebcamClosed(kind wire.Kind, body []byte) {
	log.Println("server closed the webcam")
	s.dropRenderer()
}

func (s *Session) handleWebcamList(kind wire.Kind, body []byte) {
	names, err := wire.DecodeDeviceList(body)
	if err != nil {
		log.Printf("ignoring malformed device list: %v", err)
		return
	}
	for _, name := range names {
		log.Printf("server device: %s", name)
	}
}

func (s *Session) handleInvalidMsg(kind wire.Kind, body []byte) {
	if len(body) != 4 {
		log.Println("server reports an invalid message but did not say which")
		return
	}
	offender := wire.Kind(binary.LittleEndian.Uint32(body))
	log.Printf("server reports invalid message of type %s", offender)
}

func (s *Session) handleServerError(kind wire.Kind, body []byte) {
	if len(body) > 0 {
		log.Printf("server error %s: %s", kind, string(body))
	} else {
		log.Printf("server error %s", kind)
	}
}

// DeviceName returns the device the server last reported open.
func (s *Session) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

func (s *Session) dropRenderer() {
	s.mu.Lock()
	renderer := s.renderer
	s.renderer = nil
	s.mu.Unlock()

	if renderer != nil {
		if err := renderer.Close(); err != nil {
			log.Printf("closing render surface: %v", err)
		}
	}
}
