// Package server implements the webcam-owning side of the stream
// protocol: a per-connection session that opens and configures the
// capture device on the viewer's behalf and runs the streamer goroutine
// that pumps frames down the wire.
package server

import (
	"encoding/binary"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/karlrwjohnson/camstream/lib/socket"
	"github.com/karlrwjohnson/camstream/lib/utils"
	"github.com/karlrwjohnson/camstream/lib/webcam"
	"github.com/karlrwjohnson/camstream/lib/wire"
)

// Session is one viewer's server-side state: the connection, the capture
// device opened for this peer, and the streamer goroutine when a stream
// is active.
//
// All camera operations are serialized by camMu. The streamer holds it
// only across driver calls, never across a network send, so control
// handlers on the reader goroutine can make progress between frames.
type Session struct {
	*socket.Conn

	open webcam.Opener

	camMu sync.Mutex
	cam   webcam.Device

	// streamMu serializes stream start/stop transitions so a start
	// never races the join of a previous streamer.
	streamMu     sync.Mutex
	streamActive atomic.Bool
	streamDone   chan struct{}
}

// NewFactory returns a SessionFactory that builds webcam sessions whose
// devices are opened with open.
func NewFactory(open webcam.Opener) socket.SessionFactory {
	return func(nc net.Conn) socket.Session {
		return NewSession(nc, open)
	}
}

// NewSession wires the full server handler table onto a fresh
// connection. The reader is not started.
func NewSession(nc net.Conn, open webcam.Opener) *Session {
	s := &Session{
		Conn: socket.NewConn(nc),
		open: open,
	}

	s.AddDefaultHandler(socket.NewHandler(s.handleUnknown))
	s.AddHandler(wire.KindInvalidMsg, socket.NewHandler(s.handleInvalidMsg))
	s.AddHandler(wire.KindTerminatingConnection, socket.NewHandler(s.handleTerminating))
	s.AddHandler(wire.KindGetWebcamStatus, socket.NewHandler(s.handleGetWebcamStatus))
	s.AddHandler(wire.KindGetWebcamList, socket.NewHandler(s.handleGetWebcamList))
	s.AddHandler(wire.KindOpenWebcam, socket.NewHandler(s.handleOpenWebcam))
	s.AddHandler(wire.KindCloseWebcam, socket.NewHandler(s.handleCloseWebcam))
	s.AddHandler(wire.KindGetStreamStatus, socket.NewHandler(s.handleGetStreamStatus))
	s.AddHandler(wire.KindGetCurrentSpec, socket.NewHandler(s.handleGetCurrentSpec))
	s.AddHandler(wire.KindGetSupportedSpecs, socket.NewHandler(s.handleGetSupportedSpecs))
	s.AddHandler(wire.KindSetCurrentSpec, socket.NewHandler(s.handleSetCurrentSpec))
	s.AddHandler(wire.KindStartStream, socket.NewHandler(s.handleStartStream))
	s.AddHandler(wire.KindStopStream, socket.NewHandler(s.handleStopStream))

	return s
}

// Close stops any stream, releases the device, and closes the
// connection. Idempotent.
func (s *Session) Close() error {
	s.stopStream()

	lock := utils.NewScopedLock(&s.camMu)
	lock.Acquire()
	if s.cam != nil {
		if err := s.cam.Close(); err != nil {
			log.Printf("closing device %s: %v", s.cam.Name(), err)
		}
		s.cam = nil
	}
	lock.Release()

	return s.Conn.Close()
}

//--- handlers (all run on the reader goroutine) ---//

func (s *Session) handleUnknown(kind wire.Kind, body []byte) {
	log.Printf("received invalid message: %s", kind)
	var offender [4]byte
	binary.LittleEndian.PutUint32(offender[:], uint32(kind))
	s.reply(wire.KindInvalidMsg, offender[:])
}

func (s *Session) handleInvalidMsg(kind wire.Kind, body []byte) {
	if len(body) != 4 {
		log.Println("peer reports an invalid message but did not say which")
		return
	}
	offender := wire.Kind(binary.LittleEndian.Uint32(body))
	log.Printf("peer reports invalid message of type %s", offender)
}

func (s *Session) handleTerminating(kind wire.Kind, body []byte) {
	log.Printf("peer %s is terminating the connection", s.RemoteAddr())
	if err := s.Close(); err != nil {
		log.Printf("closing session: %v", err)
	}
}

func (s *Session) handleGetWebcamStatus(kind wire.Kind, body []byte) {
	lock := utils.NewScopedLock(&s.camMu)
	lock.Acquire()
	cam := s.cam
	lock.Release()

	if cam != nil {
		s.replyString(wire.KindWebcamIsOpened, cam.Name())
	} else {
		s.reply(wire.KindWebcamIsClosed, nil)
	}
}

func (s *Session) handleGetWebcamList(kind wire.Kind, body []byte) {
	// Enumeration is not part of the session protocol yet; the caminfo
	// tool covers it out of band.
	s.replyString(wire.KindRuntimeError, "webcam enumeration is not implemented")
}

func (s *Session) handleOpenWebcam(kind wire.Kind, body []byte) {
	name := string(body)

	newCam, err := s.open(name)
	if err != nil {
		log.Printf("unable to open %s: %v", name, err)
		s.replyString(wire.KindWebcamUnavailable, name)
		return
	}

	// Close the previous device through the regular path so the viewer
	// sees the stream stop and the old camera close first.
	if s.currentDevice() != nil {
		s.closeWebcam()
	}

	lock := utils.NewScopedLock(&s.camMu)
	lock.Acquire()
	s.cam = newCam
	lock.Release()

	s.replyString(wire.KindWebcamIsOpened, newCam.Name())
}

func (s *Session) handleCloseWebcam(kind wire.Kind, body []byte) {
	s.closeWebcam()
}

func (s *Session) handleGetStreamStatus(kind wire.Kind, body []byte) {
	if s.streamActive.Load() {
		s.reply(wire.KindStreamIsStarted, nil)
	} else {
		s.reply(wire.KindStreamIsStopped, nil)
	}
}

func (s *Session) handleGetCurrentSpec(kind wire.Kind, body []byte) {
	lock := utils.NewScopedLock(&s.camMu)
	lock.Acquire()
	defer lock.Release()

	if s.cam == nil {
		lock.Release()
		s.reply(wire.KindNoWebcamOpened, nil)
		return
	}

	spec, err := s.cam.Spec()
	lock.Release()
	if err != nil {
		log.Printf("querying spec: %v", err)
		s.replyString(wire.KindRuntimeError, err.Error())
		return
	}
	s.reply(wire.KindImageSpec, spec.Encode())
}

func (s *Session) handleGetSupportedSpecs(kind wire.Kind, body []byte) {
	lock := utils.NewScopedLock(&s.camMu)
	lock.Acquire()
	defer lock.Release()

	if s.cam == nil {
		lock.Release()
		s.reply(wire.KindNoWebcamOpened, nil)
		return
	}

	specs, err := enumerateSpecs(s.cam)
	lock.Release()
	if err != nil {
		log.Printf("enumerating specs: %v", err)
		s.replyString(wire.KindRuntimeError, err.Error())
		return
	}
	s.reply(wire.KindSupportedSpecs, wire.EncodeSpecList(specs))
}

func (s *Session) handleSetCurrentSpec(kind wire.Kind, body []byte) {
	spec, err := wire.DecodeImageSpec(body)
	if err != nil {
		log.Printf("rejecting spec: %v", err)
		s.reply(wire.KindInvalidSpec, nil)
		return
	}

	lock := utils.NewScopedLock(&s.camMu)
	lock.Acquire()
	defer lock.Release()

	if s.cam == nil {
		lock.Release()
		s.reply(wire.KindNoWebcamOpened, nil)
		return
	}

	if err := s.cam.SetSpec(spec); err != nil {
		lock.Release()
		log.Printf("applying spec: %v", err)
		s.replyString(wire.KindRuntimeError, err.Error())
		return
	}

	// Report what the driver actually applied, which may differ from
	// the request.
	applied, err := s.cam.Spec()
	lock.Release()
	if err != nil {
		log.Printf("querying spec: %v", err)
		s.replyString(wire.KindRuntimeError, err.Error())
		return
	}
	s.reply(wire.KindImageSpec, applied.Encode())
}

func (s *Session) handleStartStream(kind wire.Kind, body []byte) {
	if s.currentDevice() == nil {
		s.reply(wire.KindNoWebcamOpened, nil)
		return
	}

	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	if !s.streamActive.CompareAndSwap(false, true) {
		log.Println("stream is already started")
		s.reply(wire.KindStreamIsStarted, nil)
		return
	}

	done := make(chan struct{})
	s.streamDone = done
	s.reply(wire.KindStreamIsStarted, nil)
	go s.streamLoop(done)
}

func (s *Session) handleStopStream(kind wire.Kind, body []byte) {
	s.stopStream()
	s.reply(wire.KindStreamIsStopped, nil)
}

//--- streaming ---//

// streamLoop runs on its own goroutine while the stream is active. The
// camera lock is held across driver calls only; the frame goes out on
// the wire with the lock released.
func (s *Session) streamLoop(done chan struct{}) {
	defer close(done)

	lock := utils.NewScopedLock(&s.camMu)
	defer lock.Release()

	lock.Acquire()
	cam := s.cam
	if cam == nil {
		lock.Release()
		s.streamActive.Store(false)
		return
	}
	err := cam.StartCapture()
	lock.Release()
	if err != nil {
		log.Printf("starting capture: %v", err)
		s.replyString(wire.KindRuntimeError, err.Error())
		s.streamActive.Store(false)
		return
	}

	for s.streamActive.Load() {
		lock.Acquire()
		frame, err := cam.NextFrame()
		lock.Release()
		if err != nil {
			if s.streamActive.Load() {
				log.Printf("capturing frame: %v", err)
				s.replyString(wire.KindRuntimeError, err.Error())
			}
			break
		}

		if err := s.Send(wire.KindFrame, frame); err != nil {
			log.Printf("sending frame: %v", err)
			break
		}
	}
	s.streamActive.Store(false)

	lock.Acquire()
	if err := cam.StopCapture(); err != nil {
		log.Printf("stopping capture: %v", err)
	}
	lock.Release()
}

// stopStream clears the active flag and joins the streamer. Safe to call
// when no stream is running. The streamer reads the flag after its
// current frame, so this waits at most one dequeue.
func (s *Session) stopStream() {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if s.streamActive.CompareAndSwap(true, false) {
		<-s.streamDone
	}
}

// closeWebcam stops the stream if one is running and releases the
// device, notifying the viewer of each step.
func (s *Session) closeWebcam() {
	if s.streamActive.Load() {
		s.stopStream()
		s.reply(wire.KindStreamIsStopped, nil)
	}

	lock := utils.NewScopedLock(&s.camMu)
	lock.Acquire()
	if s.cam != nil {
		if err := s.cam.Close(); err != nil {
			log.Printf("closing device %s: %v", s.cam.Name(), err)
		}
		s.cam = nil
	}
	lock.Release()

	s.reply(wire.KindWebcamIsClosed, nil)
}

func (s *Session) currentDevice() webcam.Device {
	lock := utils.NewScopedLock(&s.camMu)
	lock.Acquire()
	defer lock.Release()
	return s.cam
}

// enumerateSpecs builds the cartesian product of the device's formats
// and the resolutions supported per format. Caller holds the camera
// lock.
func enumerateSpecs(cam webcam.Device) ([]wire.ImageSpec, error) {
	formats, err := cam.Formats()
	if err != nil {
		return nil, err
	}
	var specs []wire.ImageSpec
	for _, f := range formats {
		resolutions, err := cam.Resolutions(f.Pixel)
		if err != nil {
			return nil, err
		}
		for _, r := range resolutions {
			specs = append(specs, wire.ImageSpec{Width: r.Width, Height: r.Height, Format: f.Pixel})
		}
	}
	return specs, nil
}

// reply sends a message to the viewer, demoting a transport failure to a
// log line; the reader loop notices the dead connection on its own.
func (s *Session) reply(kind wire.Kind, body []byte) {
	if err := s.Send(kind, body); err != nil {
		log.Printf("replying with %s: %v", kind, err)
	}
}

func (s *Session) replyString(kind wire.Kind, text string) {
	if err := s.SendString(kind, text); err != nil {
		log.Printf("replying with %s: %v", kind, err)
	}
}
