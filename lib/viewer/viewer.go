// Package viewer is the render surface frames are presented to on the
// client. The shipped Renderer writes each presented frame to a JPEG
// snapshot file, converting packed YUYV to YCbCr and passing
// JPEG-compressed formats straight through.
package viewer

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/karlrwjohnson/camstream/lib/wire"
)

var (
	// ErrViewerActive is returned when a second render surface is
	// requested; the process owns at most one.
	ErrViewerActive = errors.New("a render surface is already active")

	// ErrBadFrame is returned when a frame's length disagrees with the
	// current size and format.
	ErrBadFrame = errors.New("frame size does not match the image spec")

	// ErrUnsupportedFormat is returned for pixel formats the renderer
	// cannot decode.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
)

// Renderer is the surface the client session presents frames to.
type Renderer interface {
	// SetFormat switches the pixel format of subsequent frames.
	SetFormat(format uint32) error
	// SetSize switches the dimensions of subsequent frames.
	SetSize(width, height uint32) error
	// Present renders one frame.
	Present(frame []byte) error
	// Close releases the surface.
	Close() error
}

// Factory builds a renderer for the first reported image spec. The
// client session calls it lazily, once the server has told it what the
// frames will look like.
type Factory func(spec wire.ImageSpec) (Renderer, error)

// surfaceToken enforces the one-render-surface-per-process rule.
var surfaceToken atomic.Bool

func acquireSurface() error {
	if !surfaceToken.CompareAndSwap(false, true) {
		return ErrViewerActive
	}
	return nil
}

func releaseSurface() {
	surfaceToken.Store(false)
}

// releaseOnce guards against a double Close releasing a token some other
// surface has since acquired.
type releaseOnce struct {
	once sync.Once
}

func (r *releaseOnce) release() {
	r.once.Do(releaseSurface)
}
