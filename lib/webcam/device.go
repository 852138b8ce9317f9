// Package webcam abstracts the capture device the server session drives.
// The Device interface is what the session logic programs against; the
// shipped implementation wraps the V4L2 streaming API with memory-mapped
// kernel frame buffers.
package webcam

import (
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/karlrwjohnson/camstream/lib/wire"
)

// ErrNotCapturing is returned by NextFrame when capture is not running.
var ErrNotCapturing = errors.New("device is not capturing")

// Format is one pixel format the device can produce.
type Format struct {
	Pixel       uint32
	Description string
}

// Resolution is one frame size the device can produce for a format.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Device is an open capture device. Implementations are not safe for
// concurrent use; the server session serializes access with its webcam
// lock.
type Device interface {
	// Name returns the device path this device was opened from.
	Name() string
	// Formats lists the pixel formats the device supports.
	Formats() ([]Format, error)
	// Resolutions lists the frame sizes supported for a pixel format.
	Resolutions(pixel uint32) ([]Resolution, error)
	// Spec returns the current width, height and pixel format.
	Spec() (wire.ImageSpec, error)
	// SetSpec applies a new spec. The driver may adjust the requested
	// values; Spec reports what was actually applied.
	SetSpec(spec wire.ImageSpec) error
	// StartCapture begins streaming into the device's frame buffers.
	StartCapture() error
	// StopCapture ends streaming.
	StopCapture() error
	// NextFrame blocks until the driver hands over the next frame and
	// returns its bytes. The slice aliases a device-owned buffer and is
	// valid only until the next call.
	NextFrame() ([]byte, error)
	// Close releases the device.
	Close() error
}

// Opener opens a capture device by name. The server session takes one so
// tests can substitute a fake device.
type Opener func(name string) (Device, error)

// ListDevices returns the capture device paths present on this host.
func ListDevices() ([]string, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	devices := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			devices = append(devices, m)
		}
	}
	sort.Strings(devices)
	return devices, nil
}
