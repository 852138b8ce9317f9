//go:build linux

package webcam

import (
	"sort"

	"github.com/blackjack/webcam"
	"github.com/rotisserie/eris"

	"github.com/karlrwjohnson/camstream/lib/wire"
)

const (
	// frameWaitSeconds bounds one wait for a frame. NextFrame retries up to
	// maxFrameTimeouts such waits, so a stalled camera holds a cooperative
	// stream stop for at most about five seconds.
	frameWaitSeconds = 1

	// maxFrameTimeouts is how many consecutive dequeue timeouts we
	// tolerate before declaring the camera dead.
	maxFrameTimeouts = 5
)

// v4l2Device drives a V4L2 capture device through its streaming API. The
// kernel owns the frame buffers; NextFrame hands back a view into the
// memory-mapped buffer for the dequeued frame.
type v4l2Device struct {
	name      string
	cam       *webcam.Webcam
	spec      wire.ImageSpec
	capturing bool
}

// Open opens a V4L2 device and applies a default spec (YUYV if offered,
// else MJPG, else the first listed format) at the largest frame size the
// device reports, so Spec is meaningful before any SetSpec.
func Open(name string) (Device, error) {
	cam, err := webcam.Open(name)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", name)
	}
	d := &v4l2Device{name: name, cam: cam}
	if err := d.applyDefaultSpec(); err != nil {
		_ = cam.Close()
		return nil, err
	}
	return d, nil
}

func (d *v4l2Device) applyDefaultSpec() error {
	formats, err := d.Formats()
	if err != nil {
		return err
	}
	if len(formats) == 0 {
		return eris.Errorf("%s reports no pixel formats", d.name)
	}

	// Prefer YUYV, then MJPG, then whatever comes first.
	pick := formats[0].Pixel
preference:
	for _, want := range []uint32{wire.FmtYUYV, wire.FmtMJPG} {
		for _, f := range formats {
			if f.Pixel == want {
				pick = want
				break preference
			}
		}
	}

	sizes, err := d.Resolutions(pick)
	if err != nil {
		return err
	}
	if len(sizes) == 0 {
		return eris.Errorf("%s reports no frame sizes for %s", d.name, wire.FourCCString(pick))
	}
	largest := sizes[len(sizes)-1]

	return d.SetSpec(wire.ImageSpec{Width: largest.Width, Height: largest.Height, Format: pick})
}

func (d *v4l2Device) Name() string { return d.name }

func (d *v4l2Device) Formats() ([]Format, error) {
	described := d.cam.GetSupportedFormats()
	formats := make([]Format, 0, len(described))
	for pixel, desc := range described {
		formats = append(formats, Format{Pixel: uint32(pixel), Description: desc})
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i].Pixel < formats[j].Pixel })
	return formats, nil
}

func (d *v4l2Device) Resolutions(pixel uint32) ([]Resolution, error) {
	sizes := d.cam.GetSupportedFrameSizes(webcam.PixelFormat(pixel))
	resolutions := make([]Resolution, 0, len(sizes))
	for _, s := range sizes {
		if s.StepWidth == 0 && s.StepHeight == 0 {
			resolutions = append(resolutions, Resolution{Width: s.MaxWidth, Height: s.MaxHeight})
			continue
		}
		// Stepwise range: report the two corners rather than the whole
		// lattice.
		resolutions = append(resolutions,
			Resolution{Width: s.MinWidth, Height: s.MinHeight},
			Resolution{Width: s.MaxWidth, Height: s.MaxHeight},
		)
	}
	sort.Slice(resolutions, func(i, j int) bool {
		return resolutions[i].Width*resolutions[i].Height < resolutions[j].Width*resolutions[j].Height
	})
	return resolutions, nil
}

func (d *v4l2Device) Spec() (wire.ImageSpec, error) {
	return d.spec, nil
}

func (d *v4l2Device) SetSpec(spec wire.ImageSpec) error {
	pixel, w, h, err := d.cam.SetImageFormat(webcam.PixelFormat(spec.Format), spec.Width, spec.Height)
	if err != nil {
		return eris.Wrapf(err, "failed to set %s to %dx%d %s",
			d.name, spec.Width, spec.Height, wire.FourCCString(spec.Format))
	}
	// The driver may have adjusted the request; record what it applied.
	d.spec = wire.ImageSpec{Width: w, Height: h, Format: uint32(pixel)}
	return nil
}

func (d *v4l2Device) StartCapture() error {
	if err := d.cam.StartStreaming(); err != nil {
		return eris.Wrapf(err, "failed to start streaming on %s", d.name)
	}
	d.capturing = true
	return nil
}

func (d *v4l2Device) StopCapture() error {
	if !d.capturing {
		return nil
	}
	d.capturing = false
	if err := d.cam.StopStreaming(); err != nil {
		return eris.Wrapf(err, "failed to stop streaming on %s", d.name)
	}
	return nil
}

func (d *v4l2Device) NextFrame() ([]byte, error) {
	if !d.capturing {
		return nil, ErrNotCapturing
	}

	timeouts := 0
	for {
		err := d.cam.WaitForFrame(frameWaitSeconds)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			timeouts++
			if timeouts >= maxFrameTimeouts {
				return nil, eris.Wrapf(err, "%s produced no frame", d.name)
			}
			continue
		default:
			return nil, eris.Wrapf(err, "waiting for frame on %s", d.name)
		}

		frame, err := d.cam.ReadFrame()
		if err != nil {
			return nil, eris.Wrapf(err, "reading frame from %s", d.name)
		}
		if len(frame) == 0 {
			continue
		}
		return frame, nil
	}
}

func (d *v4l2Device) Close() error {
	if d.capturing {
		_ = d.StopCapture()
	}
	return d.cam.Close()
}
