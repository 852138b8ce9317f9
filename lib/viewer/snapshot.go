package viewer

import (
	"bytes"
	"image"
	"image/jpeg"
	"log"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/image/draw"

	"github.com/karlrwjohnson/camstream/lib/wire"
)

// Snapshot renders presented frames by atomically rewriting a JPEG file,
// so anything watching the path always sees a complete image.
type Snapshot struct {
	path     string
	maxWidth uint32

	mu     sync.Mutex
	width  uint32
	height uint32
	format uint32

	token releaseOnce
}

// SnapshotOption configures a Snapshot.
type SnapshotOption func(*Snapshot)

// WithMaxWidth caps the written image's width; larger frames are scaled
// down proportionally.
func WithMaxWidth(w uint32) SnapshotOption {
	return func(s *Snapshot) {
		s.maxWidth = w
	}
}

// NewSnapshot acquires the process render surface and returns a snapshot
// renderer for spec writing to path.
func NewSnapshot(path string, spec wire.ImageSpec, opts ...SnapshotOption) (*Snapshot, error) {
	if err := acquireSurface(); err != nil {
		return nil, err
	}
	s := &Snapshot{
		path:   path,
		width:  spec.Width,
		height: spec.Height,
		format: spec.Format,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewSnapshotFactory returns a Factory producing snapshot renderers at
// path.
func NewSnapshotFactory(path string, opts ...SnapshotOption) Factory {
	return func(spec wire.ImageSpec) (Renderer, error) {
		return NewSnapshot(path, spec, opts...)
	}
}

// SetFormat switches the pixel format of subsequent frames.
func (s *Snapshot) SetFormat(format uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch format {
	case wire.FmtYUYV, wire.FmtMJPG, wire.FmtPJPG:
		s.format = format
		return nil
	default:
		return eris.Wrapf(ErrUnsupportedFormat, "%s", wire.FourCCString(format))
	}
}

// SetSize switches the dimensions of subsequent frames.
func (s *Snapshot) SetSize(width, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if width == 0 || height == 0 {
		return eris.Errorf("invalid frame size %dx%d", width, height)
	}
	s.width = width
	s.height = height
	return nil
}

// Present renders one frame to the snapshot file.
func (s *Snapshot) Present(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case wire.FmtYUYV:
		img, err := yuyvToImage(frame, s.width, s.height)
		if err != nil {
			return err
		}
		return s.writeJPEG(img)
	case wire.FmtMJPG, wire.FmtPJPG:
		// Already JPEG; re-encode only if it needs scaling.
		if s.maxWidth == 0 || s.width <= s.maxWidth {
			return s.writeFile(frame)
		}
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			return eris.Wrap(err, "decoding MJPEG frame")
		}
		return s.writeJPEG(img)
	default:
		return eris.Wrapf(ErrUnsupportedFormat, "%s", wire.FourCCString(s.format))
	}
}

// Close releases the render surface. Idempotent.
func (s *Snapshot) Close() error {
	s.token.release()
	return nil
}

func (s *Snapshot) writeJPEG(img image.Image) error {
	if s.maxWidth > 0 && uint32(img.Bounds().Dx()) > s.maxWidth {
		img = scaleToWidth(img, int(s.maxWidth))
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return eris.Wrap(err, "encoding snapshot")
	}
	return s.writeFile(buf.Bytes())
}

// writeFile rewrites the snapshot atomically via a rename.
func (s *Snapshot) writeFile(data []byte) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil {
			log.Printf("removing %s: %v", tmp, rmErr)
		}
		return eris.Wrapf(err, "replacing %s", s.path)
	}
	return nil
}

// yuyvToImage deinterleaves packed YUYV 4:2:2 into a planar YCbCr image.
func yuyvToImage(frame []byte, width, height uint32) (image.Image, error) {
	if uint32(len(frame)) != width*height*2 {
		return nil, eris.Wrapf(ErrBadFrame, "%d bytes for %dx%d YUYV", len(frame), width, height)
	}

	img := image.NewYCbCr(image.Rect(0, 0, int(width), int(height)), image.YCbCrSubsampleRatio422)
	for y := 0; y < int(height); y++ {
		row := frame[y*int(width)*2 : (y+1)*int(width)*2]
		yOff := y * img.YStride
		cOff := y * img.CStride
		for x := 0; x+3 < len(row); x += 4 {
			img.Y[yOff+x/2] = row[x]
			img.Cb[cOff+x/4] = row[x+1]
			img.Y[yOff+x/2+1] = row[x+2]
			img.Cr[cOff+x/4] = row[x+3]
		}
	}
	return img, nil
}

// scaleToWidth downscales img to the target width, preserving aspect.
func scaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	height := b.Dy() * width / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
