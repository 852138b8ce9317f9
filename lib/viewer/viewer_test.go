package viewer

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/karlrwjohnson/camstream/lib/wire"
)

func snapshotPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "frame.jpg")
}

func TestSnapshotSingleton(t *testing.T) {
	spec := wire.ImageSpec{Width: 4, Height: 4, Format: wire.FmtYUYV}

	first, err := NewSnapshot(snapshotPath(t), spec)
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}

	if _, err := NewSnapshot(snapshotPath(t), spec); !errors.Is(err, ErrViewerActive) {
		t.Errorf("second surface: got %v, want ErrViewerActive", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Token released; a new surface may exist now.
	second, err := NewSnapshot(snapshotPath(t), spec)
	if err != nil {
		t.Fatalf("NewSnapshot after Close failed: %v", err)
	}
	defer second.Close()

	// A stale double-Close must not release the new surface's token.
	if err := first.Close(); err != nil {
		t.Fatalf("double Close failed: %v", err)
	}
	if _, err := NewSnapshot(snapshotPath(t), spec); !errors.Is(err, ErrViewerActive) {
		t.Errorf("stale Close released the active token: %v", err)
	}
}

func TestSnapshotPresentYUYV(t *testing.T) {
	const w, h = 8, 6
	path := snapshotPath(t)

	s, err := NewSnapshot(path, wire.ImageSpec{Width: w, Height: h, Format: wire.FmtYUYV})
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	defer s.Close()

	// Mid-gray frame: Y=128, Cb=Cr=128.
	frame := bytes.Repeat([]byte{128}, w*h*2)
	if err := s.Present(frame); err != nil {
		t.Fatalf("Present failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("snapshot was not written: %v", err)
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("snapshot is not a valid JPEG: %v", err)
	}
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		t.Errorf("snapshot is %dx%d, want %dx%d", img.Bounds().Dx(), img.Bounds().Dy(), w, h)
	}
}

func TestSnapshotRejectsShortFrame(t *testing.T) {
	s, err := NewSnapshot(snapshotPath(t), wire.ImageSpec{Width: 8, Height: 6, Format: wire.FmtYUYV})
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	defer s.Close()

	if err := s.Present(make([]byte, 10)); !errors.Is(err, ErrBadFrame) {
		t.Errorf("short frame: got %v, want ErrBadFrame", err)
	}
}

func TestSnapshotMJPEGPassthrough(t *testing.T) {
	const w, h = 16, 12
	path := snapshotPath(t)

	s, err := NewSnapshot(path, wire.ImageSpec{Width: w, Height: h, Format: wire.FmtMJPG})
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	defer s.Close()

	// Compose a real JPEG frame, as an MJPEG camera would deliver.
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 20), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, nil); err != nil {
		t.Fatalf("encoding test frame: %v", err)
	}

	if err := s.Present(buf.Bytes()); err != nil {
		t.Fatalf("Present failed: %v", err)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("snapshot was not written: %v", err)
	}
	if !bytes.Equal(written, buf.Bytes()) {
		t.Error("MJPEG frame was not passed through verbatim")
	}
}

func TestSnapshotScalesDown(t *testing.T) {
	const w, h = 32, 24
	path := snapshotPath(t)

	s, err := NewSnapshot(path, wire.ImageSpec{Width: w, Height: h, Format: wire.FmtYUYV}, WithMaxWidth(16))
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	defer s.Close()

	if err := s.Present(bytes.Repeat([]byte{128}, w*h*2)); err != nil {
		t.Fatalf("Present failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("snapshot was not written: %v", err)
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("snapshot is not a valid JPEG: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 12 {
		t.Errorf("scaled snapshot is %dx%d, want 16x12", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestSnapshotRejectsUnknownFormat(t *testing.T) {
	s, err := NewSnapshot(snapshotPath(t), wire.ImageSpec{Width: 8, Height: 6, Format: wire.FmtYUYV})
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	defer s.Close()

	if err := s.SetFormat(wire.FourCC("H264")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("SetFormat(H264): got %v, want ErrUnsupportedFormat", err)
	}
}
