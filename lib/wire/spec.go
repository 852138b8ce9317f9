package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rotisserie/eris"
)

// ImageSpecSize is the encoded size of one ImageSpec.
const ImageSpecSize = 12

// Common V4L2 FourCC pixel formats. The protocol carries the format as an
// opaque uint32; these are the ones the shipped viewer knows how to render.
const (
	FmtYUYV uint32 = 0x56595559 // 'YUYV' packed 4:2:2
	FmtMJPG uint32 = 0x47504A4D // 'MJPG' motion JPEG
	FmtPJPG uint32 = 0x47504A50 // 'PJPG' progressive JPEG
)

// ImageSpec describes a camera output mode: resolution plus pixel format.
// Encodes to exactly 12 bytes, three little-endian uint32s.
type ImageSpec struct {
	Width  uint32
	Height uint32
	Format uint32
}

// Encode renders the spec to its 12-byte wire form.
func (s ImageSpec) Encode() []byte {
	buf := make([]byte, ImageSpecSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.Width)
	binary.LittleEndian.PutUint32(buf[4:8], s.Height)
	binary.LittleEndian.PutUint32(buf[8:12], s.Format)
	return buf
}

// DecodeImageSpec parses a 12-byte body. Any other length is an error so
// handlers can reject malformed specs before touching the device.
func DecodeImageSpec(body []byte) (ImageSpec, error) {
	if len(body) != ImageSpecSize {
		return ImageSpec{}, eris.Errorf("image spec must be %d bytes, got %d", ImageSpecSize, len(body))
	}
	return ImageSpec{
		Width:  binary.LittleEndian.Uint32(body[0:4]),
		Height: binary.LittleEndian.Uint32(body[4:8]),
		Format: binary.LittleEndian.Uint32(body[8:12]),
	}, nil
}

// EncodeSpecList renders a SUPPORTED_SPECS body: the specs back to back.
func EncodeSpecList(specs []ImageSpec) []byte {
	buf := make([]byte, 0, len(specs)*ImageSpecSize)
	for _, s := range specs {
		buf = append(buf, s.Encode()...)
	}
	return buf
}

// DecodeSpecList parses a SUPPORTED_SPECS body. The length must be a
// multiple of 12.
func DecodeSpecList(body []byte) ([]ImageSpec, error) {
	if len(body)%ImageSpecSize != 0 {
		return nil, eris.Errorf("spec list length %d is not a multiple of %d", len(body), ImageSpecSize)
	}
	specs := make([]ImageSpec, 0, len(body)/ImageSpecSize)
	for off := 0; off < len(body); off += ImageSpecSize {
		s, err := DecodeImageSpec(body[off : off+ImageSpecSize])
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// EncodeDeviceList renders a WEBCAM_LIST body: each name NUL-terminated,
// with a second NUL after the last.
func EncodeDeviceList(names []string) []byte {
	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte(0)
	}
	buf.WriteByte(0)
	return buf.Bytes()
}

// DecodeDeviceList parses a WEBCAM_LIST body.
func DecodeDeviceList(body []byte) ([]string, error) {
	if len(body) == 0 || body[len(body)-1] != 0 {
		return nil, eris.New("device list is not double-NUL terminated")
	}
	seq := body[:len(body)-1]
	if len(seq) == 0 {
		return nil, nil
	}
	if seq[len(seq)-1] != 0 {
		return nil, eris.New("device list entry is missing its NUL terminator")
	}
	parts := bytes.Split(seq[:len(seq)-1], []byte{0})
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, string(p))
	}
	return names, nil
}

// FourCC packs a four-character format code the way V4L2 does.
func FourCC(code string) uint32 {
	if len(code) != 4 {
		return 0
	}
	return uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24
}

// FourCCString renders a pixel format code for humans. Non-printable
// codes fall back to hex.
func FourCCString(code uint32) string {
	b := []byte{byte(code), byte(code >> 8), byte(code >> 16), byte(code >> 24)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08X", code)
		}
	}
	return string(b)
}
