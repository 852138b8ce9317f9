package wire

import (
	"encoding/binary"
	"io"

	"github.com/rotisserie/eris"
)

// Message framing:
//
//	offset 0: kind   (uint32, little-endian)
//	offset 4: length (uint32, little-endian) -- body length in bytes
//	offset 8: body   (length bytes, layout keyed by kind)
//
// No padding, no checksum, no magic number.

const (
	// HeaderLen is the fixed size of a message header.
	HeaderLen = 8

	// maxBodyLen bounds the allocation a peer can force with a single
	// header. Well above any real frame (4K YUYV is ~17MB).
	maxBodyLen = 1 << 26
)

// WriteMessage emits the header and then the body as two writes. The
// caller must serialize calls so headers and bodies never interleave.
func WriteMessage(w io.Writer, kind Kind, body []byte) error {
	if len(body) > maxBodyLen {
		return eris.Errorf("message body too large: %d bytes", len(body))
	}

	var header [HeaderLen]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(kind))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(body)))

	n, err := w.Write(header[:])
	if err != nil {
		return eris.Wrapf(err, "failed to write %s header", kind)
	}
	if n != HeaderLen {
		return eris.Errorf("short write on %s header: %d of %d bytes", kind, n, HeaderLen)
	}

	if len(body) > 0 {
		n, err = w.Write(body)
		if err != nil {
			return eris.Wrapf(err, "failed to write %s body", kind)
		}
		if n != len(body) {
			return eris.Errorf("short write on %s body: %d of %d bytes", kind, n, len(body))
		}
	}

	return nil
}

// ReadMessage blocks until a full message has been read. An io.EOF before
// the first header byte means the peer closed in an orderly fashion;
// io.ErrUnexpectedEOF means it closed mid-message. Both are returned
// unwrapped so callers can distinguish them from transport failures.
// A zero-length body decodes to an empty, non-nil slice.
func ReadMessage(r io.Reader) (Kind, []byte, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, err
		}
		return 0, nil, eris.Wrap(err, "failed to read message header")
	}

	kind := Kind(binary.LittleEndian.Uint32(header[0:4]))
	length := binary.LittleEndian.Uint32(header[4:8])
	if length > maxBodyLen {
		return 0, nil, eris.Errorf("message body too large: %d bytes (kind %s)", length, kind)
	}

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return 0, nil, io.ErrUnexpectedEOF
			}
			return 0, nil, eris.Wrapf(err, "failed to read %s body", kind)
		}
	}

	return kind, body, nil
}
