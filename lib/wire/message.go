// Package wire defines the framed message protocol spoken between the
// webcam server and its viewers: a closed catalog of message kinds, an
// 8-byte length-prefixed header, and the codecs for the fixed-layout
// bodies (image specs, spec lists, device lists).
package wire

import "fmt"

// DefaultPort is the TCP port the server listens on unless told otherwise.
const DefaultPort = 32123

// Kind identifies the type of a message and keys the body's layout.
type Kind uint32

// Message kinds. The ordinal values are part of the wire protocol and are
// shared by both endpoints; do not reorder.
const (
	// KindInvalidMsg reports an unexpected message to the peer.
	// Body: uint32, the offending kind.
	KindInvalidMsg Kind = iota
	// KindTerminatingConnection announces that the sender is closing the
	// connection and the peer should shut down cleanly too. Empty body.
	KindTerminatingConnection

	// Client requests.

	// KindGetWebcamStatus asks whether a device is currently open.
	KindGetWebcamStatus
	// KindGetWebcamList asks for the devices available on the server.
	KindGetWebcamList
	// KindOpenWebcam asks the server to open a device.
	// Body: device name, UTF-8, no terminator.
	KindOpenWebcam
	// KindCloseWebcam asks the server to release the open device.
	KindCloseWebcam
	// KindGetStreamStatus asks whether frames are being streamed.
	KindGetStreamStatus
	// KindGetCurrentSpec asks for the device's current image spec.
	KindGetCurrentSpec
	// KindGetSupportedSpecs asks for every format/resolution combination
	// the open device supports.
	KindGetSupportedSpecs
	// KindSetCurrentSpec changes the device's image spec.
	// Body: ImageSpec, 12 bytes.
	KindSetCurrentSpec
	// KindStartStream asks the server to begin sending frames.
	KindStartStream
	// KindStopStream asks the server to stop sending frames.
	KindStopStream

	// Server replies and events.

	// KindFrame carries one captured frame. Body: raw pixel data laid out
	// per the current image spec.
	KindFrame
	// KindImageSpec reports the current image spec. Body: ImageSpec.
	KindImageSpec
	// KindStreamIsStarted reports that frames are flowing.
	KindStreamIsStarted
	// KindStreamIsStopped reports that no stream is running.
	KindStreamIsStopped
	// KindSupportedSpecs lists the specs the device can produce.
	// Body: N consecutive ImageSpecs.
	KindSupportedSpecs
	// KindWebcamIsClosed reports that no device is open.
	KindWebcamIsClosed
	// KindWebcamIsOpened reports the name of the open device.
	KindWebcamIsOpened
	// KindWebcamList lists device names as NUL-terminated strings, the
	// last followed by a second NUL.
	KindWebcamList

	// Server errors.

	// KindInvalidSpec rejects a SetCurrentSpec whose body is not a
	// 12-byte ImageSpec. Empty body.
	KindInvalidSpec
	// KindNoWebcamOpened rejects a request that needs an open device.
	KindNoWebcamOpened
	// KindRuntimeError reports an internal server failure.
	// Body: UTF-8 message.
	KindRuntimeError
	// KindWebcamUnavailable rejects an OpenWebcam for a busy or missing
	// device. Body: the device name the client asked for.
	KindWebcamUnavailable
)

// String returns the catalog name of the kind for logging.
func (k Kind) String() string {
	switch k {
	case KindInvalidMsg:
		return "INVALID_MSG"
	case KindTerminatingConnection:
		return "TERMINATING_CONNECTION"
	case KindGetWebcamStatus:
		return "GET_WEBCAM_STATUS"
	case KindGetWebcamList:
		return "GET_WEBCAM_LIST"
	case KindOpenWebcam:
		return "OPEN_WEBCAM"
	case KindCloseWebcam:
		return "CLOSE_WEBCAM"
	case KindGetStreamStatus:
		return "GET_STREAM_STATUS"
	case KindGetCurrentSpec:
		return "GET_CURRENT_SPEC"
	case KindGetSupportedSpecs:
		return "GET_SUPPORTED_SPECS"
	case KindSetCurrentSpec:
		return "SET_CURRENT_SPEC"
	case KindStartStream:
		return "START_STREAM"
	case KindStopStream:
		return "STOP_STREAM"
	case KindFrame:
		return "FRAME"
	case KindImageSpec:
		return "IMAGE_SPEC"
	case KindStreamIsStarted:
		return "STREAM_IS_STARTED"
	case KindStreamIsStopped:
		return "STREAM_IS_STOPPED"
	case KindSupportedSpecs:
		return "SUPPORTED_SPECS"
	case KindWebcamIsClosed:
		return "WEBCAM_IS_CLOSED"
	case KindWebcamIsOpened:
		return "WEBCAM_IS_OPENED"
	case KindWebcamList:
		return "WEBCAM_LIST"
	case KindInvalidSpec:
		return "INVALID_SPEC"
	case KindNoWebcamOpened:
		return "NO_WEBCAM_OPENED"
	case KindRuntimeError:
		return "RUNTIME_ERROR"
	case KindWebcamUnavailable:
		return "WEBCAM_UNAVAILABLE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(k))
	}
}
