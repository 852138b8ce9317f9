//go:build !linux

package webcam

import "github.com/rotisserie/eris"

// Open is only implemented for V4L2 hosts.
func Open(name string) (Device, error) {
	return nil, eris.Errorf("cannot open %s: video capture requires a V4L2 (Linux) host", name)
}
