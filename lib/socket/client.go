package socket

import (
	"errors"
	"net"

	"github.com/rotisserie/eris"
)

// ErrBadAddress is returned by Connect for anything that is not an IPv4
// dotted quad.
var ErrBadAddress = errors.New("not an IPv4 address")

// Connect opens one outbound connection to ip:port, builds the session
// with factory, starts its reader, and returns it.
func Connect(ip string, port int, factory SessionFactory) (Session, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return nil, eris.Wrapf(ErrBadAddress, "%q", ip)
	}

	nc, err := net.DialTCP("tcp4", nil, &net.TCPAddr{IP: parsed.To4(), Port: port})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to connect to %s:%d", ip, port)
	}

	sess := factory(nc)
	sess.Start()
	return sess, nil
}
