package broker

import (
	"fmt"

	"github.com/go-zeromq/zmq4"

	"github.com/brulejr/autohome/internal/infrastructure/config"
)

// Mode is how a socket attaches to its endpoint.
type Mode int

const (
	// ModeBind listens on the endpoint (server side).
	ModeBind Mode = iota + 1

	// ModeConnect dials out to the endpoint (client side).
	ModeConnect
)

// String returns "bind" or "connect".
func (m Mode) String() string {
	switch m {
	case ModeBind:
		return "bind"
	case ModeConnect:
		return "connect"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Endpoint is one socket's attachment: an address and a mode.
type Endpoint struct {
	Address string
	Mode    Mode
}

// String returns e.g. "bind tcp://*:5556".
func (e Endpoint) String() string {
	return e.Mode.String() + " " + e.Address
}

// Apply binds or connects sock according to the endpoint mode.
func (e Endpoint) Apply(sock zmq4.Socket) error {
	switch e.Mode {
	case ModeBind:
		return sock.Listen(e.Address)
	case ModeConnect:
		return sock.Dial(e.Address)
	default:
		return fmt.Errorf("%w: unknown socket mode %d", ErrInvalidConfig, int(e.Mode))
	}
}

// Wiring holds the resolved attachment for both relay sockets.
type Wiring struct {
	Publisher  Endpoint
	Subscriber Endpoint
}

// ResolveWiring decides whether the publisher and subscriber sockets bind or
// connect for the given role.
//
// A master binds both sockets and is the endpoint every other node dials; a
// coordinator connects both. There is no default: any other role is an
// ErrInvalidConfig.
func ResolveWiring(role config.Role, publisherAddress, subscriberAddress string) (Wiring, error) {
	var mode Mode
	switch role {
	case config.RoleMaster:
		mode = ModeBind
	case config.RoleCoordinator:
		mode = ModeConnect
	default:
		return Wiring{}, fmt.Errorf("%w: unknown broker role %v", ErrInvalidConfig, role)
	}

	return Wiring{
		Publisher:  Endpoint{Address: publisherAddress, Mode: mode},
		Subscriber: Endpoint{Address: subscriberAddress, Mode: mode},
	}, nil
}
