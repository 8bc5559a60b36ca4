package proxy

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

var ErrInvalidUpstream = errors.New("invalid upstream")

// Upstream is the remote proxy a listener forwards to. It is not modified
// once a listener has been started with it.
type Upstream struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Addr returns host:port suitable for dialing.
func (u Upstream) Addr() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

func (u Upstream) HasAuth() bool {
	return u.Username != ""
}

func (u Upstream) Validate() error {
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidUpstream)
	}
	if u.Port < 1 || u.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidUpstream, u.Port)
	}
	return nil
}

// String omits credentials so upstreams can be logged.
func (u Upstream) String() string {
	return u.Addr()
}
