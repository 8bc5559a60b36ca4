package proxy

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// loopbackHost is the only address listeners bind to.
const loopbackHost = "127.0.0.1"

// ListenLoopback binds 127.0.0.1:port. Port 0 picks a free port. Accepted
// TCP connections get ka applied, so an all-zero ka turns keepalive off
// rather than falling back to the runtime default.
func ListenLoopback(ctx context.Context, port int, ka net.KeepAliveConfig) (net.Listener, error) {
	addr := net.JoinHostPort(loopbackHost, strconv.Itoa(port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return &keepAliveListener{Listener: ln, ka: ka}, nil
}

type keepAliveListener struct {
	net.Listener
	ka net.KeepAliveConfig
}

func (l *keepAliveListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(l.ka)
	}
	return c, nil
}

// listenerPort reports the port ln is bound to.
func listenerPort(ln net.Listener) int {
	if ta, ok := ln.Addr().(*net.TCPAddr); ok {
		return ta.Port
	}
	return 0
}
