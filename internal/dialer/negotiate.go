package dialer

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// handshakeFunc runs a proxy protocol on a fresh connection to the proxy.
// It may return a different conn (TLS, buffered) to use afterwards.
type handshakeFunc func(ctx context.Context, c net.Conn) (net.Conn, error)

// dialThrough connects to proxyAddr, runs handshake under the negotiation
// deadline, and returns the resulting tunnel to address. Canceling ctx
// before the handshake finishes closes the connection.
func dialThrough(ctx context.Context, cfg Config, direct Dialer, kind, network, proxyAddr, address string, handshake handshakeFunc) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("%s proxy dial %s %s: unsupported network", kind, network, address)
	}

	c, err := direct.DialContext(ctx, network, proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("%s proxy: %w", kind, err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
	defer stop()

	if cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(cfg.NegotiationTimeout))
	}

	tc, err := handshake(ctx, c)
	if err == nil && !stop() {
		err = ctx.Err()
	}
	if err != nil {
		_ = c.Close()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("%s proxy dial %s: %w", kind, address, err)
	}

	if cfg.NegotiationTimeout > 0 {
		_ = tc.SetDeadline(time.Time{})
	}
	return tc, nil
}

// bufferedConn hands out bytes a handshake read past the proxy's reply
// before reading from the connection again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func withBuffered(c net.Conn, br *bufio.Reader) net.Conn {
	if br.Buffered() == 0 {
		return c
	}
	return &bufferedConn{Conn: c, r: br}
}
