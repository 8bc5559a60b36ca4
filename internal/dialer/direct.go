package dialer

import (
	"context"
	"fmt"
	"net"
)

type directDialer struct {
	net.Dialer
	keepAlive net.KeepAliveConfig
}

// NewDirectDialer returns a Dialer that connects straight to the address.
// Keepalive is applied after connect so an all-zero config turns it off.
func NewDirectDialer(cfg Config) Dialer {
	return &directDialer{
		Dialer:    net.Dialer{Timeout: cfg.DialTimeout},
		keepAlive: cfg.KeepAlive,
	}
}

func (d *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	c, err := d.Dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(d.keepAlive)
	}
	return c, nil
}
