package dialer

import (
	"context"
	"net"

	"github.com/die-net/proxyctl/internal/socks5"
)

// SOCKS5ProxyDialer reaches targets through a SOCKS5 proxy.
type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	auth      socks5.Auth
	direct    Dialer
}

// NewSOCKS5ProxyDialer constructs a SOCKS5 dialer for proxyAddr. If username
// is non-empty, username/password authentication is offered.
func NewSOCKS5ProxyDialer(cfg Config, proxyAddr, username, password string) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		auth:      socks5.Auth{Username: username, Password: password},
		direct:    NewDirectDialer(cfg),
	}
}

func (d *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return dialThrough(ctx, d.cfg, d.direct, "socks5", network, d.proxyAddr, address, func(_ context.Context, c net.Conn) (net.Conn, error) {
		if err := socks5.Handshake(c, d.auth, address); err != nil {
			return nil, err
		}
		return c, nil
	})
}
