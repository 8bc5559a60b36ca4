package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// New constructs a Dialer that reaches targets through the upstream proxy at
// addr.
//
// Supported schemes:
//   - direct (addr is ignored)
//   - http, https
//   - socks4 (SOCKS4a; username is sent as the user id)
//   - socks5
//
// A default port is applied if addr is missing one.
func New(cfg Config, scheme, addr, username, password string) (Dialer, error) {
	scheme = strings.ToLower(scheme)

	if scheme == "direct" {
		return NewDirectDialer(cfg), nil
	}

	if addr == "" {
		return nil, errors.New("missing proxy address")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		port := defaultPortForScheme(scheme)
		if port == "" {
			return nil, fmt.Errorf("invalid proxy scheme: %q", scheme)
		}
		addr = net.JoinHostPort(addr, port)
	}

	switch scheme {
	case "http", "https":
		return NewHTTPProxyDialer(cfg, &url.URL{Scheme: scheme, Host: addr}, username, password)
	case "socks4":
		return NewSOCKS4ProxyDialer(cfg, addr, username), nil
	case "socks5":
		return NewSOCKS5ProxyDialer(cfg, addr, username, password), nil
	default:
		return nil, fmt.Errorf("invalid proxy scheme: %q", scheme)
	}
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	case "socks4", "socks5":
		return "1080"
	default:
		return ""
	}
}
