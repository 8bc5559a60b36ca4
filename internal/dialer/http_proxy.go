package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// HTTPProxyDialer reaches targets through an HTTP or HTTPS proxy with the
// CONNECT method.
type HTTPProxyDialer struct {
	cfg    Config
	addr   string
	tls    *tls.Config
	auth   string
	direct Dialer
}

// NewHTTPProxyDialer constructs a CONNECT dialer for proxyURL. An https URL
// wraps the proxy connection in TLS before CONNECT. A non-empty username
// adds Basic Proxy-Authorization.
func NewHTTPProxyDialer(cfg Config, proxyURL *url.URL, username, password string) (*HTTPProxyDialer, error) {
	if proxyURL == nil {
		return nil, errors.New("http proxy dialer: missing proxy url")
	}
	if proxyURL.Hostname() == "" {
		return nil, errors.New("http proxy dialer: invalid proxy host")
	}

	d := &HTTPProxyDialer{
		cfg:    cfg,
		addr:   proxyURL.Host,
		direct: NewDirectDialer(cfg),
	}

	switch proxyURL.Scheme {
	case "http":
	case "https":
		d.tls = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: proxyURL.Hostname()}
	default:
		return nil, fmt.Errorf("http proxy dialer: unsupported scheme: %q", proxyURL.Scheme)
	}

	if username != "" {
		d.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	}
	return d, nil
}

// ProxyAddr returns the proxy host:port.
func (d *HTTPProxyDialer) ProxyAddr() string {
	return d.addr
}

// DialContext returns a connection tunneled to address. Any 2xx reply to
// CONNECT counts as success.
func (d *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return dialThrough(ctx, d.cfg, d.direct, "http", network, d.addr, address, func(ctx context.Context, c net.Conn) (net.Conn, error) {
		if d.tls != nil {
			tc := tls.Client(c, d.tls)
			if err := tc.HandshakeContext(ctx); err != nil {
				return nil, fmt.Errorf("tls handshake: %w", err)
			}
			c = tc
		}
		return d.connect(c, address)
	})
}

func (d *HTTPProxyDialer) connect(c net.Conn, address string) (net.Conn, error) {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}
	if d.auth != "" {
		req.Header.Set("Proxy-Authorization", d.auth)
	}
	if err := req.Write(c); err != nil {
		return nil, fmt.Errorf("connect write: %w", err)
	}

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, fmt.Errorf("connect read: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("connect refused: %s", resp.Status)
	}
	return withBuffered(c, br), nil
}
