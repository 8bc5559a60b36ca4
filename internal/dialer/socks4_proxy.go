package dialer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
)

const (
	socks4Version        = 0x04
	socks4CmdConnect     = 0x01
	socks4ReplyGranted   = 0x5a
	socks4ReplyRejected  = 0x5b
	socks4ReplyNoIdentd  = 0x5c
	socks4ReplyBadUserID = 0x5d
)

// SOCKS4ProxyDialer dials outbound TCP connections via a SOCKS4 proxy. Host
// names are passed to the proxy using the SOCKS4a extension.
type SOCKS4ProxyDialer struct {
	cfg       Config
	proxyAddr string
	userID    string
	direct    Dialer
}

func NewSOCKS4ProxyDialer(cfg Config, proxyAddr, userID string) *SOCKS4ProxyDialer {
	return &SOCKS4ProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		userID:    userID,
		direct:    NewDirectDialer(cfg),
	}
}

func (d *SOCKS4ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	req, err := socks4ConnectRequest(address, d.userID)
	if err != nil {
		return nil, fmt.Errorf("socks4 proxy dial %s: %w", address, err)
	}

	return dialThrough(ctx, d.cfg, d.direct, "socks4", network, d.proxyAddr, address, func(_ context.Context, c net.Conn) (net.Conn, error) {
		if _, err := c.Write(req); err != nil {
			return nil, fmt.Errorf("connect write: %w", err)
		}

		// VN CD DSTPORT DSTIP
		var reply [8]byte
		if _, err := io.ReadFull(c, reply[:]); err != nil {
			return nil, fmt.Errorf("connect read: %w", err)
		}
		if reply[1] != socks4ReplyGranted {
			return nil, socks4ReplyError(reply[1])
		}
		return c, nil
	})
}

// socks4ConnectRequest encodes a CONNECT request. IPv4 targets are sent
// directly; anything else uses SOCKS4a (DSTIP 0.0.0.1 followed by the host).
func socks4ConnectRequest(address, userID string) ([]byte, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q", portStr)
	}

	req := []byte{socks4Version, socks4CmdConnect, 0, 0}
	binary.BigEndian.PutUint16(req[2:], uint16(port))

	var socks4a bool
	ip := net.ParseIP(host).To4()
	if ip == nil {
		if net.ParseIP(host) != nil {
			return nil, errors.New("socks4 does not support IPv6")
		}
		ip = net.IPv4(0, 0, 0, 1).To4()
		socks4a = true
	}
	req = append(req, ip...)
	req = append(req, userID...)
	req = append(req, 0)

	if socks4a {
		req = append(req, host...)
		req = append(req, 0)
	}
	return req, nil
}

func socks4ReplyError(code byte) error {
	switch code {
	case socks4ReplyRejected:
		return errors.New("request rejected or failed")
	case socks4ReplyNoIdentd:
		return errors.New("identd unreachable")
	case socks4ReplyBadUserID:
		return errors.New("user id mismatch")
	default:
		return fmt.Errorf("unknown reply code 0x%02x", code)
	}
}
