package testutil

import (
	"context"
	"fmt"
	"io"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/proxyctl/internal/socks5"
)

const socks5NoAcceptableMethod byte = 0xff

// SOCKS5Accept runs the server side of method negotiation on rw, checks
// credentials when auth.Username is set, and reads the client's request.
func SOCKS5Accept(rw io.ReadWriter, auth socks5.Auth) (*txsocks5.Request, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(rw)
	if err != nil {
		return nil, fmt.Errorf("socks5 negotiation read: %w", err)
	}

	want := byte(txsocks5.MethodNone)
	if auth.Username != "" {
		want = txsocks5.MethodUsernamePassword
	}
	if !slices.Contains(neg.Methods, want) {
		_, _ = txsocks5.NewNegotiationReply(socks5NoAcceptableMethod).WriteTo(rw)
		return nil, socks5.ErrNoAcceptableMethod
	}
	if _, err := txsocks5.NewNegotiationReply(want).WriteTo(rw); err != nil {
		return nil, fmt.Errorf("socks5 negotiation write: %w", err)
	}

	if auth.Username != "" {
		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(rw)
		if err != nil {
			return nil, fmt.Errorf("socks5 auth read: %w", err)
		}
		status := byte(txsocks5.UserPassStatusSuccess)
		if string(urq.Uname) != auth.Username || string(urq.Passwd) != auth.Password {
			status = txsocks5.UserPassStatusFailure
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(status).WriteTo(rw); err != nil {
			return nil, fmt.Errorf("socks5 auth write: %w", err)
		}
		if status != txsocks5.UserPassStatusSuccess {
			return nil, socks5.ErrAuthFailed
		}
	}

	req, err := txsocks5.NewRequestFrom(rw)
	if err != nil {
		return nil, fmt.Errorf("socks5 request read: %w", err)
	}
	return req, nil
}

// SOCKS5Reply writes a reply with code rep. bound is the server's outbound
// address; nil sends 0.0.0.0:0.
func SOCKS5Reply(w io.Writer, rep byte, bound net.Addr) error {
	atyp := byte(txsocks5.ATYPIPv4)
	host := []byte{0, 0, 0, 0}
	port := []byte{0, 0}

	if bound != nil {
		a, h, p, err := txsocks5.ParseAddress(bound.String())
		if err != nil {
			return fmt.Errorf("socks5: bound address %q: %w", bound, err)
		}
		if a == txsocks5.ATYPDomain {
			h = h[1:]
		}
		atyp, host, port = a, h, p
	}

	if _, err := txsocks5.NewReply(rep, atyp, host, port).WriteTo(w); err != nil {
		return fmt.Errorf("socks5 reply write: %w", err)
	}
	return nil
}

// DialFunc opens the outbound connection for a CONNECT request.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ServeSOCKS5Connect plays a SOCKS5 upstream for one client: it accepts a
// CONNECT request on conn, dials its target, and tells the client the
// outcome. On success it returns the outbound connection; the caller
// splices it to conn and closes both.
func ServeSOCKS5Connect(ctx context.Context, conn net.Conn, auth socks5.Auth, dial DialFunc) (net.Conn, error) {
	req, err := SOCKS5Accept(conn, auth)
	if err != nil {
		return nil, err
	}
	if req.Cmd != socks5.CmdConnect {
		_ = SOCKS5Reply(conn, socks5.RepCommandNotSupported, nil)
		return nil, socks5.ReplyError(socks5.RepCommandNotSupported)
	}

	dst, err := dial(ctx, "tcp", req.Address())
	if err != nil {
		_ = SOCKS5Reply(conn, socks5.RepHostUnreachable, nil)
		return nil, fmt.Errorf("socks5 connect %s: %w", req.Address(), err)
	}
	if err := SOCKS5Reply(conn, socks5.RepSuccess, dst.LocalAddr()); err != nil {
		_ = dst.Close()
		return nil, err
	}
	return dst, nil
}
