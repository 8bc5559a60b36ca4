package socks5

import (
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

// Auth holds optional username/password credentials (RFC 1929). An empty
// Username means no authentication.
type Auth struct {
	Username string
	Password string
}

func (a Auth) enabled() bool {
	return a.Username != ""
}

// Handshake negotiates with the SOCKS5 server on rw and asks it to CONNECT
// to address. Once it returns nil, rw carries the tunneled stream. A refused
// CONNECT is reported as a ReplyError.
func Handshake(rw io.ReadWriter, auth Auth, address string) error {
	if err := negotiate(rw, auth); err != nil {
		return err
	}
	return connect(rw, address)
}

func negotiate(rw io.ReadWriter, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.enabled() {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(rw); err != nil {
		return fmt.Errorf("socks5 negotiation write: %w", err)
	}
	neg, err := txsocks5.NewNegotiationReplyFrom(rw)
	if err != nil {
		return fmt.Errorf("socks5 negotiation read: %w", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if !auth.enabled() {
			return ErrAuthRequired
		}
		return authenticate(rw, auth)
	case methodNoAcceptable:
		return ErrNoAcceptableMethod
	default:
		return fmt.Errorf("socks5: server chose unknown method 0x%02x", neg.Method)
	}
}

func authenticate(rw io.ReadWriter, auth Auth) error {
	req := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password))
	if _, err := req.WriteTo(rw); err != nil {
		return fmt.Errorf("socks5 auth write: %w", err)
	}
	rep, err := txsocks5.NewUserPassNegotiationReplyFrom(rw)
	if err != nil {
		return fmt.Errorf("socks5 auth read: %w", err)
	}
	if rep.Status != txsocks5.UserPassStatusSuccess {
		return ErrAuthFailed
	}
	return nil
}

func connect(rw io.ReadWriter, address string) error {
	atyp, host, port, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("socks5: target %q: %w", address, err)
	}
	// ParseAddress length-prefixes domain names; NewRequest adds its own.
	if atyp == txsocks5.ATYPDomain {
		host = host[1:]
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, host, port).WriteTo(rw); err != nil {
		return fmt.Errorf("socks5 request write: %w", err)
	}
	rep, err := txsocks5.NewReplyFrom(rw)
	if err != nil {
		return fmt.Errorf("socks5 reply read: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return ReplyError(rep.Rep)
	}
	return nil
}
