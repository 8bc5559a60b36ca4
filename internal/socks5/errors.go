package socks5

import (
	"errors"
	"fmt"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	ErrNoAcceptableMethod = errors.New("socks5: no acceptable authentication method")
	ErrAuthRequired       = errors.New("socks5: server requires username/password")
	ErrAuthFailed         = errors.New("socks5: authentication failed")
)

// Reply codes from RFC 1928 section 6.
const (
	RepSuccess             = txsocks5.RepSuccess
	RepServerFailure       = txsocks5.RepServerFailure
	RepNotAllowed          = txsocks5.RepNotAllowed
	RepNetworkUnreachable  = txsocks5.RepNetworkUnreachable
	RepHostUnreachable     = txsocks5.RepHostUnreachable
	RepConnectionRefused   = txsocks5.RepConnectionRefused
	RepTTLExpired          = txsocks5.RepTTLExpired
	RepCommandNotSupported = txsocks5.RepCommandNotSupported
	RepAddressNotSupported = txsocks5.RepAddressNotSupported
)

// CmdConnect is the only command Handshake sends.
const CmdConnect = txsocks5.CmdConnect

// RFC 1928: 0xFF in a method selection reply rejects every offered method.
const methodNoAcceptable byte = 0xff

// ReplyError is a non-success reply code returned by a server.
type ReplyError byte

func (e ReplyError) Error() string {
	var reason string
	switch byte(e) {
	case RepServerFailure:
		reason = "general server failure"
	case RepNotAllowed:
		reason = "connection not allowed by ruleset"
	case RepNetworkUnreachable:
		reason = "network unreachable"
	case RepHostUnreachable:
		reason = "host unreachable"
	case RepConnectionRefused:
		reason = "connection refused"
	case RepTTLExpired:
		reason = "TTL expired"
	case RepCommandNotSupported:
		reason = "command not supported"
	case RepAddressNotSupported:
		reason = "address type not supported"
	default:
		return fmt.Sprintf("socks5: reply code 0x%02x", byte(e))
	}
	return "socks5: " + reason
}
