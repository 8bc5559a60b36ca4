// Package socks5 is the client side of a SOCKS5 CONNECT handshake, built on
// the wire types in github.com/txthinking/socks5. The SOCKS5 upstream dialer
// uses Handshake to open tunnels.
package socks5
