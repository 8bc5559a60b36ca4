// Package dialer provides outbound dialing implementations used by proxyctl.
//
// Dialers implement a small interface (DialContext). Listeners use the
// direct dialer to reach their upstream; the proxy dialers (HTTP CONNECT,
// SOCKS4a, SOCKS5) reach arbitrary targets through an upstream and back the
// profile check command.
package dialer
