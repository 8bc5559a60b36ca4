// Package proxy implements the local forwarding proxy engine.
//
// It contains the HTTP forwarding listener (CONNECT and GET), the raw
// forwarding listener used for SOCKS profiles, the bidirectional relay shared
// by both, and the Registry that owns every running listener.
package proxy
