package proxy

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/proxyctl/internal/dialer"
)

type Config struct {
	// DialTimeout bounds the TCP connect to the upstream when Dialer is nil.
	DialTimeout time.Duration

	// NegotiationTimeout bounds reading the upstream's response head.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// Dialer reaches the upstream target. Defaults to a direct dialer.
	Dialer dialer.Dialer

	Logger zerolog.Logger
}

func (c Config) dialer() dialer.Dialer {
	if c.Dialer != nil {
		return c.Dialer
	}
	return dialer.NewDirectDialer(dialer.Config{DialTimeout: c.DialTimeout, KeepAlive: c.KeepAlive})
}
