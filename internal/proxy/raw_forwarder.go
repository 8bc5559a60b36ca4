package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/die-net/proxyctl/internal/dialer"
)

// RawForwarder splices every accepted connection onto a new connection to
// the upstream. It speaks no protocol of its own: a SOCKS client talks to the
// upstream SOCKS server end to end through it.
//
// Upstream credentials are not used. No SOCKS negotiation or authentication
// happens here.
type RawForwarder struct {
	ctx      context.Context
	upstream Upstream
	dialer   dialer.Dialer
	log      zerolog.Logger

	mu     sync.Mutex
	closed bool
	lns    []net.Listener
}

// NewRawForwarder returns a forwarder that connects every accepted client
// to upstream and relays bytes both ways until either side closes.
func NewRawForwarder(ctx context.Context, cfg Config, upstream Upstream) *RawForwarder {
	if ctx == nil {
		ctx = context.Background()
	}
	if upstream.HasAuth() {
		cfg.Logger.Warn().Msg("raw listener does not authenticate to the upstream; credentials are left to the client")
	}
	return &RawForwarder{
		ctx:      ctx,
		upstream: upstream,
		dialer:   cfg.dialer(),
		log:      cfg.Logger,
	}
}

// Serve accepts connections on ln until Close is called, then returns nil.
func (s *RawForwarder) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.lns = append(s.lns, ln)
	s.mu.Unlock()

	for {
		c, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() { //nolint:staticcheck // Same check net/http uses for accept errors.
				s.log.Warn().Err(err).Msg("accept")
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handle(c)
	}
}

// Close stops every Serve loop. Connections already being relayed are left
// to finish.
func (s *RawForwarder) Close() error {
	s.mu.Lock()
	s.closed = true
	lns := s.lns
	s.lns = nil
	s.mu.Unlock()

	var errs []error
	for _, ln := range lns {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *RawForwarder) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *RawForwarder) handle(conn net.Conn) {
	log := s.log.With().
		Str("conn", uuid.NewString()).
		Stringer("client", conn.RemoteAddr()).
		Logger()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	up, err := s.dialer.DialContext(ctx, "tcp", s.upstream.Addr())
	if err != nil {
		log.Warn().Err(err).Msg("upstream connect failed")
		_ = conn.Close()
		return
	}

	log.Debug().Str("state", "relaying").Send()

	if err := Relay(ctx, conn, up); err != nil {
		log.Debug().Err(err).Msg("relay ended with transport error")
	}

	log.Debug().Str("state", "closed").Send()
}
