package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrPortInUse is returned when the registry already has a listener on
	// the requested local port.
	ErrPortInUse = errors.New("local port already in use")

	// ErrBind wraps failures to open the local listening socket.
	ErrBind = errors.New("bind")

	// ErrRegistryClosed is returned by Start once Close has been called.
	ErrRegistryClosed = errors.New("registry closed")
)

// Protocol selects how a listener treats client connections.
type Protocol int

const (
	// ProtocolHTTP serves HTTP proxy requests and CONNECT tunnels through
	// an upstream HTTP proxy.
	ProtocolHTTP Protocol = iota
	// ProtocolRaw splices each accepted connection to the upstream as is.
	ProtocolRaw
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "http"
	case ProtocolRaw:
		return "raw"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

// State is the lifecycle state of a Listener.
type State int

const (
	StateListening State = iota
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type server interface {
	Serve(ln net.Listener) error
	Close() error
}

// Listener is a running local listener. It is created by Registry.StartHTTP
// or Registry.StartRaw and stopped only by the Registry.
type Listener struct {
	ID        string
	LocalPort int
	Protocol  Protocol
	Upstream  Upstream

	reg   *Registry
	state State // guarded by reg.mu

	ln   net.Listener
	srv  server
	done chan struct{}
	err  error // set before done is closed
}

// State reports whether the listener is still accepting connections.
func (l *Listener) State() State {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	return l.state
}

// Addr returns the bound loopback address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Done is closed once the accept loop has exited.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Err returns the error that ended the accept loop, or nil if it was
// stopped. It is only meaningful after Done is closed.
//
// A listener whose accept loop fails removes itself from the registry, so
// its port can be started again.
func (l *Listener) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

func (l *Listener) serve(log zerolog.Logger) {
	defer close(l.done)

	err := l.srv.Serve(l.ln)
	if err == nil {
		return
	}
	log.Error().Err(err).Msg("listener failed")
	l.err = err

	r := l.reg
	r.mu.Lock()
	l.state = StateStopped
	if r.listeners[l.LocalPort] == l {
		delete(r.listeners, l.LocalPort)
	}
	r.mu.Unlock()

	_ = l.srv.Close()
	_ = l.ln.Close()
}

// Registry owns every running Listener. All methods are safe for concurrent
// use.
//
// Connections accepted by a listener run on the registry's context: StopAll
// leaves them to finish on their own, Close cancels them.
type Registry struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config

	mu        sync.Mutex
	closed    bool
	listeners map[int]*Listener
}

// NewRegistry returns an empty registry. Connections accepted by its
// listeners are canceled when ctx is done or Close is called.
func NewRegistry(ctx context.Context, cfg Config) *Registry {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Registry{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		listeners: make(map[int]*Listener),
	}
}

// StartHTTP starts an HTTP forwarding listener on 127.0.0.1:localPort.
// A localPort of 0 picks a free port; the listener's LocalPort reports it.
func (r *Registry) StartHTTP(localPort int, upstream Upstream) (*Listener, error) {
	return r.Start(ProtocolHTTP, localPort, upstream)
}

// StartRaw starts a raw forwarding listener on 127.0.0.1:localPort.
func (r *Registry) StartRaw(localPort int, upstream Upstream) (*Listener, error) {
	return r.Start(ProtocolRaw, localPort, upstream)
}

// Start starts a listener of the given protocol on 127.0.0.1:localPort. It
// fails with ErrPortInUse if the registry already holds localPort and with
// ErrBind if the socket cannot be opened.
func (r *Registry) Start(proto Protocol, localPort int, upstream Upstream) (*Listener, error) {
	if err := upstream.Validate(); err != nil {
		return nil, err
	}
	if localPort < 0 || localPort > 65535 {
		return nil, fmt.Errorf("%w: local port %d out of range", ErrBind, localPort)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, ok := r.listeners[localPort]; ok && localPort != 0 {
		return nil, fmt.Errorf("%w: %d", ErrPortInUse, localPort)
	}

	ln, err := ListenLoopback(r.ctx, localPort, r.cfg.KeepAlive)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}
	port := listenerPort(ln)

	l := &Listener{
		ID:        uuid.NewString(),
		LocalPort: port,
		Protocol:  proto,
		Upstream:  upstream,
		reg:       r,
		state:     StateListening,
		ln:        ln,
		done:      make(chan struct{}),
	}

	log := r.cfg.Logger.With().
		Str("listener", l.ID).
		Stringer("protocol", proto).
		Int("port", port).
		Stringer("upstream", upstream).
		Logger()

	cfg := r.cfg
	cfg.Logger = log

	switch proto {
	case ProtocolHTTP:
		l.srv = NewHTTPForwarder(r.ctx, cfg, upstream)
	case ProtocolRaw:
		l.srv = NewRawForwarder(r.ctx, cfg, upstream)
	default:
		_ = ln.Close()
		return nil, fmt.Errorf("unknown protocol %s", proto)
	}

	r.listeners[port] = l
	go l.serve(log)

	log.Info().Msg("listener started")
	return l, nil
}

// Lookup returns the listener bound to localPort.
func (r *Registry) Lookup(localPort int) (*Listener, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listeners[localPort]
	return l, ok
}

// Listeners returns the running listeners ordered by local port.
func (r *Registry) Listeners() []*Listener {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b *Listener) int {
		return a.LocalPort - b.LocalPort
	})
	return out
}

// StopAll stops every listener and removes it from the registry. It returns
// once every accept loop has exited, so the ports refuse new connections.
// Connections already accepted are not interrupted.
func (r *Registry) StopAll() error {
	r.mu.Lock()
	var (
		errs    []error
		stopped []*Listener
	)
	for port, l := range r.listeners {
		l.state = StateStopped
		if err := l.srv.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("stop listener on port %d: %w", port, err))
		}
		if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close listener on port %d: %w", port, err))
		}
		delete(r.listeners, port)
		stopped = append(stopped, l)
	}
	r.mu.Unlock()

	// A failing accept loop takes r.mu to remove itself, so wait unlocked.
	for _, l := range stopped {
		<-l.done
		r.cfg.Logger.Info().Str("listener", l.ID).Int("port", l.LocalPort).Msg("listener stopped")
	}
	return errors.Join(errs...)
}

// Close stops every listener, then cancels all in-flight connections. The
// registry cannot be used afterwards.
func (r *Registry) Close() error {
	err := r.StopAll()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	return err
}
