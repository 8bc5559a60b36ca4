package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/die-net/proxyctl/internal/dialer"
)

// maxResponseHead caps how much of an upstream response is buffered while
// looking for the end of its header block.
const maxResponseHead = 64 << 10

// connectEstablished is the only thing recognized as a successful CONNECT
// reply. Upstreams that phrase the reason differently are treated as failures.
var connectEstablished = []byte("200 Connection established")

// HTTPForwarder serves a local HTTP proxy that forwards everything to a
// single upstream HTTP proxy.
//
// It supports:
// - CONNECT tunneling (CONNECT to upstream, then Relay)
// - GET forwarding (one upstream connection per request, Connection: close)
type HTTPForwarder struct {
	ctx      context.Context
	cfg      Config
	upstream Upstream
	dialer   dialer.Dialer
	log      zerolog.Logger
	srv      *http.Server
}

// NewHTTPForwarder constructs an HTTP forwarder for upstream.
//
// Serve starts accepting connections on a listener; Close stops the
// underlying http.Server. Tunnels already handed to Relay are not affected
// by Close; they end when ctx is canceled or either side hangs up.
func NewHTTPForwarder(ctx context.Context, cfg Config, upstream Upstream) *HTTPForwarder {
	if ctx == nil {
		ctx = context.Background()
	}
	h := &HTTPForwarder{
		ctx:      ctx,
		cfg:      cfg,
		upstream: upstream,
		dialer:   cfg.dialer(),
		log:      cfg.Logger,
	}
	h.srv = &http.Server{
		Handler:           http.HandlerFunc(h.handle),
		ReadHeaderTimeout: cfg.NegotiationTimeout,
		ErrorLog:          stdlog.New(h.log, "", 0),
		BaseContext: func(net.Listener) context.Context {
			return h.ctx
		},
	}
	return h
}

// Serve serves proxy requests on ln until Close is called.
func (s *HTTPForwarder) Serve(ln net.Listener) error {
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops accepting connections.
func (s *HTTPForwarder) Close() error {
	return s.srv.Close()
}

func (s *HTTPForwarder) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.EqualFold(r.Method, http.MethodConnect):
		s.handleConnect(w, r)
	case strings.EqualFold(r.Method, http.MethodGet):
		s.handleGet(w, r)
	default:
		http.Error(w, fmt.Sprintf("Unsupported method (%q)", r.Method), http.StatusNotImplemented)
	}
}

func (s *HTTPForwarder) connLogger(r *http.Request) zerolog.Logger {
	return s.log.With().
		Str("conn", uuid.NewString()).
		Str("client", r.RemoteAddr).
		Str("method", r.Method).
		Str("target", r.RequestURI).
		Logger()
}

func (s *HTTPForwarder) handleConnect(w http.ResponseWriter, r *http.Request) {
	log := s.connLogger(r)
	ctx := r.Context()

	clientConn, br, err := hijack(w)
	if err != nil {
		log.Error().Err(err).Msg("hijack failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Debug().Str("state", "upstream_connecting").Send()

	upConn, head, rest, ok, err := s.openTunnel(ctx, r.RequestURI)
	if err != nil {
		log.Warn().Err(err).Msg("connect failed")
		_ = writeError(clientConn, http.StatusInternalServerError, "Error: "+err.Error())
		_ = clientConn.Close()
		return
	}

	if !ok {
		log.Warn().Str("response", firstLine(head)).Msg("upstream rejected CONNECT")
		_ = upConn.Close()
		_ = writeError(clientConn, http.StatusBadGateway, "Upstream proxy connection failed")
		_ = clientConn.Close()
		return
	}

	if _, err := io.WriteString(clientConn, "HTTP/1.1 200 Connection established\r\n\r\n"); err != nil {
		log.Debug().Err(err).Msg("write connect reply")
		_ = upConn.Close()
		_ = clientConn.Close()
		return
	}
	if len(rest) > 0 {
		if _, err := clientConn.Write(rest); err != nil {
			_ = upConn.Close()
			_ = clientConn.Close()
			return
		}
	}

	log.Debug().Str("state", "tunneling").Send()

	if err := Relay(ctx, withBuffered(clientConn, br), upConn); err != nil {
		log.Debug().Err(err).Msg("tunnel ended with transport error")
	}

	log.Debug().Str("state", "closed").Send()
}

// openTunnel dials the upstream and asks it to CONNECT to target. It returns
// the upstream's reply, any bytes the upstream sent after it, and whether
// the upstream accepted. On error the upstream connection is closed.
func (s *HTTPForwarder) openTunnel(ctx context.Context, target string) (upConn net.Conn, head, rest []byte, ok bool, err error) {
	upConn, err = s.dialer.DialContext(ctx, "tcp", s.upstream.Addr())
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("dial upstream: %w", err)
	}

	if s.cfg.NegotiationTimeout > 0 {
		_ = upConn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	if _, err := fmt.Fprintf(upConn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target); err != nil {
		_ = upConn.Close()
		return nil, nil, nil, false, fmt.Errorf("upstream connect write: %w", err)
	}

	head, rest, ok, err = readConnectReply(upConn)
	if err != nil {
		_ = upConn.Close()
		return nil, nil, nil, false, fmt.Errorf("upstream connect read: %w", err)
	}

	if s.cfg.NegotiationTimeout > 0 {
		_ = upConn.SetDeadline(time.Time{})
	}
	return upConn, head, rest, ok, nil
}

func (s *HTTPForwarder) handleGet(w http.ResponseWriter, r *http.Request) {
	log := s.connLogger(r)

	clientConn, _, err := hijack(w)
	if err != nil {
		log.Error().Err(err).Msg("hijack failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	log.Debug().Str("state", "upstream_connecting").Send()

	headSent, err := s.forward(r.Context(), clientConn, r)
	if err != nil {
		if headSent {
			log.Debug().Err(err).Msg("response forwarding ended with transport error")
		} else {
			log.Warn().Err(err).Msg("request failed")
			_ = writeError(clientConn, http.StatusInternalServerError, "Error: "+err.Error())
		}
	}

	log.Debug().Str("state", "closed").Send()
}

// forward sends r to the upstream on a fresh connection and copies the
// response to client until the upstream closes. headSent reports whether
// any part of the response reached the client.
func (s *HTTPForwarder) forward(ctx context.Context, client io.Writer, r *http.Request) (headSent bool, err error) {
	upConn, err := s.dialer.DialContext(ctx, "tcp", s.upstream.Addr())
	if err != nil {
		return false, fmt.Errorf("dial upstream: %w", err)
	}
	defer upConn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = upConn.Close()
	})
	defer stop()

	if s.cfg.NegotiationTimeout > 0 {
		_ = upConn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	if _, err := upConn.Write(buildRequest(r)); err != nil {
		return false, fmt.Errorf("upstream write: %w", err)
	}

	head, rest, err := readHead(upConn, maxResponseHead)
	if err != nil {
		return false, fmt.Errorf("upstream read: %w", err)
	}

	if s.cfg.NegotiationTimeout > 0 {
		_ = upConn.SetDeadline(time.Time{})
	}

	resp, err := parseResponseHead(head)
	if err != nil {
		return false, err
	}

	if _, err := client.Write(resp.encode()); err != nil {
		return true, fmt.Errorf("client write: %w", err)
	}
	if len(rest) > 0 {
		if _, err := client.Write(rest); err != nil {
			return true, fmt.Errorf("client write: %w", err)
		}
	}

	_, err = pump(client, upConn)
	return true, err
}

// buildRequest renders the request sent upstream. Hop-by-hop headers are
// dropped and Connection: close is forced so the upstream delimits the
// response by closing.
func buildRequest(r *http.Request) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", r.Method, r.RequestURI)
	fmt.Fprintf(&b, "Host: %s\r\n", r.Host)

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if isHopByHop(name) || strings.EqualFold(name, "Host") {
			continue
		}
		for _, v := range r.Header[name] {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}

	b.WriteString("Connection: close\r\n\r\n")
	return b.Bytes()
}

func isHopByHop(name string) bool {
	return strings.EqualFold(name, "Connection") || strings.EqualFold(name, "Proxy-Connection")
}

// hijack takes over the client connection from net/http. The returned
// reader holds any bytes the client sent past the request head.
func hijack(w http.ResponseWriter) (net.Conn, *bufio.Reader, error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	conn, brw, err := hj.Hijack()
	if err != nil {
		return nil, nil, fmt.Errorf("hijack: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, brw.Reader, nil
}

// bufferedConn replays bytes net/http read ahead before handing over the
// connection.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func withBuffered(c net.Conn, br *bufio.Reader) net.Conn {
	if br == nil || br.Buffered() == 0 {
		return c
	}
	return &bufferedConn{Conn: c, r: br}
}

// writeError simulates http.Error() for use on a hijacked connection.
func writeError(w io.Writer, code int, msg string) error {
	body := msg + "\n"
	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		code, http.StatusText(code), len(body), body)
	return err
}

func firstLine(b []byte) string {
	line, _, _ := bytes.Cut(b, []byte("\r\n"))
	return string(line)
}
