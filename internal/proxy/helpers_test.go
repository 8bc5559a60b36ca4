package proxy

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/die-net/proxyctl/internal/testutil"
)

func testConfig() Config {
	return Config{
		DialTimeout:        2 * time.Second,
		NegotiationTimeout: 2 * time.Second,
		Logger:             zerolog.Nop(),
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	reg := NewRegistry(context.Background(), testConfig())
	t.Cleanup(func() {
		_ = reg.Close()
	})
	return reg
}

func upstreamFor(t *testing.T, ln net.Listener) Upstream {
	t.Helper()
	return upstreamAt(t, ln.Addr().String())
}

func upstreamAt(t *testing.T, addr string) Upstream {
	t.Helper()

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Upstream{Host: host, Port: port}
}

// startConnectProxy starts a fake upstream HTTP proxy. It answers every
// CONNECT with reply, and if reply is a success it splices the connection to
// the requested target. Every request it reads is sent on the returned
// channel.
func startConnectProxy(t *testing.T, ctx context.Context, reply string) (net.Listener, <-chan *http.Request) {
	t.Helper()

	reqs := make(chan *http.Request, 16)
	ln := testutil.StartServer(t, ctx, func(c net.Conn) {
		br := bufio.NewReader(c)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		reqs <- req

		if _, err := io.WriteString(c, reply); err != nil {
			return
		}
		if req.Method != http.MethodConnect || reply != "HTTP/1.1 200 Connection established\r\n\r\n" {
			// Wait for the proxy to hang up.
			_, _ = io.Copy(io.Discard, br)
			return
		}

		var d net.Dialer
		dst, err := d.DialContext(ctx, "tcp", req.RequestURI)
		if err != nil {
			return
		}
		defer dst.Close()

		go func() {
			_, _ = io.Copy(dst, br)
			_ = dst.Close()
		}()
		_, _ = io.Copy(c, dst)
	})
	return ln, reqs
}

// startHTTPUpstream starts a fake upstream HTTP proxy for plain requests.
// handler gets the parsed request and writes the raw response to c.
func startHTTPUpstream(t *testing.T, ctx context.Context, handler func(req *http.Request, c net.Conn)) (net.Listener, <-chan *http.Request) {
	t.Helper()

	reqs := make(chan *http.Request, 16)
	ln := testutil.StartServer(t, ctx, func(c net.Conn) {
		req, err := http.ReadRequest(bufio.NewReader(c))
		if err != nil {
			return
		}
		reqs <- req
		handler(req, c)
	})
	return ln, reqs
}

func dialListener(t *testing.T, l *Listener) net.Conn {
	t.Helper()

	c, err := net.DialTimeout("tcp", l.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	return c
}

// sendConnect writes a CONNECT for target on c and reads the reply head.
func sendConnect(t *testing.T, c net.Conn, target string) (*http.Response, *bufio.Reader) {
	t.Helper()

	_, err := io.WriteString(c, "CONNECT "+target+" HTTP/1.1\r\nHost: "+target+"\r\n\r\n")
	require.NoError(t, err)

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	require.NoError(t, err)
	return resp, br
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}
