package proxy

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/proxyctl/internal/testutil"
)

func freePort(t *testing.T) int {
	t.Helper()

	_, portStr, err := net.SplitHostPort(testutil.ClosedPort(t))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestRegistryStart(t *testing.T) {
	reg := newTestRegistry(t)
	up := Upstream{Host: "127.0.0.1", Port: 3128}

	h, err := reg.StartHTTP(0, up)
	require.NoError(t, err)
	r, err := reg.StartRaw(0, up)
	require.NoError(t, err)

	assert.NotEmpty(t, h.ID)
	assert.NotEqual(t, h.ID, r.ID)
	assert.Equal(t, ProtocolHTTP, h.Protocol)
	assert.Equal(t, ProtocolRaw, r.Protocol)
	assert.Equal(t, StateListening, h.State())
	assert.Equal(t, up, h.Upstream)
	assert.Equal(t, "127.0.0.1", h.Addr().(*net.TCPAddr).IP.String())
	assert.Equal(t, h.LocalPort, h.Addr().(*net.TCPAddr).Port)

	got, ok := reg.Lookup(r.LocalPort)
	require.True(t, ok)
	assert.Same(t, r, got)

	ls := reg.Listeners()
	require.Len(t, ls, 2)
	assert.Less(t, ls[0].LocalPort, ls[1].LocalPort)
}

func TestRegistryPortInUse(t *testing.T) {
	reg := newTestRegistry(t)
	up := Upstream{Host: "127.0.0.1", Port: 3128}

	first, err := reg.StartHTTP(0, up)
	require.NoError(t, err)

	_, err = reg.StartRaw(first.LocalPort, up)
	require.ErrorIs(t, err, ErrPortInUse)

	// The first listener is untouched.
	got, ok := reg.Lookup(first.LocalPort)
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Len(t, reg.Listeners(), 1)
}

func TestRegistryBindError(t *testing.T) {
	reg := newTestRegistry(t)

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	port := occupied.Addr().(*net.TCPAddr).Port
	_, err = reg.StartHTTP(port, Upstream{Host: "127.0.0.1", Port: 3128})
	require.ErrorIs(t, err, ErrBind)
	assert.Empty(t, reg.Listeners())

	_, err = reg.StartHTTP(70000, Upstream{Host: "127.0.0.1", Port: 3128})
	require.ErrorIs(t, err, ErrBind)
}

func TestRegistryInvalidUpstream(t *testing.T) {
	reg := newTestRegistry(t)

	for _, up := range []Upstream{
		{Port: 8080},
		{Host: "proxy.example", Port: 0},
		{Host: "proxy.example", Port: 65536},
	} {
		_, err := reg.StartHTTP(0, up)
		assert.ErrorIs(t, err, ErrInvalidUpstream)
	}
}

func TestRegistryStopAll(t *testing.T) {
	reg := newTestRegistry(t)
	up := Upstream{Host: "127.0.0.1", Port: 3128}

	port := freePort(t)
	h, err := reg.StartHTTP(port, up)
	require.NoError(t, err)
	r, err := reg.StartRaw(0, up)
	require.NoError(t, err)

	require.NoError(t, reg.StopAll())
	assert.Empty(t, reg.Listeners())

	for _, l := range []*Listener{h, r} {
		assert.Equal(t, StateStopped, l.State())
		select {
		case <-l.Done():
		default:
			t.Fatalf("listener on %d still serving", l.LocalPort)
		}
		assert.NoError(t, l.Err())

		_, err := net.DialTimeout("tcp", l.Addr().String(), time.Second)
		assert.Error(t, err, "port %d still accepting", l.LocalPort)
	}

	// Ports can be reused afterwards.
	again, err := reg.StartHTTP(port, up)
	require.NoError(t, err)
	assert.Equal(t, port, again.LocalPort)
}

func TestRegistryRemovesFailedListener(t *testing.T) {
	for _, proto := range []Protocol{ProtocolHTTP, ProtocolRaw} {
		t.Run(proto.String(), func(t *testing.T) {
			reg := newTestRegistry(t)
			up := Upstream{Host: "127.0.0.1", Port: 3128}

			port := freePort(t)
			l, err := reg.Start(proto, port, up)
			require.NoError(t, err)

			// Closing the socket underneath the server fails its accept loop.
			require.NoError(t, l.ln.Close())
			select {
			case <-l.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("accept loop did not exit")
			}

			assert.Error(t, l.Err())
			assert.Equal(t, StateStopped, l.State())
			_, ok := reg.Lookup(port)
			assert.False(t, ok)
			assert.Empty(t, reg.Listeners())

			again, err := reg.Start(proto, port, up)
			require.NoError(t, err)
			assert.Equal(t, StateListening, again.State())
			require.NoError(t, reg.StopAll())
		})
	}
}

func TestRegistryStopAllKeepsInFlightConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)

	reg := NewRegistry(context.Background(), testConfig())
	l, err := reg.StartRaw(0, upstreamFor(t, echoLn))
	require.NoError(t, err)

	c := dialListener(t, l)
	testutil.AssertEcho(t, c, c, []byte("before"))

	require.NoError(t, reg.StopAll())
	testutil.AssertEcho(t, c, c, []byte("after stop"))

	// Close tears down what StopAll left running.
	require.NoError(t, reg.Close())
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = c.Read(make([]byte, 1))
	require.Error(t, err)

	_, err = reg.StartRaw(0, upstreamFor(t, echoLn))
	require.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistryConcurrentStart(t *testing.T) {
	reg := newTestRegistry(t)
	up := Upstream{Host: "127.0.0.1", Port: 3128}
	port := freePort(t)

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := reg.StartHTTP(port, up)
			errs <- err
		}()
	}

	var ok int
	for i := 0; i < n; i++ {
		if err := receive(t, errs); err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrPortInUse)
		}
	}
	assert.Equal(t, 1, ok)
}
