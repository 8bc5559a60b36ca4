package proxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// tcpPair returns two ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	other := receive(t, accepted)
	require.NotNil(t, other)

	t.Cleanup(func() {
		_ = dialed.Close()
		_ = other.Close()
	})
	return dialed, other
}

// startRelay wires client <-> [a | Relay | b] <-> server and returns the outer
// ends plus a channel that receives Relay's result.
func startRelay(t *testing.T, ctx context.Context) (client, server net.Conn, done <-chan error) {
	t.Helper()

	client, a := tcpPair(t)
	b, server := tcpPair(t)

	ch := make(chan error, 1)
	go func() {
		ch <- Relay(ctx, a, b)
	}()
	return client, server, ch
}

func TestRelayBothDirections(t *testing.T) {
	client, server, done := startRelay(t, context.Background())

	_, err := client.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))

	_, err = server.Write([]byte("pong"))
	require.NoError(t, err)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf))

	require.NoError(t, client.Close())
	require.NoError(t, receive(t, done))

	// The far side sees the close.
	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := server.Read(buf)
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestRelayPreservesOrder(t *testing.T) {
	client, server, _ := startRelay(t, context.Background())

	var want bytes.Buffer
	for i := 0; i < 1000; i++ {
		want.WriteByte(byte(i))
	}
	go func() {
		// Many small writes must arrive as one ordered stream.
		for _, b := range want.Bytes() {
			_, _ = client.Write([]byte{b})
		}
	}()

	got := make([]byte, want.Len())
	_ = server.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := io.ReadFull(server, got)
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), got)
}

func TestRelayClosesBothWhenServerHangsUp(t *testing.T) {
	client, server, done := startRelay(t, context.Background())

	require.NoError(t, server.Close())
	require.NoError(t, receive(t, done))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := client.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestRelayContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client, server, done := startRelay(t, ctx)

	cancel()
	require.NoError(t, receive(t, done))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := client.Read(make([]byte, 1))
	require.Error(t, err)

	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = server.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestPumpChunks(t *testing.T) {
	src := bytes.Repeat([]byte("x"), 3*chunkSize+1)
	w := &recordingWriter{}

	n, err := pump(w, bytes.NewReader(src))
	require.NoError(t, err)
	require.EqualValues(t, len(src), n)
	require.Equal(t, src, w.buf.Bytes())
	for _, size := range w.writes {
		require.LessOrEqual(t, size, chunkSize)
	}
}

type recordingWriter struct {
	buf    bytes.Buffer
	writes []int
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, len(p))
	return w.buf.Write(p)
}
