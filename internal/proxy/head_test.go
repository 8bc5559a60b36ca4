package proxy

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadHead(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		limit    int
		wantHead string
		wantRest string
		wantErr  error
	}{
		{
			name:     "head and body",
			input:    "HTTP/1.1 200 OK\r\nA: b\r\n\r\nbody",
			limit:    maxResponseHead,
			wantHead: "HTTP/1.1 200 OK\r\nA: b\r\n\r\n",
			wantRest: "body",
		},
		{
			name:     "eof before terminator",
			input:    "HTTP/1.1 200 OK\r\nA: b",
			limit:    maxResponseHead,
			wantHead: "HTTP/1.1 200 OK\r\nA: b",
		},
		{
			name:    "empty",
			input:   "",
			limit:   maxResponseHead,
			wantErr: errEmptyResponse,
		},
		{
			name:    "too large",
			input:   strings.Repeat("x", 3*chunkSize),
			limit:   chunkSize,
			wantErr: errHeadTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			head, rest, err := readHead(strings.NewReader(tt.input), tt.limit)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHead, string(head))
			assert.Equal(t, tt.wantRest, string(rest))
		})
	}
}

func TestReadHeadOneByteReads(t *testing.T) {
	r := iotest.OneByteReader(strings.NewReader("HTTP/1.1 204 No Content\r\n\r\nrest"))

	head, rest, err := readHead(r, maxResponseHead)
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 204 No Content\r\n\r\n", string(head))
	// Bytes after the terminator were never read.
	require.Empty(t, rest)
}

func TestReadHeadReadError(t *testing.T) {
	boom := errors.New("boom")
	_, _, err := readHead(io.MultiReader(strings.NewReader("HTTP/1.1"), iotest.ErrReader(boom)), maxResponseHead)
	require.ErrorIs(t, err, boom)
}

func TestReadConnectReply(t *testing.T) {
	tests := []struct {
		name     string
		input    io.Reader
		wantOK   bool
		wantHead string
		wantRest string
	}{
		{
			name:     "established with tunnel bytes",
			input:    strings.NewReader(established + "hello"),
			wantOK:   true,
			wantHead: established,
			wantRest: "hello",
		},
		{
			name:     "established split across reads",
			input:    io.MultiReader(strings.NewReader("HTTP/1.1 200 Connection established\r\n"), strings.NewReader("\r\n")),
			wantOK:   true,
			wantHead: established,
		},
		{
			// The next read would block; a rejection must not reach it.
			name:     "partial rejection",
			input:    io.MultiReader(strings.NewReader("HTTP/1.1 403 Forbidden\r\n"), blockingReader{}),
			wantHead: "HTTP/1.1 403 Forbidden\r\n",
		},
		{
			name:     "bare text",
			input:    io.MultiReader(strings.NewReader("nope"), blockingReader{}),
			wantHead: "nope",
		},
		{
			name:  "closed without reply",
			input: strings.NewReader(""),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			head, rest, ok, err := readConnectReply(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantHead, string(head))
			assert.Equal(t, tt.wantRest, string(rest))
		})
	}
}

func TestReadConnectReplyReadError(t *testing.T) {
	boom := errors.New("boom")
	_, _, _, err := readConnectReply(iotest.ErrReader(boom))
	require.ErrorIs(t, err, boom)
}

// blockingReader stands in for a peer that has gone quiet. Reading it panics.
type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	panic("read past the first chunk")
}

func TestParseResponseHead(t *testing.T) {
	resp, err := parseResponseHead([]byte("HTTP/1.1 301 Moved Permanently\r\n" +
		"Location:   http://example.com/\r\n" +
		"no colon here\r\n" +
		"X-Colons: a:b:c\r\n" +
		"\r\n" +
		"Ignored: after blank\r\n"))
	require.NoError(t, err)
	require.Equal(t, 301, resp.status)
	require.Equal(t, []header{
		{name: "Location", value: "http://example.com/"},
		{name: "X-Colons", value: "a:b:c"},
	}, resp.headers)

	require.Equal(t, "HTTP/1.1 301 Moved Permanently\r\n"+
		"Location: http://example.com/\r\n"+
		"X-Colons: a:b:c\r\n\r\n", string(resp.encode()))
}

func TestParseResponseHeadMalformed(t *testing.T) {
	for _, head := range []string{
		"",
		"HTTP/1.1\r\n\r\n",
		"HTTP/1.1 OK 200\r\n\r\n",
		"SIP/2.0 200 OK\r\n\r\n",
		"HTTP/1.1 42 Nope\r\n\r\n",
	} {
		_, err := parseResponseHead([]byte(head))
		assert.ErrorIs(t, err, errMalformedStatus, "head %q", head)
	}
}
