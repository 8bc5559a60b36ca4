package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

var (
	headTerminator = []byte("\r\n\r\n")

	errHeadTooLarge    = errors.New("response head too large")
	errEmptyResponse   = errors.New("empty response from upstream")
	errMalformedStatus = errors.New("malformed status line")
)

// readHead reads from r until the end of an HTTP head. It returns the head,
// including the blank line, and whatever followed it in the last read.
//
// If r reaches EOF first, everything read so far is returned as the head.
// Once limit bytes have been read without a terminator, the buffer is
// returned along with errHeadTooLarge.
func readHead(r io.Reader, limit int) (head, rest []byte, err error) {
	return finishHead(r, nil, limit)
}

// finishHead is readHead for a head whose first bytes are already in buf.
func finishHead(r io.Reader, buf []byte, limit int) (head, rest []byte, err error) {
	c := getChunk()
	defer putChunk(c)

	var rerr error
	for {
		if i := bytes.Index(buf, headTerminator); i >= 0 {
			end := i + len(headTerminator)
			return buf[:end], buf[end:], nil
		}

		if rerr != nil {
			if rerr == io.EOF {
				if len(buf) == 0 {
					return nil, nil, errEmptyResponse
				}
				return buf, nil, nil
			}
			return nil, nil, rerr
		}

		if len(buf) >= limit {
			return buf, nil, errHeadTooLarge
		}

		var n int
		n, rerr = r.Read(c[:])
		buf = append(buf, c[:n]...)
	}
}

// readConnectReply reads an upstream's answer to CONNECT. The verdict comes
// from the first read alone: without the success token it is a rejection
// and nothing more is read. A reply that carries the token is read on to
// the end of its head, at most chunkSize bytes, so tunnel bytes sent with it
// are returned in rest.
func readConnectReply(r io.Reader) (head, rest []byte, ok bool, err error) {
	c := getChunk()
	defer putChunk(c)

	n, rerr := r.Read(c[:])
	if n == 0 && rerr != nil && rerr != io.EOF {
		return nil, nil, false, rerr
	}
	first := append([]byte(nil), c[:n]...)
	if !bytes.Contains(first, connectEstablished) {
		return first, nil, false, nil
	}
	if rerr != nil && rerr != io.EOF {
		return nil, nil, false, rerr
	}

	head, rest, err = finishHead(r, first, chunkSize)
	if errors.Is(err, errHeadTooLarge) {
		err = nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	return head, rest, true, nil
}

type header struct {
	name  string
	value string
}

type responseHead struct {
	status  int
	headers []header
}

// parseResponseHead parses a status line and the header lines that follow
// it, up to the first blank line. Header lines without a colon are skipped.
func parseResponseHead(head []byte) (responseHead, error) {
	lines := strings.Split(string(head), "\r\n")

	statusLine := lines[0]
	fields := strings.Fields(statusLine)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return responseHead{}, fmt.Errorf("%w: %q", errMalformedStatus, statusLine)
	}
	status, err := strconv.Atoi(fields[1])
	if err != nil || status < 100 || status > 999 {
		return responseHead{}, fmt.Errorf("%w: %q", errMalformedStatus, statusLine)
	}

	resp := responseHead{status: status}
	for _, line := range lines[1:] {
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		resp.headers = append(resp.headers, header{name: name, value: strings.TrimLeft(value, " \t")})
	}
	return resp, nil
}

func (h responseHead) encode() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", h.status, http.StatusText(h.status))
	for _, hdr := range h.headers {
		fmt.Fprintf(&b, "%s: %s\r\n", hdr.name, hdr.value)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}
