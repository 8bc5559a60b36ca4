package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Relay pumps bytes between left and right until either side reaches EOF
// or fails, then closes both. Canceling ctx closes both connections.
//
// The returned error is the first transport failure, if any. Errors caused
// by Relay closing the connections itself are not reported.
func Relay(ctx context.Context, left, right net.Conn) error {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var g errgroup.Group

	g.Go(func() error {
		defer closeBoth()
		if _, err := pump(right, left); err != nil {
			return fmt.Errorf("relay %s -> %s: %w", left.RemoteAddr(), right.RemoteAddr(), err)
		}
		return nil
	})

	g.Go(func() error {
		defer closeBoth()
		if _, err := pump(left, right); err != nil {
			return fmt.Errorf("relay %s -> %s: %w", right.RemoteAddr(), left.RemoteAddr(), err)
		}
		return nil
	})

	return g.Wait()
}

// pump copies src to dst one chunk at a time until src reaches EOF. Unlike
// io.Copy it never hands the copy to ReaderFrom/WriterTo, so every chunk is
// at most chunkSize bytes and is written before the next read.
func pump(dst io.Writer, src io.Reader) (int64, error) {
	c := getChunk()
	defer putChunk(c)
	buf := c[:]

	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, ignoreClosed(werr)
			}
			if wn != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, ignoreClosed(rerr)
		}
	}
}

// ignoreClosed drops the error a pump sees once the other direction has
// already closed both sockets.
func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
