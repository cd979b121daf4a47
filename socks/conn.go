package socks

import (
	"context"
	"io"
	"net"
)

// readFull reads exactly len(buf) bytes from c, honoring ctx
// cancellation the way Iam54r1n4-Gordafarid's ReadWithContext does: the
// blocking read runs on its own goroutine and the caller returns as soon
// as ctx is done, without waiting for the (now abandoned) read to
// unblock. The caller is expected to close the connection on
// cancellation so the abandoned goroutine's Read eventually returns too.
func readFull(ctx context.Context, c net.Conn, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := io.ReadFull(c, buf)
		done <- result{err}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-done:
		return r.err
	}
}

func writeAll(ctx context.Context, c net.Conn, buf []byte) error {
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := c.Write(buf)
		done <- result{err}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-done:
		return r.err
	}
}

// readByte reads a single octet from c.
func readByte(ctx context.Context, c net.Conn) (byte, error) {
	var b [1]byte
	if err := readFull(ctx, c, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// readNulTerminated reads bytes up to and including the next NUL,
// returning the bytes before it, the way the SOCKS4 USERID/HOSTNAME
// fields are framed. maxLen bounds how many non-NUL bytes are accepted
// before giving up, guarding against a client that never sends a NUL.
func readNulTerminated(ctx context.Context, c net.Conn, maxLen int) ([]byte, error) {
	var out []byte
	for {
		b, err := readByte(ctx, c)
		if err != nil {
			return nil, err
		}
		if b == 0x00 {
			return out, nil
		}
		if len(out) >= maxLen {
			return nil, errInternal(io.ErrShortBuffer)
		}
		out = append(out, b)
	}
}
