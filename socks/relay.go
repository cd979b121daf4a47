package socks

import (
	"context"
	"io"
	"net"

	"golang.org/x/sync/errgroup"
)

// halfCloser is implemented by connections (notably *net.TCPConn) that
// can shut down their write side independently of their read side.
type halfCloser interface {
	CloseWrite() error
}

// relay copies bytes bidirectionally between the client connection and
// the upstream connection established by CONNECT or accepted by BIND,
// until both halves reach EOF or ctx is canceled. Built on
// errgroup.Group rather than the teacher's raw goroutine pair plus
// sync.WaitGroup. A client that half-closes after sending its request
// (write-shutdown, then wait for the full response) must still receive
// the reverse direction in full, so each direction's EOF only shuts
// down that direction's write side (CloseWrite, when the connection
// supports it) rather than closing both connections outright. Both
// connections are only fully closed once both directions have finished.
func relay(ctx context.Context, client, upstream net.Conn) error {
	var g errgroup.Group

	g.Go(func() error {
		_, err := io.Copy(upstream, client)
		closeWrite(upstream)
		return ignoreClosedErr(err)
	})
	g.Go(func() error {
		_, err := io.Copy(client, upstream)
		closeWrite(client)
		return ignoreClosedErr(err)
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-ctx.Done():
		client.Close()
		upstream.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		client.Close()
		upstream.Close()
		return err
	}
}

// closeWrite shuts down c's write half so its peer sees EOF without
// losing the ability to keep reading c's still-open read half. Falls
// back to a full Close for connections (e.g. net.Pipe) that don't
// support half-closing.
func closeWrite(c net.Conn) {
	if hc, ok := c.(halfCloser); ok {
		hc.CloseWrite()
		return
	}
	c.Close()
}

// ignoreClosedErr treats a read/write against a connection the other
// copy goroutine just closed as a normal end-of-relay condition rather
// than a reportable failure.
func ignoreClosedErr(err error) error {
	if err == nil || err == io.EOF {
		return nil
	}
	if ne, ok := err.(net.Error); ok && !ne.Timeout() {
		return nil
	}
	return err
}
