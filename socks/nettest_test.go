package socks

import (
	"net"
	"testing"

	"golang.org/x/net/nettest"
)

// TestPipeConformsToConnContract runs the standard net.Conn contract
// suite against net.Pipe, the transport every other test in this
// package drives the SOCKS state machines over. If a future Go release
// changes net.Pipe's read/write/close/deadline semantics in a way the
// state machine depends on, this test is what would catch it first.
func TestPipeConformsToConnContract(t *testing.T) {
	nettest.TestConn(t, func() (c1, c2 net.Conn, stop func(), err error) {
		c1, c2 = net.Pipe()
		return c1, c2, func() { c1.Close(); c2.Close() }, nil
	})
}
