package socks

import (
	"context"
	"net"
)

// Serve drives one already-accepted connection through SOCKS4/4a or
// SOCKS5 negotiation, command execution, and relay: the core's single
// library entry point for embedders that want to drive the state
// machine directly instead of going through Server. It reads the
// leading version octet and dispatches to the matching state machine;
// an unrecognized version closes the connection without writing a
// reply, since neither RFC defines a cross-version error frame.
// peerAddr is used by the SOCKS4 identd-style authorization hook;
// localAddr is used by the default BIND policy to choose which
// interface to listen on.
func Serve(ctx context.Context, c net.Conn, peerAddr, localAddr net.Addr, h Handler) error {
	verByte, err := readByte(ctx, c)
	if err != nil {
		return errTransport(err)
	}

	switch verByte {
	case 0x04:
		return serveSocks4(ctx, c, peerAddr, localAddr, h)
	case 0x05:
		return serveSocks5(ctx, c, localAddr, h)
	default:
		c.Close()
		return errUnsupportedVersion(verByte)
	}
}
