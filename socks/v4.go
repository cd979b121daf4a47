package socks

import (
	"context"
	"encoding/binary"
	"net"
	"unicode/utf8"
)

const maxUserIDLen = 255

// request4 is the parsed SOCKS4/4a request frame (spec §4.2), after the
// version octet §4.1 already consumed.
type request4 struct {
	Cmd    Command4
	Addr   Address
	UserID string
}

// readRequest4 parses:
//
//	CMD(1) | DSTPORT(2,BE) | DSTIP(4) | USERID(NUL-terminated) [HOSTNAME(NUL-terminated)]
//
// recognizing the SOCKS4a 0.0.0.x marker (x != 0) and re-reading the
// trailing NUL-terminated hostname as a Domain address in that case.
func readRequest4(ctx context.Context, c net.Conn) (request4, *Error) {
	cmdByte, err := readByte(ctx, c)
	if err != nil {
		return request4{}, errTransport(err)
	}
	cmd, ok := command4Valid(cmdByte)
	if !ok {
		return request4{}, errInvalidCommand(cmdByte)
	}

	var portBuf [2]byte
	if err := readFull(ctx, c, portBuf[:]); err != nil {
		return request4{}, errTransport(err)
	}
	port := binary.BigEndian.Uint16(portBuf[:])

	var ipBuf [4]byte
	if err := readFull(ctx, c, ipBuf[:]); err != nil {
		return request4{}, errTransport(err)
	}

	userIDBytes, err := readNulTerminated(ctx, c, maxUserIDLen)
	if err != nil {
		if e, ok := err.(*Error); ok {
			return request4{}, e
		}
		return request4{}, errTransport(err)
	}
	if !utf8.Valid(userIDBytes) {
		return request4{}, errUTF8(nil)
	}
	userID := string(userIDBytes)

	socks4a := ipBuf[0] == 0 && ipBuf[1] == 0 && ipBuf[2] == 0 && ipBuf[3] != 0

	var addr Address
	if socks4a {
		hostBytes, err := readNulTerminated(ctx, c, 255)
		if err != nil {
			if e, ok := err.(*Error); ok {
				return request4{}, e
			}
			return request4{}, errTransport(err)
		}
		if !utf8.Valid(hostBytes) {
			return request4{}, errUTF8(nil)
		}
		if len(hostBytes) == 0 {
			return request4{}, errInvalidAddressType(0)
		}
		addr = NewDomainAddress(string(hostBytes), port)
	} else {
		addr = NewV4Address(net.IP(ipBuf[:]), port)
	}

	return request4{Cmd: cmd, Addr: addr, UserID: userID}, nil
}

// writeReply4 writes the v4 reply frame:
//
//	0x00 | REP(1) | DSTPORT(2,BE) | DSTIP(4)
//
// IPv6 bound addresses can't be encoded in a v4 reply; per spec §4.2
// this implementation writes 0.0.0.0 rather than truncating the address.
func writeReply4(ctx context.Context, c net.Conn, reply Reply4, bindAddr Address) error {
	buf := make([]byte, 8)
	buf[0] = 0x00
	buf[1] = byte(reply)
	binary.BigEndian.PutUint16(buf[2:4], bindAddr.Port)

	switch bindAddr.Kind {
	case AddressV4:
		copy(buf[4:8], bindAddr.IP.To4())
	default:
		copy(buf[4:8], net.IPv4zero.To4())
	}
	return writeAll(ctx, c, buf)
}

// serveSocks4 drives one connection through the SOCKS4/4a state machine:
// ReadRequest -> Authorize -> Execute(Connect|Bind) -> Done, with any
// state able to transition to Fail(reply), per spec §4.2.
func serveSocks4(ctx context.Context, c net.Conn, peer, local net.Addr, h Handler) error {
	req, perr := readRequest4(ctx, c)
	if perr != nil {
		if perr.Kind == KindTransportIO {
			return perr
		}
		writeReply4(ctx, c, Reply4Rejected, zeroBindAddress)
		return perr
	}

	allowed, err := h.Socks4AllowCommand(ctx, req.Cmd)
	if err != nil {
		writeReply4(ctx, c, Reply4Rejected, zeroBindAddress)
		return errInternal(err)
	}
	if !allowed {
		writeReply4(ctx, c, Reply4Rejected, zeroBindAddress)
		return errUnsupportedCommand(byte(req.Cmd))
	}

	ok, err := h.Socks4Authorize(ctx, req.UserID, peer)
	if err != nil {
		writeReply4(ctx, c, Reply4Rejected, zeroBindAddress)
		return errInternal(err)
	}
	if !ok {
		writeReply4(ctx, c, Reply4Rejected, zeroBindAddress)
		return errAuthFailed()
	}

	switch req.Cmd {
	case Command4Connect:
		return socks4Connect(ctx, c, h, req.Addr)
	case Command4Bind:
		return socks4Bind(ctx, c, local, h, req.Addr)
	default:
		writeReply4(ctx, c, Reply4Rejected, zeroBindAddress)
		return errInvalidCommand(byte(req.Cmd))
	}
}

func socks4Connect(ctx context.Context, c net.Conn, h Handler, addr Address) error {
	upstream, bound, err := h.Socks4Connect(ctx, addr)
	if err != nil {
		writeReply4(ctx, c, Reply4Rejected, zeroBindAddress)
		return errInternal(err)
	}
	if werr := writeReply4(ctx, c, Reply4Granted, bound); werr != nil {
		upstream.Close()
		return errTransport(werr)
	}
	return relay(ctx, c, upstream)
}

func socks4Bind(ctx context.Context, c net.Conn, local net.Addr, h Handler, addr Address) error {
	req := &RequestContext{ctx: ctx, conn: c, version: 0x04, local: local}
	if err := h.Socks4Bind(ctx, req, addr); err != nil {
		writeReply4(ctx, c, Reply4Rejected, zeroBindAddress)
		return errInternal(err)
	}
	if req.bound == nil {
		return errInternal(nil)
	}
	return relay(ctx, c, req.bound)
}
