package socks

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"syscall"
	"unicode/utf8"
)

const (
	socks5SubNegotiationVersion byte = 0x01
	socks5SubNegotiationSuccess byte = 0x00
	socks5SubNegotiationFailure byte = 0x01
)

// serveSocks5 drives one connection through the SOCKS5 state machine:
// Greeting -> MethodReply -> [Subnegotiation -> AuthReply] -> Request ->
// RequestReply -> Execute(Connect|Bind|Associate) -> Relay -> Done, per
// spec §4.3. Any state may transition to Fail(reply).
func serveSocks5(ctx context.Context, c net.Conn, local net.Addr, h Handler) error {
	methods, perr := readGreeting(ctx, c)
	if perr != nil {
		return perr
	}

	chosen, err := h.Socks5NegotiateMethod(ctx, methods)
	if err != nil {
		writeMethodReply(ctx, c, MethodNoAcceptable)
		if classified, ok := err.(*Error); ok {
			return classified
		}
		return errInternal(err)
	}
	if !methodOffered(methods, chosen) {
		chosen = MethodNoAcceptable
	}
	if werr := writeMethodReply(ctx, c, chosen); werr != nil {
		return errTransport(werr)
	}
	if chosen == MethodNoAcceptable {
		// Graceful close: the client is required to disconnect, no error.
		return nil
	}

	if err := subNegotiate(ctx, c, h, chosen); err != nil {
		return err
	}

	cmd, addr, perr := readRequest5(ctx, c)
	if perr != nil {
		if perr.Kind == KindUnsupportedVersion {
			// Protocol error on the request frame: abort without a reply
			// (spec §4.3 validation order).
			return perr
		}
		v4code, v5code, ok := perr.ReplyCode()
		_ = v4code
		if ok {
			writeReply5(ctx, c, v5code, zeroBindAddress)
		}
		return perr
	}

	allowed, err := h.Socks5AllowCommand(ctx, cmd)
	if err != nil {
		writeReply5(ctx, c, Reply5Failure, zeroBindAddress)
		return errInternal(err)
	}
	if !allowed {
		writeReply5(ctx, c, Reply5CommandNotSupported, zeroBindAddress)
		return errUnsupportedCommand(byte(cmd))
	}

	allowedAddr, err := h.Socks5AllowAddress(ctx, addr)
	if err != nil {
		writeReply5(ctx, c, Reply5Failure, zeroBindAddress)
		return errInternal(err)
	}
	if !allowedAddr {
		writeReply5(ctx, c, Reply5AddressNotSupported, zeroBindAddress)
		return errUnsupportedAddress(addr)
	}

	switch cmd {
	case Command5Connect:
		return socks5Connect(ctx, c, h, addr)
	case Command5Bind:
		return socks5Bind(ctx, c, local, h, addr)
	case Command5Associate:
		return socks5Associate(ctx, c, h, addr)
	default:
		writeReply5(ctx, c, Reply5CommandNotSupported, zeroBindAddress)
		return errUnsupportedCommand(byte(cmd))
	}
}

func methodOffered(methods []Method, m Method) bool {
	for _, o := range methods {
		if o == m {
			return true
		}
	}
	return false
}

// readGreeting parses VER(already consumed)|NMETHODS(1)|METHODS(n).
func readGreeting(ctx context.Context, c net.Conn) ([]Method, *Error) {
	n, err := readByte(ctx, c)
	if err != nil {
		return nil, errTransport(err)
	}
	raw := make([]byte, n)
	if err := readFull(ctx, c, raw); err != nil {
		return nil, errTransport(err)
	}
	methods := make([]Method, n)
	for i, b := range raw {
		methods[i] = Method(b)
	}
	return methods, nil
}

// writeMethodReply writes VER(0x05)|METHOD(1).
func writeMethodReply(ctx context.Context, c net.Conn, m Method) error {
	return writeAll(ctx, c, []byte{0x05, byte(m)})
}

// subNegotiate dispatches the method-specific sub-negotiation per spec
// §4.3. NoAuth needs nothing; UserPass runs RFC 1929; anything else
// (including GSSAPI) is out of scope and fails NotImplemented, since the
// server already committed to it in the method reply it cannot recover
// by re-negotiating.
func subNegotiate(ctx context.Context, c net.Conn, h Handler, method Method) *Error {
	switch method {
	case MethodNoAuth:
		return nil
	case MethodUserPass:
		return userPassSubNegotiate(ctx, c, h)
	default:
		return errNotImplemented()
	}
}

// userPassSubNegotiate implements RFC 1929:
//
//	VER(1)=0x01 | ULEN(1) | UNAME(ULEN) | PLEN(1) | PASSWD(PLEN)
//	-> VER(1)=0x01 | STATUS(1)
//
// closing after a failure reply, never accepting a request afterward.
func userPassSubNegotiate(ctx context.Context, c net.Conn, h Handler) *Error {
	ver, err := readByte(ctx, c)
	if err != nil {
		return errTransport(err)
	}
	if ver != socks5SubNegotiationVersion {
		return errUnsupportedVersion(ver)
	}

	uLen, err := readByte(ctx, c)
	if err != nil {
		return errTransport(err)
	}
	uname := make([]byte, uLen)
	if err := readFull(ctx, c, uname); err != nil {
		return errTransport(err)
	}
	if !utf8.Valid(uname) {
		writeAll(ctx, c, []byte{socks5SubNegotiationVersion, socks5SubNegotiationFailure})
		return errUTF8(nil)
	}

	pLen, err := readByte(ctx, c)
	if err != nil {
		return errTransport(err)
	}
	passwd := make([]byte, pLen)
	if err := readFull(ctx, c, passwd); err != nil {
		return errTransport(err)
	}
	if !utf8.Valid(passwd) {
		writeAll(ctx, c, []byte{socks5SubNegotiationVersion, socks5SubNegotiationFailure})
		return errUTF8(nil)
	}

	ok, herr := h.Socks5AuthenticateUserPass(ctx, string(uname), string(passwd))
	status := byte(socks5SubNegotiationFailure)
	if ok && herr == nil {
		status = socks5SubNegotiationSuccess
	}
	if werr := writeAll(ctx, c, []byte{socks5SubNegotiationVersion, status}); werr != nil {
		return errTransport(werr)
	}
	if herr != nil {
		return errInternal(herr)
	}
	if !ok {
		return errAuthFailed()
	}
	return nil
}

// readRequest5 parses VER(1)|CMD(1)|RSV(1)|ATYP(1)|DST.ADDR|DST.PORT(2,BE),
// where VER has NOT yet been consumed by the caller (unlike the
// dispatcher's initial version octet, the request frame repeats VER).
func readRequest5(ctx context.Context, c net.Conn) (Command5, Address, *Error) {
	ver, err := readByte(ctx, c)
	if err != nil {
		return 0, Address{}, errTransport(err)
	}
	if ver != 0x05 {
		return 0, Address{}, errUnsupportedVersion(ver)
	}

	cmdByte, err := readByte(ctx, c)
	if err != nil {
		return 0, Address{}, errTransport(err)
	}
	cmd, ok := command5Valid(cmdByte)
	if !ok {
		return 0, Address{}, errInvalidCommand(cmdByte)
	}

	if _, err := readByte(ctx, c); err != nil { // RSV
		return 0, Address{}, errTransport(err)
	}

	atypByte, err := readByte(ctx, c)
	if err != nil {
		return 0, Address{}, errTransport(err)
	}

	addr, perr := readAddress5(ctx, c, atypByte)
	if perr != nil {
		return 0, Address{}, perr
	}

	var portBuf [2]byte
	if err := readFull(ctx, c, portBuf[:]); err != nil {
		return 0, Address{}, errTransport(err)
	}
	addr.Port = binary.BigEndian.Uint16(portBuf[:])
	if addr.Kind == AddressDomain {
		addr = NewDomainAddress(addr.Name, addr.Port)
	}

	return cmd, addr, nil
}

// readAddress5 reads DST.ADDR (without the trailing port) for the given
// ATYP byte: 4 octets for IPv4, 16 for IPv6, or a 1-octet length prefix
// followed by that many UTF-8 bytes for a domain name.
func readAddress5(ctx context.Context, c net.Conn, atyp byte) (Address, *Error) {
	switch addressTypeFromByte(atyp) {
	case addressTypeIPv4:
		var buf [4]byte
		if err := readFull(ctx, c, buf[:]); err != nil {
			return Address{}, errTransport(err)
		}
		return NewV4Address(net.IP(buf[:]), 0), nil
	case addressTypeIPv6:
		var buf [16]byte
		if err := readFull(ctx, c, buf[:]); err != nil {
			return Address{}, errTransport(err)
		}
		return NewV6Address(net.IP(buf[:]), 0), nil
	case addressTypeDomain:
		l, err := readByte(ctx, c)
		if err != nil {
			return Address{}, errTransport(err)
		}
		buf := make([]byte, l)
		if err := readFull(ctx, c, buf); err != nil {
			return Address{}, errTransport(err)
		}
		if !utf8.Valid(buf) {
			return Address{}, errUTF8(nil)
		}
		if len(buf) == 0 {
			return Address{}, errInvalidAddressType(atyp)
		}
		return Address{Kind: AddressDomain, Name: string(buf)}, nil
	default:
		return Address{}, errInvalidAddressType(atyp)
	}
}

// writeReply5 writes VER(0x05)|REP(1)|RSV(0x00)|ATYP(1)|BND.ADDR|BND.PORT(2,BE).
func writeReply5(ctx context.Context, c net.Conn, reply Reply5, bindAddr Address) error {
	var atyp byte
	var ipBytes []byte
	switch bindAddr.Kind {
	case AddressV6:
		atyp = byte(addressTypeIPv6)
		ipBytes = bindAddr.IP.To16()
	default:
		atyp = byte(addressTypeIPv4)
		ip := bindAddr.IP
		if ip == nil {
			ip = net.IPv4zero
		}
		ipBytes = ip.To4()
		if ipBytes == nil {
			ipBytes = net.IPv4zero.To4()
		}
	}

	buf := make([]byte, 4+len(ipBytes)+2)
	buf[0] = 0x05
	buf[1] = byte(reply)
	buf[2] = 0x00
	buf[3] = atyp
	copy(buf[4:], ipBytes)
	binary.BigEndian.PutUint16(buf[4+len(ipBytes):], bindAddr.Port)
	return writeAll(ctx, c, buf)
}

func socks5Connect(ctx context.Context, c net.Conn, h Handler, addr Address) error {
	upstream, bound, err := h.Socks5Connect(ctx, addr)
	if err != nil {
		writeReply5(ctx, c, connectFailureReply(err), zeroBindAddress)
		return errInternal(err)
	}
	if werr := writeReply5(ctx, c, Reply5Succeeded, bound); werr != nil {
		upstream.Close()
		return errTransport(werr)
	}
	return relay(ctx, c, upstream)
}

// connectFailureReply maps a dial failure to the closest RFC 1928 reply;
// absent a richer classification from the handler, NetworkUnreachable is
// the spec's §7 default for a generic network dial failure and
// ConnectionRefused is used when the OS reports ECONNREFUSED.
func connectFailureReply(err error) Reply5 {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return Reply5ConnectionRefused
	}
	return Reply5NetworkUnreachable
}

func socks5Bind(ctx context.Context, c net.Conn, local net.Addr, h Handler, addr Address) error {
	req := &RequestContext{ctx: ctx, conn: c, version: 0x05, local: local}
	if err := h.Socks5Bind(ctx, req, addr); err != nil {
		writeReply5(ctx, c, Reply5HostUnreachable, zeroBindAddress)
		return errInternal(err)
	}
	if req.bound == nil {
		return errInternal(nil)
	}
	return relay(ctx, c, req.bound)
}

func socks5Associate(ctx context.Context, c net.Conn, h Handler, addr Address) error {
	a, ok := h.(Associater)
	if !ok {
		writeReply5(ctx, c, Reply5CommandNotSupported, zeroBindAddress)
		return errNotImplemented()
	}
	return runAssociate(ctx, c, a, addr)
}
