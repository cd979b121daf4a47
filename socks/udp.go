package socks

import (
	"context"
	"encoding/binary"
	"net"
)

const maxUDPDatagram = 65535

// runAssociate drives the UDP ASSOCIATE flow (spec §4.3/§4.8): bind a
// relay socket via the handler, reply with its endpoint, pump datagrams
// in both directions, and tear the relay down once the controlling TCP
// connection closes, the same lifetime coupling RFC 1928 describes for
// ASSOCIATE ("the TCP connection... must be monitored... the UDP
// association terminates").
func runAssociate(ctx context.Context, c net.Conn, a Associater, clientHint Address) error {
	pc, bound, err := a.AssociateUDP(ctx, clientHint)
	if err != nil {
		writeReply5(ctx, c, Reply5Failure, zeroBindAddress)
		return errInternal(err)
	}
	defer pc.Close()

	if werr := writeReply5(ctx, c, Reply5Succeeded, bound); werr != nil {
		return errTransport(werr)
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		pumpUDP(pc)
	}()

	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		var buf [1]byte
		for {
			if _, err := c.Read(buf[:]); err != nil {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-ctrlDone:
	}
	pc.Close()
	<-pumpDone
	return nil
}

// pumpUDP relays datagrams through pc until it is closed. The first
// source address observed is taken to be the client; datagrams from
// that address are unwrapped (SOCKS5 UDP header stripped) and forwarded
// to their DST.ADDR/DST.PORT, while datagrams from any other source are
// assumed to be replies and re-wrapped with a header naming that source
// before being sent back to the client.
func pumpUDP(pc net.PacketConn) {
	buf := make([]byte, maxUDPDatagram)
	var clientAddr net.Addr

	for {
		n, src, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		data := append([]byte(nil), buf[:n]...)

		if clientAddr == nil {
			clientAddr = src
		}

		if sameUDPAddr(src, clientAddr) {
			dest, payload, ok := decodeUDPDatagram(data)
			if !ok {
				continue
			}
			raddr, err := net.ResolveUDPAddr("udp", dest.String())
			if err != nil {
				continue
			}
			pc.WriteTo(payload, raddr)
			continue
		}

		if clientAddr == nil {
			continue
		}
		replyAddr, err := AddressFromNetAddr(src)
		if err != nil {
			continue
		}
		pc.WriteTo(encodeUDPDatagram(replyAddr, data), clientAddr)
	}
}

func sameUDPAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.String() == b.String()
}

// decodeUDPDatagram strips the SOCKS5 UDP request header (RSV(2)|FRAG(1)|
// ATYP(1)|DST.ADDR|DST.PORT(2,BE)) from a client-sent datagram, reporting
// the destination and the remaining payload. Non-zero FRAG datagrams
// (fragmentation) are rejected, per spec.md §4.3's decision to not
// support reassembly.
func decodeUDPDatagram(data []byte) (Address, []byte, bool) {
	if len(data) < 4 {
		return Address{}, nil, false
	}
	if data[2] != 0x00 {
		return Address{}, nil, false
	}
	atyp := addressTypeFromByte(data[3])
	rest := data[4:]

	var addr Address
	switch atyp {
	case addressTypeIPv4:
		if len(rest) < 4+2 {
			return Address{}, nil, false
		}
		addr = NewV4Address(net.IP(rest[:4]), binary.BigEndian.Uint16(rest[4:6]))
		rest = rest[6:]
	case addressTypeIPv6:
		if len(rest) < 16+2 {
			return Address{}, nil, false
		}
		addr = NewV6Address(net.IP(rest[:16]), binary.BigEndian.Uint16(rest[16:18]))
		rest = rest[18:]
	case addressTypeDomain:
		if len(rest) < 1 {
			return Address{}, nil, false
		}
		l := int(rest[0])
		if len(rest) < 1+l+2 {
			return Address{}, nil, false
		}
		name := string(rest[1 : 1+l])
		port := binary.BigEndian.Uint16(rest[1+l : 1+l+2])
		addr = NewDomainAddress(name, port)
		rest = rest[1+l+2:]
	default:
		return Address{}, nil, false
	}
	return addr, rest, true
}

// encodeUDPDatagram re-adds a SOCKS5 UDP header naming src before the
// payload, for the reverse direction of the relay.
func encodeUDPDatagram(src Address, payload []byte) []byte {
	var atyp byte
	var addrBytes []byte
	switch src.Kind {
	case AddressV6:
		atyp = byte(addressTypeIPv6)
		addrBytes = src.IP.To16()
	case AddressDomain:
		atyp = byte(addressTypeDomain)
		addrBytes = append([]byte{byte(len(src.Name))}, []byte(src.Name)...)
	default:
		atyp = byte(addressTypeIPv4)
		addrBytes = src.IP.To4()
	}

	out := make([]byte, 4+len(addrBytes)+2+len(payload))
	out[2] = 0x00
	out[3] = atyp
	copy(out[4:], addrBytes)
	binary.BigEndian.PutUint16(out[4+len(addrBytes):], src.Port)
	copy(out[4+len(addrBytes)+2:], payload)
	return out
}
