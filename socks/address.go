package socks

import (
	"net"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// AddressKind tags which shape an Address holds.
type AddressKind int

const (
	AddressV4 AddressKind = iota
	AddressV6
	AddressDomain
)

// Address is the destination or bound address carried by a SOCKS request
// or reply: an IPv4 socket, an IPv6 socket, or a domain name with port.
// Exactly one of the three shapes is populated per the Kind tag.
type Address struct {
	Kind AddressKind
	IP   net.IP // 4 or 16 bytes, set when Kind is AddressV4/AddressV6
	Name string // set when Kind is AddressDomain
	Port uint16
}

// NewV4Address builds an IPv4 Address. ip must be a 4-byte (or 4-in-16)
// address.
func NewV4Address(ip net.IP, port uint16) Address {
	return Address{Kind: AddressV4, IP: ip.To4(), Port: port}
}

// NewV6Address builds an IPv6 Address.
func NewV6Address(ip net.IP, port uint16) Address {
	return Address{Kind: AddressV6, IP: ip.To16(), Port: port}
}

// NewDomainAddress builds a domain-name Address. The name is normalized
// to Unicode NFC so that byte-distinct but canonically equivalent domain
// names (e.g. differing only in combining-character order) compare and
// hash equal downstream; the wire protocol itself carries raw UTF-8 and
// is silent on normalization.
func NewDomainAddress(name string, port uint16) Address {
	return Address{Kind: AddressDomain, Name: norm.NFC.String(name), Port: port}
}

// Host returns the textual host component: dotted-quad, bracket-free IPv6
// literal, or the domain name.
func (a Address) Host() string {
	switch a.Kind {
	case AddressV4, AddressV6:
		return a.IP.String()
	case AddressDomain:
		return a.Name
	default:
		return ""
	}
}

// String renders "host:port", matching net.JoinHostPort's bracketing of
// IPv6 literals.
func (a Address) String() string {
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.Port)))
}

// AsTCPAddr resolves the Address to a *net.TCPAddr when it is an IP
// literal (V4/V6); it returns nil for domain names, which must instead
// be dialed by name via the policy handler.
func (a Address) AsTCPAddr() *net.TCPAddr {
	switch a.Kind {
	case AddressV4, AddressV6:
		return &net.TCPAddr{IP: a.IP, Port: int(a.Port)}
	default:
		return nil
	}
}

// AddressFromNetAddr builds an Address from a net.Addr's host:port
// string, classifying it as V4, V6, or Domain the way the teacher's
// newAddr helper classifies a bound-address string for a reply.
func AddressFromNetAddr(a net.Addr) (Address, error) {
	return AddressFromHostPort(a.String())
}

// AddressFromHostPort parses "host:port" into an Address.
func AddressFromHostPort(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, ErrInvalidAddr
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, ErrInvalidPort
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return NewV4Address(ip4, uint16(port)), nil
		}
		return NewV6Address(ip.To16(), uint16(port)), nil
	}
	return NewDomainAddress(host, uint16(port)), nil
}

// addressType is the RFC 1928 §5 ATYP wire value, distinct from
// AddressKind since the wire codes (0x01, 0x03, 0x04) are not
// AddressKind's values and a raw octet may match none of them.
type addressType byte

const (
	addressTypeIPv4   addressType = 0x01
	addressTypeDomain addressType = 0x03
	addressTypeIPv6   addressType = 0x04
)

// addressTypeFromByte classifies a raw ATYP octet, returning an
// unrecognized-marker value (0x00) for anything outside the three
// defined types so callers can detect it without a second lookup.
func addressTypeFromByte(b byte) addressType {
	switch addressType(b) {
	case addressTypeIPv4, addressTypeDomain, addressTypeIPv6:
		return addressType(b)
	default:
		return 0
	}
}

// zeroBindAddress (0.0.0.0:0) is written in v4 and v5 replies that have
// no meaningful bound address to convey, such as failure replies. A
// bound address a v4 reply cannot encode is handled in writeReply4.
var zeroBindAddress = NewV4Address(net.IPv4zero, 0)
