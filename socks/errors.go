package socks

import "fmt"

// Kind is the closed set of error categories the core can produce,
// matching spec §3/§7.
type Kind int

const (
	KindTransportIO Kind = iota
	KindUnsupportedVersion
	KindInvalidCommand
	KindUnsupportedCommand
	KindInvalidAddressType
	KindUnsupportedAddress
	KindAuthenticationFailed
	KindUTF8Decoding
	KindMethodNegotiationFailed
	KindNotImplemented
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindTransportIO:
		return "transport-io"
	case KindUnsupportedVersion:
		return "unsupported-version"
	case KindInvalidCommand:
		return "invalid-command"
	case KindUnsupportedCommand:
		return "unsupported-command"
	case KindInvalidAddressType:
		return "invalid-address-type"
	case KindUnsupportedAddress:
		return "unsupported-address"
	case KindAuthenticationFailed:
		return "authentication-failed"
	case KindUTF8Decoding:
		return "utf8-decoding"
	case KindMethodNegotiationFailed:
		return "method-negotiation-failed"
	case KindNotImplemented:
		return "not-implemented"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the core's error type. Every non-transport Kind has a
// deterministic wire-reply mapping, exposed via ReplyCode so callers
// don't have to re-derive spec §7's table.
type Error struct {
	Kind    Kind
	Byte    byte     // offending wire byte, for Unsupported*/Invalid* kinds
	Methods []Method // offered-but-unacceptable methods, for KindMethodNegotiationFailed
	Addr    Address  // offending address, for KindUnsupportedAddress
	Err     error    // wrapped cause (e.g. underlying I/O error), may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("socks: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("socks: %s", e.Kind)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Classified is implemented by errors that know their protocol-defined
// wire reply, letting an embedder's logging middleware recover the
// reply a given internal error produced without re-deriving spec §7's
// mapping table.
type Classified interface {
	error
	ReplyCode() (v4 Reply4, v5 Reply5, ok bool)
}

var _ Classified = (*Error)(nil)

// ReplyCode implements Classified per spec §7's table. ok is false for
// kinds that never produce a reply frame (transport failures and
// dispatcher-level unsupported-version, which close without replying).
func (e *Error) ReplyCode() (Reply4, Reply5, bool) {
	switch e.Kind {
	case KindInvalidCommand, KindUnsupportedCommand:
		return Reply4Rejected, Reply5CommandNotSupported, true
	case KindInvalidAddressType, KindUnsupportedAddress:
		return Reply4Rejected, Reply5AddressNotSupported, true
	case KindUTF8Decoding:
		return Reply4Rejected, Reply5AddressNotSupported, true
	case KindAuthenticationFailed:
		return Reply4Rejected, Reply5Failure, true
	case KindNotImplemented:
		return Reply4Rejected, Reply5CommandNotSupported, true
	case KindInternal:
		return Reply4Rejected, Reply5Failure, true
	default:
		return 0, 0, false
	}
}

func newErr(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }

func errUnsupportedVersion(b byte) *Error { return &Error{Kind: KindUnsupportedVersion, Byte: b} }
func errInvalidCommand(b byte) *Error     { return &Error{Kind: KindInvalidCommand, Byte: b} }
func errUnsupportedCommand(b byte) *Error { return &Error{Kind: KindUnsupportedCommand, Byte: b} }
func errInvalidAddressType(b byte) *Error { return &Error{Kind: KindInvalidAddressType, Byte: b} }
func errUnsupportedAddress(a Address) *Error {
	return &Error{Kind: KindUnsupportedAddress, Addr: a}
}
func errAuthFailed() *Error { return &Error{Kind: KindAuthenticationFailed} }
func errUTF8(err error) *Error {
	return &Error{Kind: KindUTF8Decoding, Err: err}
}
func errMethodNegotiationFailed(methods []Method) *Error {
	return &Error{Kind: KindMethodNegotiationFailed, Methods: methods}
}
func errNotImplemented() *Error { return &Error{Kind: KindNotImplemented} }
func errInternal(err error) *Error {
	return &Error{Kind: KindInternal, Err: err}
}
func errTransport(err error) *Error { return &Error{Kind: KindTransportIO, Err: err} }

// Sentinel errors used by the address/auth helpers, in the teacher's
// style of package-level error values for conditions that have no
// per-instance payload.
var (
	ErrInvalidPort = fmt.Errorf("socks: invalid port number")
	ErrInvalidAddr = fmt.Errorf("socks: invalid address")
)
