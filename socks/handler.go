package socks

import (
	"context"
	"net"
	"time"
)

// Handler is the capability set an embedder supplies to drive policy
// decisions during negotiation (spec §4.5). Every method has a safe
// default, provided by embedding DefaultHandler rather than implementing
// the full interface — the same "capability record with defaults" shape
// spec's Design Notes call for, mirrored here as a struct of function
// fields instead of the teacher's Option-configured Server, since the
// policy surface is now per-connection-class (v4 vs v5) rather than a
// single Auth field.
type Handler interface {
	// Socks4AllowCommand reports whether a v4 command may proceed.
	Socks4AllowCommand(ctx context.Context, cmd Command4) (bool, error)
	// Socks4Authorize is the identd-style USERID check.
	Socks4Authorize(ctx context.Context, userID string, peer net.Addr) (bool, error)
	// Socks4Connect opens an outbound TCP connection for CONNECT.
	Socks4Connect(ctx context.Context, addr Address) (net.Conn, Address, error)
	// Socks4Bind performs the two-reply BIND flow via req.
	Socks4Bind(ctx context.Context, req *RequestContext, addr Address) error

	// Socks5NegotiateMethod selects a Method from the client's offered list.
	Socks5NegotiateMethod(ctx context.Context, methods []Method) (Method, error)
	// Socks5AuthenticateUserPass checks RFC 1929 credentials.
	Socks5AuthenticateUserPass(ctx context.Context, username, password string) (bool, error)
	// Socks5AllowCommand gates a v5 command.
	Socks5AllowCommand(ctx context.Context, cmd Command5) (bool, error)
	// Socks5AllowAddress gates a v5 destination address.
	Socks5AllowAddress(ctx context.Context, addr Address) (bool, error)
	// Socks5Connect opens an outbound TCP connection for CONNECT.
	Socks5Connect(ctx context.Context, addr Address) (net.Conn, Address, error)
	// Socks5Bind performs the two-reply BIND flow via req.
	Socks5Bind(ctx context.Context, req *RequestContext, addr Address) error
}

// Associater is an optional capability a Handler may additionally
// implement to opt into full UDP ASSOCIATE support (spec §4.3's
// "if implemented" branch, expanded in SPEC_FULL §4.8). Checked with a
// type assertion at dispatch time; its absence means ASSOCIATE replies
// CommandNotSupported and closes, the spec's minimum conforming
// behavior.
type Associater interface {
	// AssociateUDP opens the UDP relay socket and reports its bound
	// address for the ASSOCIATE reply.
	AssociateUDP(ctx context.Context, clientHint Address) (net.PacketConn, Address, error)
}

// RequestContext is handed to Socks4Bind/Socks5Bind. It exposes two
// operations, Reply and Accept: a reply borrows the client stream
// without exposing it directly, so the handler cannot
// accidentally desynchronize the framing the two-reply BIND dance
// depends on.
type RequestContext struct {
	ctx     context.Context
	conn    net.Conn
	version byte // 0x04 or 0x05
	local   net.Addr
	bound   net.Conn
}

// Reply writes one correctly-framed successful BIND reply (v4 or v5
// framing, matching whichever state machine constructed this
// RequestContext) to the client stream. BIND's two replies are always
// "granted"/"succeeded" on the wire; a handler that wants to fail
// mid-BIND should simply return an error instead of calling Reply, and
// let the state machine emit the version-appropriate failure reply.
func (r *RequestContext) Reply(bindAddr Address) error {
	if r.version == 0x04 {
		return writeReply4(r.ctx, r.conn, Reply4Granted, bindAddr)
	}
	return writeReply5(r.ctx, r.conn, Reply5Succeeded, bindAddr)
}

// Accept records the inbound connection BIND accepted, so the state
// machine can relay it after the handler returns.
func (r *RequestContext) Accept(c net.Conn) {
	r.bound = c
}

// DefaultHandler implements Handler with spec §4.5's defaults:
// commands/addresses allowed, SOCKS4 identd accepted, SOCKS5 NoAuth
// selected when offered else NoAcceptable, username/password denied
// unless UserPass is set, CONNECT dialed with Dialer, and BIND served by
// a one-shot listener from Listen (bindTwoReply). Embed it and override only the
// hooks a given server needs, the way Abdullah2993-socks5-server's
// Server embeds zero-value defaults for unset Option fields.
type DefaultHandler struct {
	// Dialer is used by the default Socks4Connect/Socks5Connect.
	Dialer *net.Dialer
	// Listen is used by the default Socks4Bind/Socks5Bind.
	Listen func(network, address string) (net.Listener, error)
	// UserPass, if set, backs Socks5AuthenticateUserPass.
	UserPass UserPassFunc
	// BindAcceptTimeout bounds how long a BIND's pending inbound accept
	// may block; zero means no timeout (spec §5's "common choice" of
	// ~30s is left to the embedder to set, not hardcoded here).
	BindAcceptTimeout time.Duration
}

func (h *DefaultHandler) dialer() *net.Dialer {
	if h.Dialer != nil {
		return h.Dialer
	}
	return new(net.Dialer)
}

func (h *DefaultHandler) listen() func(network, address string) (net.Listener, error) {
	if h.Listen != nil {
		return h.Listen
	}
	return net.Listen
}

func (h *DefaultHandler) Socks4AllowCommand(ctx context.Context, cmd Command4) (bool, error) {
	return true, nil
}

func (h *DefaultHandler) Socks4Authorize(ctx context.Context, userID string, peer net.Addr) (bool, error) {
	return true, nil
}

func (h *DefaultHandler) Socks4Connect(ctx context.Context, addr Address) (net.Conn, Address, error) {
	return dialTCP(ctx, h.dialer(), addr)
}

func (h *DefaultHandler) Socks4Bind(ctx context.Context, req *RequestContext, addr Address) error {
	return bindTwoReply(ctx, h.listen(), h.BindAcceptTimeout, req, addr)
}

func (h *DefaultHandler) Socks5NegotiateMethod(ctx context.Context, methods []Method) (Method, error) {
	for _, m := range methods {
		if m == MethodNoAuth {
			return MethodNoAuth, nil
		}
	}
	return MethodNoAcceptable, errMethodNegotiationFailed(methods)
}

func (h *DefaultHandler) Socks5AuthenticateUserPass(ctx context.Context, username, password string) (bool, error) {
	if h.UserPass == nil {
		return false, nil
	}
	return h.UserPass(username, password), nil
}

func (h *DefaultHandler) Socks5AllowCommand(ctx context.Context, cmd Command5) (bool, error) {
	return true, nil
}

func (h *DefaultHandler) Socks5AllowAddress(ctx context.Context, addr Address) (bool, error) {
	return true, nil
}

func (h *DefaultHandler) Socks5Connect(ctx context.Context, addr Address) (net.Conn, Address, error) {
	return dialTCP(ctx, h.dialer(), addr)
}

func (h *DefaultHandler) Socks5Bind(ctx context.Context, req *RequestContext, addr Address) error {
	return bindTwoReply(ctx, h.listen(), h.BindAcceptTimeout, req, addr)
}

var _ Handler = (*DefaultHandler)(nil)

func dialTCP(ctx context.Context, d *net.Dialer, addr Address) (net.Conn, Address, error) {
	c, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, Address{}, err
	}
	bound, err := AddressFromNetAddr(c.LocalAddr())
	if err != nil {
		c.Close()
		return nil, Address{}, err
	}
	return c, bound, nil
}

// bindTwoReply implements the default BIND policy shared by v4 and v5:
// open a listener, reply once with its bound address, accept exactly
// one inbound connection (optionally bounded by timeout), reply again
// with the peer's address, then hand the accepted connection to the
// request context's caller via a net.Conn swap the state machine reads
// back out. The listener binds on the control connection's own local
// host (when known) rather than the wildcard address, so a BIND reply
// on a multi-homed host names an interface the client can actually
// reach back.
func bindTwoReply(ctx context.Context, listen func(network, address string) (net.Listener, error), timeout time.Duration, req *RequestContext, addr Address) error {
	bindHost := ""
	if req.local != nil {
		if h, _, err := net.SplitHostPort(req.local.String()); err == nil {
			bindHost = h
		}
	}
	l, err := listen("tcp", net.JoinHostPort(bindHost, "0"))
	if err != nil {
		return err
	}
	defer l.Close()

	boundAddr, err := AddressFromNetAddr(l.Addr())
	if err != nil {
		return err
	}
	if err := req.Reply(boundAddr); err != nil {
		return err
	}

	acceptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		acceptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type acceptResult struct {
		c   net.Conn
		err error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		c, err := l.Accept()
		accepted <- acceptResult{c, err}
	}()

	select {
	case <-acceptCtx.Done():
		return acceptCtx.Err()
	case r := <-accepted:
		if r.err != nil {
			return r.err
		}
		peerAddr, err := AddressFromNetAddr(r.c.RemoteAddr())
		if err != nil {
			r.c.Close()
			return err
		}
		if err := req.Reply(peerAddr); err != nil {
			r.c.Close()
			return err
		}
		req.Accept(r.c)
		return nil
	}
}
