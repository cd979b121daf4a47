package socks

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

// fakeConnectHandler stubs Connect, method negotiation and user/pass
// authentication with fixed results so state machine tests can assert
// exact wire bytes without dialing real network resources.
type fakeConnectHandler struct {
	DefaultHandler
	connectConn net.Conn
	connectAddr Address
	userPassOK  bool
}

func (h *fakeConnectHandler) Socks4Connect(ctx context.Context, addr Address) (net.Conn, Address, error) {
	return h.connectConn, h.connectAddr, nil
}

func (h *fakeConnectHandler) Socks5Connect(ctx context.Context, addr Address) (net.Conn, Address, error) {
	return h.connectConn, h.connectAddr, nil
}

func (h *fakeConnectHandler) Socks5AuthenticateUserPass(ctx context.Context, username, password string) (bool, error) {
	return h.userPassOK, nil
}

func (h *fakeConnectHandler) Socks5NegotiateMethod(ctx context.Context, methods []Method) (Method, error) {
	for _, m := range methods {
		if m == MethodUserPass || m == MethodNoAuth {
			return m, nil
		}
	}
	return MethodNoAcceptable, errMethodNegotiationFailed(methods)
}

func TestReadRequest4Connect(t *testing.T) {
	// CMD=CONNECT, PORT=80, DSTIP=93.184.216.34, USERID="x"
	frame := []byte{0x01, 0x00, 0x50, 0x5D, 0xB8, 0xD8, 0x22, 0x78, 0x00}
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	go client.Write(frame)

	req, perr := readRequest4(context.Background(), srv)
	if perr != nil {
		t.Fatalf("readRequest4: %v", perr)
	}
	if req.Cmd != Command4Connect {
		t.Errorf("Cmd = %v, want Connect", req.Cmd)
	}
	if req.UserID != "x" {
		t.Errorf("UserID = %q, want %q", req.UserID, "x")
	}
	if req.Addr.Kind != AddressV4 || req.Addr.String() != "93.184.216.34:80" {
		t.Errorf("Addr = %v, want 93.184.216.34:80", req.Addr)
	}
}

func TestReadRequest4aDomain(t *testing.T) {
	// CMD=CONNECT, PORT=80, DSTIP=0.0.0.7 (SOCKS4a marker), USERID="x", HOSTNAME="example.com"
	frame := []byte{0x01, 0x00, 0x50, 0x00, 0x00, 0x00, 0x07, 0x78, 0x00}
	frame = append(frame, []byte("example.com")...)
	frame = append(frame, 0x00)

	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()
	go client.Write(frame)

	req, perr := readRequest4(context.Background(), srv)
	if perr != nil {
		t.Fatalf("readRequest4: %v", perr)
	}
	if req.Addr.Kind != AddressDomain || req.Addr.Name != "example.com" || req.Addr.Port != 80 {
		t.Errorf("Addr = %+v, want Domain(example.com, 80)", req.Addr)
	}
}

// TestScenario4Socks4Connect drives spec scenario 4: SOCKS4 CONNECT to
// 93.184.216.34:80 with user "x".
func TestScenario4Socks4Connect(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()

	upA, upB := net.Pipe()
	defer upA.Close()
	defer upB.Close()

	bound := NewV4Address(net.IP{0x5D, 0xB8, 0xD8, 0x22}, 0x0050)
	h := &fakeConnectHandler{connectConn: upA, connectAddr: bound}

	go Serve(context.Background(), srv, srv.RemoteAddr(), srv.LocalAddr(), h)

	client.SetDeadline(time.Now().Add(2 * time.Second))
	frame := []byte{0x04, 0x01, 0x00, 0x50, 0x5D, 0xB8, 0xD8, 0x22, 0x78, 0x00}
	if _, err := client.Write(frame); err != nil {
		t.Fatal(err)
	}

	reply := make([]byte, 8)
	if _, err := readAllN(client, reply); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x5A, 0x00, 0x50, 0x5D, 0xB8, 0xD8, 0x22}
	if !bytes.Equal(reply, want) {
		t.Fatalf("reply = % X, want % X", reply, want)
	}
}

func readAllN(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
