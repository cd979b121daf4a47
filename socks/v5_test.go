package socks

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

// TestScenario1Socks5NoAuthConnect drives spec scenario 1: SOCKS5 no-auth
// CONNECT to 127.0.0.1:80.
func TestScenario1Socks5NoAuthConnect(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()

	upA, upB := net.Pipe()
	defer upA.Close()
	defer upB.Close()

	bound := NewV4Address(net.IPv4(10, 0, 0, 1), 4444)
	h := &fakeConnectHandler{connectConn: upA, connectAddr: bound}

	go Serve(context.Background(), srv, srv.RemoteAddr(), srv.LocalAddr(), h)
	client.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := client.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	methodReply := make([]byte, 2)
	mustReadFull(t, client, methodReply)
	if !bytes.Equal(methodReply, []byte{0x05, 0x00}) {
		t.Fatalf("method reply = % X, want 05 00", methodReply)
	}

	req := []byte{0x05, 0x01, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x50}
	if _, err := client.Write(req); err != nil {
		t.Fatal(err)
	}
	reply := make([]byte, 10)
	mustReadFull(t, client, reply)
	if reply[0] != 0x05 || reply[1] != 0x00 || reply[3] != 0x01 {
		t.Fatalf("reply = % X, want VER=05 REP=00 ATYP=01", reply)
	}
}

// TestScenario2UserPassSuccess drives spec scenario 2: user/pass success
// with credentials u:pw.
func TestScenario2UserPassSuccess(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()

	upA, _ := net.Pipe()
	defer upA.Close()

	h := &fakeConnectHandler{connectConn: upA, userPassOK: true}

	go Serve(context.Background(), srv, srv.RemoteAddr(), srv.LocalAddr(), h)
	client.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := client.Write([]byte{0x05, 0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	methodReply := make([]byte, 2)
	mustReadFull(t, client, methodReply)
	if !bytes.Equal(methodReply, []byte{0x05, 0x02}) {
		t.Fatalf("method reply = % X, want 05 02", methodReply)
	}

	sub := []byte{0x01, 0x01, 0x75, 0x02, 0x70, 0x77} // ULEN=1 "u" PLEN=2 "pw"
	if _, err := client.Write(sub); err != nil {
		t.Fatal(err)
	}
	subReply := make([]byte, 2)
	mustReadFull(t, client, subReply)
	if !bytes.Equal(subReply, []byte{0x01, 0x00}) {
		t.Fatalf("sub-negotiation reply = % X, want 01 00", subReply)
	}
}

// TestScenario3UserPassFailure drives spec scenario 3: user/pass
// rejected, stream closes with no request accepted.
func TestScenario3UserPassFailure(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()

	h := &fakeConnectHandler{userPassOK: false}

	go Serve(context.Background(), srv, srv.RemoteAddr(), srv.LocalAddr(), h)
	client.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := client.Write([]byte{0x05, 0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	methodReply := make([]byte, 2)
	mustReadFull(t, client, methodReply)
	if !bytes.Equal(methodReply, []byte{0x05, 0x02}) {
		t.Fatalf("method reply = % X, want 05 02", methodReply)
	}

	sub := []byte{0x01, 0x01, 0x75, 0x02, 0x62, 0x61} // "u" / "ba" (wrong password)
	if _, err := client.Write(sub); err != nil {
		t.Fatal(err)
	}
	subReply := make([]byte, 2)
	mustReadFull(t, client, subReply)
	if !bytes.Equal(subReply, []byte{0x01, 0x01}) {
		t.Fatalf("sub-negotiation reply = % X, want 01 01", subReply)
	}
}

// TestScenario6UnsupportedCommand drives spec scenario 6: SOCKS5
// unsupported command 0x09.
func TestScenario6UnsupportedCommand(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()

	go Serve(context.Background(), srv, srv.RemoteAddr(), srv.LocalAddr(), &DefaultHandler{})
	client.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := client.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	methodReply := make([]byte, 2)
	mustReadFull(t, client, methodReply)

	req := []byte{0x05, 0x09, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	// The server replies as soon as it has read the invalid CMD octet and
	// never reads the rest of the frame, so over the unbuffered net.Pipe
	// the write runs on its own goroutine, as in the readRequest5 tests.
	go client.Write(req)
	reply := make([]byte, 10)
	mustReadFull(t, client, reply)
	want := []byte{0x05, 0x07, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(reply, want) {
		t.Fatalf("reply = % X, want % X", reply, want)
	}
}

// TestReadRequest5BadVersionNoReply exercises spec §8's invariant that a
// malformed VER on the request frame never produces a reply.
func TestReadRequest5BadVersionNoReply(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	go client.Write([]byte{0x06, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})

	_, _, perr := readRequest5(context.Background(), srv)
	if perr == nil || perr.Kind != KindUnsupportedVersion {
		t.Fatalf("perr = %v, want KindUnsupportedVersion", perr)
	}
}

func TestReadRequest5IPv4RoundTrip(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	frame := []byte{0x05, 0x01, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x50}
	go client.Write(frame)

	cmd, addr, perr := readRequest5(context.Background(), srv)
	if perr != nil {
		t.Fatalf("readRequest5: %v", perr)
	}
	if cmd != Command5Connect {
		t.Errorf("cmd = %v, want Connect", cmd)
	}
	if addr.String() != "127.0.0.1:80" {
		t.Errorf("addr = %v, want 127.0.0.1:80", addr)
	}
}

func TestReadRequest5DomainRoundTrip(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	name := "example.com"
	frame := []byte{0x05, 0x01, 0x00, 0x03, byte(len(name))}
	frame = append(frame, []byte(name)...)
	frame = append(frame, 0x00, 0x50)
	go client.Write(frame)

	_, addr, perr := readRequest5(context.Background(), srv)
	if perr != nil {
		t.Fatalf("readRequest5: %v", perr)
	}
	if addr.Kind != AddressDomain || addr.Name != name || addr.Port != 80 {
		t.Errorf("addr = %+v, want Domain(%s, 80)", addr, name)
	}
}

func mustReadFull(t *testing.T, c net.Conn, buf []byte) {
	t.Helper()
	if _, err := readAllN(c, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
}
