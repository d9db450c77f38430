package session

import (
	"net"
	"testing"
	"time"

	"github.com/n0cw/wifikey/pkg/wire"
)

func TestSessionHandshakeAndFrameRoundTrip(t *testing.T) {
	serverConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP server: %v", err)
	}
	defer serverConn.Close()

	clientConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP client: %v", err)
	}
	defer clientConn.Close()

	id := Identity{ServerName: "w1abc", Passphrase: "cq-de-w1abc"}

	type result struct {
		sess *Session
		err  error
	}
	serverCh := make(chan result, 1)
	clientCh := make(chan result, 1)

	go func() {
		s, err := AcceptServer(serverConn, id, nil, nil)
		serverCh <- result{s, err}
	}()
	go func() {
		s, err := DialClient(clientConn, serverConn.LocalAddr().(*net.UDPAddr), id, nil, nil)
		clientCh <- result{s, err}
	}()

	serverRes := <-serverCh
	if serverRes.err != nil {
		t.Fatalf("AcceptServer: %v", serverRes.err)
	}
	defer serverRes.sess.Close()

	clientRes := <-clientCh
	if clientRes.err != nil {
		t.Fatalf("DialClient: %v", clientRes.err)
	}
	defer clientRes.sess.Close()

	if serverRes.sess.State() != StateAuthOK || clientRes.sess.State() != StateAuthOK {
		t.Fatalf("expected AUTH-OK on both sides, got server=%v client=%v",
			serverRes.sess.State(), clientRes.sess.State())
	}

	want := wire.Frame{
		Command:  wire.CmdKeyerMessage,
		SendTime: 1000,
		Edges:    []wire.Edge{{Dir: wire.DirDown, OffsetMS: 5}, {Dir: wire.DirUp, OffsetMS: 25}},
	}
	if err := clientRes.sess.SendFrame(want); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}

	got, err := serverRes.sess.ReceiveFrame(2 * time.Second)
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	if got.SendTime != want.SendTime || len(got.Edges) != len(want.Edges) {
		t.Fatalf("received frame mismatch: got %+v, want %+v", got, want)
	}
	for i := range want.Edges {
		if got.Edges[i] != want.Edges[i] {
			t.Fatalf("edge %d mismatch: got %+v, want %+v", i, got.Edges[i], want.Edges[i])
		}
	}
}

func TestHandshakeMismatchClosesSession(t *testing.T) {
	serverConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP server: %v", err)
	}
	defer serverConn.Close()

	clientConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP client: %v", err)
	}
	defer clientConn.Close()

	serverID := Identity{ServerName: "w1abc", Passphrase: "correct"}
	clientID := Identity{ServerName: "w1abc", Passphrase: "wrong"}

	serverErrCh := make(chan error, 1)
	clientErrCh := make(chan error, 1)

	go func() {
		_, err := AcceptServer(serverConn, serverID, nil, nil)
		serverErrCh <- err
	}()
	go func() {
		_, err := DialClient(clientConn, serverConn.LocalAddr().(*net.UDPAddr), clientID, nil, nil)
		clientErrCh <- err
	}()

	if err := <-serverErrCh; err != ErrAuthFailed {
		t.Fatalf("server handshake error = %v, want ErrAuthFailed", err)
	}
	if err := <-clientErrCh; err != ErrAuthFailed {
		t.Fatalf("client handshake error = %v, want ErrAuthFailed", err)
	}
}
