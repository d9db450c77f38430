package control

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/n0cw/wifikey/pkg/session"
)

func establishSessionPair(t *testing.T) (server, client *session.Session) {
	t.Helper()

	serverConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP server: %v", err)
	}
	clientConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP client: %v", err)
	}

	id := session.Identity{ServerName: "w1abc", Passphrase: "cq-de-w1abc"}

	type result struct {
		sess *session.Session
		err  error
	}
	serverCh := make(chan result, 1)
	clientCh := make(chan result, 1)

	go func() {
		s, err := session.AcceptServer(serverConn, id, nil, nil)
		serverCh <- result{s, err}
	}()
	go func() {
		s, err := session.DialClient(clientConn, serverConn.LocalAddr().(*net.UDPAddr), id, nil, nil)
		clientCh <- result{s, err}
	}()

	serverRes := <-serverCh
	if serverRes.err != nil {
		t.Fatalf("AcceptServer: %v", serverRes.err)
	}
	clientRes := <-clientCh
	if clientRes.err != nil {
		t.Fatalf("DialClient: %v", clientRes.err)
	}
	return serverRes.sess, clientRes.sess
}

func TestExportAndReceiveEventsRoundTrip(t *testing.T) {
	server, client := establishSessionPair(t)
	defer server.Close()
	defer client.Close()

	logPath := filepath.Join(t.TempDir(), "events.db")
	log, err := OpenEventLog(logPath)
	if err != nil {
		t.Fatalf("OpenEventLog: %v", err)
	}
	defer log.Close()

	if err := log.RecordSessionStart("10.0.0.1:5000"); err != nil {
		t.Fatalf("RecordSessionStart: %v", err)
	}
	if err := log.RecordWatchdogTrip("10.0.0.1:5000"); err != nil {
		t.Fatalf("RecordWatchdogTrip: %v", err)
	}

	type recvResult struct {
		events []Event
		err    error
	}
	recvCh := make(chan recvResult, 1)
	go func() {
		events, err := ReceiveEventExport(client)
		recvCh <- recvResult{events, err}
	}()

	// Give the receiver a moment to reach AcceptBulkStream before the
	// sender opens it, since smux matches streams by open order.
	time.Sleep(50 * time.Millisecond)
	if err := ExportEvents(server, log, 10); err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}

	select {
	case res := <-recvCh:
		if res.err != nil {
			t.Fatalf("ReceiveEventExport: %v", res.err)
		}
		if len(res.events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(res.events))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event export")
	}
}
