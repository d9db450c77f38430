package rendezvous

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// testBrokerDaemon is a minimal stand-in for cmd/wifikeybrokerd, just
// enough of the SUB/PUB/MSG line protocol to exercise NetBroker against a
// real TCP socket rather than asserting against the wire format directly.
type testBrokerDaemon struct {
	ln net.Listener

	mu   sync.Mutex
	subs map[net.Conn]map[string]bool
}

func startTestBrokerDaemon(t *testing.T) *testBrokerDaemon {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &testBrokerDaemon{ln: ln, subs: make(map[net.Conn]map[string]bool)}
	go d.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return d
}

func (d *testBrokerDaemon) addr() string { return d.ln.Addr().String() }

func (d *testBrokerDaemon) acceptLoop() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.subs[conn] = make(map[string]bool)
		d.mu.Unlock()
		go d.serve(conn)
	}
}

func (d *testBrokerDaemon) serve(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), " ", 3)
		if len(parts) < 2 {
			continue
		}
		switch parts[0] {
		case netBrokerSub:
			d.mu.Lock()
			d.subs[conn][parts[1]] = true
			d.mu.Unlock()
		case netBrokerPub:
			if len(parts) != 3 {
				continue
			}
			line := netBrokerMsg + " " + parts[1] + " " + parts[2] + "\n"
			d.mu.Lock()
			for c, topics := range d.subs {
				if topics[parts[1]] {
					c.Write([]byte(line))
				}
			}
			d.mu.Unlock()
		}
	}
}

func TestNetBrokerDeliversOverTCP(t *testing.T) {
	d := startTestBrokerDaemon(t)

	pub := NewNetBroker(d.addr())
	sub := NewNetBroker(d.addr())
	if err := pub.Connect(); err != nil {
		t.Fatalf("pub.Connect: %v", err)
	}
	if err := sub.Connect(); err != nil {
		t.Fatalf("sub.Connect: %v", err)
	}
	defer pub.Close()
	defer sub.Close()

	if err := sub.Subscribe("w1abc/s"); err != nil {
		t.Fatalf("sub.Subscribe: %v", err)
	}
	// Give the daemon a moment to register the subscription before the
	// publish races it.
	time.Sleep(50 * time.Millisecond)

	if err := pub.Publish("w1abc/s", []byte("hello")); err != nil {
		t.Fatalf("pub.Publish: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		msgs := sub.PollIncoming()
		if len(msgs) == 1 {
			if msgs[0].Topic != "w1abc/s" || string(msgs[0].Payload) != "hello" {
				t.Fatalf("unexpected message: %+v", msgs[0])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for delivery")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
