package rendezvous

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/n0cw/wifikey/pkg/collab"
)

// Wire prefixes for the broker's line protocol, modeled on the teacher's
// RELAY:ALLOC/RELAY:CONNECT text-prefixed command style (pkg/nat/relay.go)
// but carried over TCP instead of UDP, since a broker exchange is a
// handful of short-lived messages where delivery matters more than
// latency.
const (
	netBrokerSub = "SUB"
	netBrokerPub = "PUB"
	netBrokerMsg = "MSG"
)

// dialTimeout bounds the initial TCP connect (§4.1's bounded-retry spirit
// applied to the broker leg, not just STUN).
const dialTimeout = 5 * time.Second

// NetBroker is a collab.Broker that reaches a real, network-addressable
// broker daemon (cmd/wifikeybrokerd) over TCP, so the client and server
// binaries can actually rendezvous across the Internet rather than only
// within one process. It is the broker production deployments use;
// MemoryBroker remains reserved for the single-process wifikeyctl demo.
type NetBroker struct {
	addr string

	mu     sync.Mutex
	conn   net.Conn
	inbox  []collab.BrokerMessage
	closed bool
}

// NewNetBroker returns a NetBroker that will dial addr (host:port) on
// Connect.
func NewNetBroker(addr string) *NetBroker {
	return &NetBroker{addr: addr}
}

// Connect implements collab.Broker: dials the broker daemon and starts
// the background read loop that feeds PollIncoming. It may be called
// more than once on the same NetBroker (the server endpoint reconnects
// for every new rendezvous attempt); an existing connection and its read
// loop are torn down first so neither leaks across cycles.
func (b *NetBroker) Connect() error {
	conn, err := net.DialTimeout("tcp", b.addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("rendezvous: dial broker %q: %w", b.addr, err)
	}

	b.mu.Lock()
	old := b.conn
	b.conn = conn
	b.inbox = nil
	b.closed = false
	b.mu.Unlock()

	if old != nil {
		old.Close()
	}

	go b.readLoop(conn)
	return nil
}

func (b *NetBroker) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		topic, payload, ok := parseMsgLine(scanner.Text())
		if !ok {
			continue
		}
		b.mu.Lock()
		b.inbox = append(b.inbox, collab.BrokerMessage{Topic: topic, Payload: payload})
		b.mu.Unlock()
	}
}

func parseMsgLine(line string) (topic string, payload []byte, ok bool) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || parts[0] != netBrokerMsg {
		return "", nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", nil, false
	}
	return parts[1], decoded, true
}

// Subscribe implements collab.Broker.
func (b *NetBroker) Subscribe(topic string) error {
	return b.send(fmt.Sprintf("%s %s\n", netBrokerSub, topic))
}

// Publish implements collab.Broker.
func (b *NetBroker) Publish(topic string, payload []byte) error {
	encoded := base64.StdEncoding.EncodeToString(payload)
	return b.send(fmt.Sprintf("%s %s %s\n", netBrokerPub, topic, encoded))
}

func (b *NetBroker) send(line string) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("rendezvous: broker not connected")
	}
	_, err := conn.Write([]byte(line))
	return err
}

// PollIncoming implements collab.Broker.
func (b *NetBroker) PollIncoming() []collab.BrokerMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.inbox
	b.inbox = nil
	return out
}

// Close implements collab.Broker.
func (b *NetBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.conn == nil {
		return nil
	}
	b.closed = true
	return b.conn.Close()
}
