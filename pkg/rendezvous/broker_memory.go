package rendezvous

import (
	"sync"

	"github.com/n0cw/wifikey/pkg/collab"
)

// MemoryHub is the shared backing store for MemoryBroker instances that
// were created against the same hub, simulating a public broker for
// same-process testing and single-host development without requiring a
// real broker deployment.
type MemoryHub struct {
	mu      sync.Mutex
	queues  map[string][]collab.BrokerMessage // topic -> pending messages per subscriber handled externally
	subs    map[*MemoryBroker]map[string]bool
}

func newMemoryHub() *MemoryHub {
	return &MemoryHub{
		queues: make(map[string][]collab.BrokerMessage),
		subs:   make(map[*MemoryBroker]map[string]bool),
	}
}

// MemoryBroker is an in-process collab.Broker backed by a shared hub,
// standing in for a real public pub/sub broker (§9 "Runtime polymorphism
// over broker backends" — the core only ever sees the collab.Broker
// capability set).
type MemoryBroker struct {
	hub     *MemoryHub
	mu      sync.Mutex
	topics  map[string]bool
	inbox   []collab.BrokerMessage
}

// NewMemoryHub creates a fresh hub two or more MemoryBroker peers can
// share to exchange publishes within the same process.
func NewMemoryHub() *MemoryHub {
	return newMemoryHub()
}

var defaultHub = newMemoryHub()

// DefaultHub returns the process-wide in-memory hub. It only bridges
// peers that share an OS process (the wifikeyctl demo command, or tests);
// it cannot bridge the separate client and server binaries across a real
// network. A production deployment replaces MemoryBroker with a
// collab.Broker implementation backed by an actual pub/sub service and
// never needs this function.
func DefaultHub() *MemoryHub {
	return defaultHub
}

// NewMemoryBroker returns a broker endpoint attached to hub.
func NewMemoryBroker(hub *MemoryHub) *MemoryBroker {
	return &MemoryBroker{hub: hub, topics: make(map[string]bool)}
}

// Connect implements collab.Broker. It registers m with the hub, clearing
// any hub-side subscriptions a previous Connect left behind.
func (m *MemoryBroker) Connect() error {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	m.hub.subs[m] = make(map[string]bool)
	return nil
}

// Subscribe implements collab.Broker.
func (m *MemoryBroker) Subscribe(topic string) error {
	m.mu.Lock()
	m.topics[topic] = true
	m.mu.Unlock()

	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	if m.hub.subs[m] == nil {
		m.hub.subs[m] = make(map[string]bool)
	}
	m.hub.subs[m][topic] = true
	return nil
}

// Publish implements collab.Broker, delivering payload to every broker
// currently subscribed to topic (idempotent at-least-once delivery, per
// §6's QoS note — duplicate delivery here is the conservative side of
// "at least once").
func (m *MemoryBroker) Publish(topic string, payload []byte) error {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()

	msg := collab.BrokerMessage{Topic: topic, Payload: append([]byte(nil), payload...)}
	for peer, topics := range m.hub.subs {
		if topics[topic] {
			peer.mu.Lock()
			peer.inbox = append(peer.inbox, msg)
			peer.mu.Unlock()
		}
	}
	return nil
}

// PollIncoming implements collab.Broker.
func (m *MemoryBroker) PollIncoming() []collab.BrokerMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.inbox
	m.inbox = nil
	return out
}

// Close implements collab.Broker.
func (m *MemoryBroker) Close() error {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	delete(m.hub.subs, m)
	return nil
}
