// Package collab declares the narrow interfaces the core consumes from its
// external collaborators (§6): the clock, the UDP socket, the physical
// line driver / paddle reader, the pub/sub broker and the STUN client.
// The core never imports a collaborator's concrete implementation; it
// depends only on these interfaces, so the GUI shell, config persistence,
// provisioning portal and serial drivers can evolve independently.
package collab

import (
	"net"
	"time"
)

// Clock returns monotonic milliseconds, wrapping at 2^32 (§6, §9).
type Clock interface {
	NowMS() uint32
}

// SystemClock is the default Clock, backed by time.Now's monotonic reading.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock returns a Clock whose NowMS is relative to the instant it
// was created.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

// NowMS implements Clock.
func (c *SystemClock) NowMS() uint32 {
	return uint32(time.Since(c.epoch).Milliseconds())
}

// UDPSocket is the minimal socket surface the rendezvous and session
// layers need: bind is implicit in construction, leaving send/receive.
type UDPSocket interface {
	LocalAddr() *net.UDPAddr
	SendTo(b []byte, addr *net.UDPAddr) (int, error)
	RecvFrom(b []byte, timeout time.Duration) (n int, addr *net.UDPAddr, err error)
	Close() error
}

// LineDriver is the server-side collaborator that asserts or releases the
// physical keying line and pulses the ATU trigger line.
type LineDriver interface {
	SetKey(down bool) error
	PulseATU() error
}

// PaddleReader is the client-side collaborator that reports paddle
// transitions with their monotonic capture time.
type PaddleReader interface {
	// ReadEdges returns transitions observed since the previous call,
	// each with the monotonic millisecond at which it was captured and
	// the new line state (pressed = down).
	ReadEdges() []RawEdge
}

// RawEdge is a paddle transition as reported by a PaddleReader, before it
// is packed into a wire.Edge.
type RawEdge struct {
	AtMS  uint32
	Down  bool
}

// Broker is the pub/sub capability set the rendezvous layer needs,
// covering both the embedded and desktop broker backends without dynamic
// loading (§9 "Runtime polymorphism over broker backends").
type Broker interface {
	Connect() error
	Subscribe(topic string) error
	Publish(topic string, payload []byte) error
	// PollIncoming drains messages received on subscribed topics since the
	// last call. It never blocks.
	PollIncoming() []BrokerMessage
	Close() error
}

// BrokerMessage is a single pub/sub delivery.
type BrokerMessage struct {
	Topic   string
	Payload []byte
}

// STUNClient resolves the caller's server-reflexive address (§4.1, §6).
type STUNClient interface {
	Query(serverAddr string) (*net.UDPAddr, error)
}

// ATUButton is the client-side auxiliary-button collaborator (§4.4): a
// short press requests a START_ATU frame. Long-press provisioning mode is
// reserved by the provisioning collaborator and never surfaces here. Its
// debounce/sampling strategy is implementation-defined, like the paddle
// reader's.
type ATUButton interface {
	// PollShortPress reports and clears whether a qualifying short press
	// was observed since the previous call.
	PollShortPress() bool
}

