package rendezvous

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// PunchBurstCount is the minimum number of punch datagrams sent to each
// peer candidate (§4.1 step 4: "a short burst (≥3 packets, 200 ms
// spacing)").
const PunchBurstCount = 4

// PunchSpacing is the delay between successive punch datagrams.
const PunchSpacing = 200 * time.Millisecond

// punchPayload is sent as the punch datagram body; the receiver only
// needs to recognise it to reply, it carries no secret.
var punchPayload = []byte("wifikey-punch")

// punchReplyPayload marks a punch reply, distinguishing it from a stray
// punch datagram arriving after the peer has already adopted a path.
var punchReplyPayload = []byte("wifikey-punch-ack")

// Puncher drives the UDP hole-punch burst of §4.1 step 4 over an already
// bound socket, adopting the first peer address a valid reply arrives
// from and discarding the rest.
type Puncher struct {
	conn net.PacketConn
	log  *logrus.Entry
}

// NewPuncher wraps conn for punching.
func NewPuncher(conn net.PacketConn, log *logrus.Entry) *Puncher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Puncher{conn: conn, log: log}
}

// Punch sends punch bursts to every candidate address concurrently with a
// read loop, and returns the first address a punch reply is received
// from. It respects ctx-less bounded operation via the deadline argument,
// consistent with §5's "no unbounded blocking".
func (p *Puncher) Punch(candidates []*net.UDPAddr, deadline time.Duration) (*net.UDPAddr, error) {
	stop := make(chan struct{})
	defer close(stop)

	go p.burst(candidates, stop)

	buf := make([]byte, 1500)
	end := time.Now().Add(deadline)
	for {
		remaining := time.Until(end)
		if remaining <= 0 {
			return nil, ErrPunchTimeout
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(minDuration(remaining, 200*time.Millisecond)))
		n, addr, err := p.conn.ReadFrom(buf)
		if err != nil {
			continue // timeout or transient read error, keep trying until deadline
		}
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		switch string(buf[:n]) {
		case string(punchPayload):
			// A peer is punching toward us; answer immediately so their
			// burst can adopt this path too.
			_, _ = p.conn.WriteTo(punchReplyPayload, udpAddr)
		case string(punchReplyPayload):
			p.log.WithField("peer", udpAddr).Info("hole punch established")
			return udpAddr, nil
		}
	}
}

func (p *Puncher) burst(candidates []*net.UDPAddr, stop <-chan struct{}) {
	for i := 0; i < PunchBurstCount; i++ {
		for _, c := range candidates {
			_, _ = p.conn.WriteTo(punchPayload, c)
		}
		select {
		case <-stop:
			return
		case <-time.After(PunchSpacing):
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// ErrPunchTimeout is returned when no punch reply arrives within the
// rendezvous retry window (§4.1 "≈30 s").
var ErrPunchTimeout = &punchTimeoutErr{}

type punchTimeoutErr struct{}

func (*punchTimeoutErr) Error() string { return "rendezvous: hole punch timed out" }
