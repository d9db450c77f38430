package rendezvous

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0cw/wifikey/pkg/collab"
)

// RendezvousTimeout is the bounded retry window of §4.1: "the endpoint
// reports a rendezvous failure after a bounded retry window (≈30 s)".
const RendezvousTimeout = 30 * time.Second

// STUNRetries is the number of STUN query attempts before surfacing
// rendezvous-failed (§4.1 "Errors").
const STUNRetries = 3

// stunBackoffMin/Max bound the delay between STUN retries (§4.1
// "Errors" requires retry, not an immediate resend storm).
const (
	stunBackoffMin = 250 * time.Millisecond
	stunBackoffMax = 5 * time.Second
)

// Identity is the session identity tuple of §3: a server-name topic
// discriminator and the passphrase that keys both the broker payload
// cipher and the in-session challenge/response.
type Identity struct {
	ServerName string
	Passphrase string
}

// Role distinguishes which side of the mirrored stack this endpoint
// plays.
type Role int

const (
	// RoleClient publishes to the server topic and subscribes to the
	// client topic.
	RoleClient Role = iota
	// RoleServer publishes to the client topic and subscribes to the
	// server topic.
	RoleServer
)

// Result is the outcome of a successful rendezvous: the adopted peer
// address and the local socket that reached it, ready to be handed to the
// session layer.
type Result struct {
	Conn      *net.UDPConn
	PeerAddr  *net.UDPAddr
}

// Rendezvous drives §4.1's full protocol: bind, STUN, broker exchange,
// hole punch.
type Rendezvous struct {
	Identity   Identity
	Role       Role
	Broker     collab.Broker
	STUNServer string

	log *logrus.Entry
}

// New constructs a Rendezvous. broker must already be usable (Connect is
// called by Run).
func New(id Identity, role Role, broker collab.Broker, stunServer string, log *logrus.Entry) *Rendezvous {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Rendezvous{Identity: id, Role: role, Broker: broker, STUNServer: stunServer, log: log}
}

// Run executes one full rendezvous attempt and returns the established
// path, or an error if the bounded retry window elapses first (§4.1).
func (r *Rendezvous) Run() (*Result, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("rendezvous: bind local socket: %w", err)
	}

	local, err := r.localCandidate(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	reflexive, err := r.queryReflexive(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	mine := CandidateSet{Local: local, Reflexive: reflexive}

	if err := r.Broker.Connect(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rendezvous: broker connect: %w", err)
	}

	publishTopic, subscribeTopic := r.topics()
	if err := r.Broker.Subscribe(subscribeTopic); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rendezvous: subscribe %q: %w", subscribeTopic, err)
	}

	payload, err := EncryptCandidateSet(r.Identity.Passphrase, mine)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rendezvous: encrypt candidate set: %w", err)
	}
	if err := r.Broker.Publish(publishTopic, payload); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rendezvous: publish candidate set: %w", err)
	}

	peerCS, err := r.awaitPeerCandidates(subscribeTopic)
	if err != nil {
		conn.Close()
		return nil, err
	}

	// The server only learns the client's candidates by receipt; it must
	// then publish its own so the client can punch back (§4.1 step 3).
	if r.Role == RoleServer {
		if err := r.Broker.Publish(publishTopic, payload); err != nil {
			conn.Close()
			return nil, fmt.Errorf("rendezvous: publish reply candidate set: %w", err)
		}
	}

	puncher := NewPuncher(conn, r.log)
	peerAddr, err := puncher.Punch(peerCS.Addrs(), RendezvousTimeout)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rendezvous: %w", err)
	}

	return &Result{Conn: conn, PeerAddr: peerAddr}, nil
}

func (r *Rendezvous) localCandidate(conn *net.UDPConn) (*Candidate, error) {
	ip, err := PrimaryLocalIPv4()
	if err != nil {
		return nil, err
	}
	port := uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	return &Candidate{IP: ip, Port: port}, nil
}

func (r *Rendezvous) queryReflexive(conn *net.UDPConn) (*Candidate, error) {
	client := NewSTUNClient(conn)
	backoff := NewBackoff(stunBackoffMin, stunBackoffMax)
	var lastErr error
	for i := 0; i < STUNRetries; i++ {
		addr, err := client.Query(r.STUNServer)
		if err == nil {
			return &Candidate{IP: addr.IP.To4(), Port: uint16(addr.Port)}, nil
		}
		lastErr = err
		if i == STUNRetries-1 {
			break
		}
		delay := backoff.Next()
		r.log.WithError(err).WithField("retry_in", delay).Warn("stun query failed, retrying")
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("rendezvous: stun failed after %d attempts: %w", STUNRetries, lastErr)
}

func (r *Rendezvous) topics() (publish, subscribe string) {
	if r.Role == RoleClient {
		return ServerTopic(r.Identity.ServerName), ClientTopic(r.Identity.ServerName)
	}
	return ClientTopic(r.Identity.ServerName), ServerTopic(r.Identity.ServerName)
}

// awaitPeerCandidates polls the broker until a candidate payload that
// decrypts under our passphrase arrives, silently discarding anything
// that doesn't (§8 "wrong passphrase" scenario: no log of address
// leakage, no session created).
func (r *Rendezvous) awaitPeerCandidates(topic string) (CandidateSet, error) {
	deadline := time.Now().Add(RendezvousTimeout)
	for time.Now().Before(deadline) {
		for _, msg := range r.Broker.PollIncoming() {
			if msg.Topic != topic {
				continue
			}
			cs, err := DecryptCandidateSet(r.Identity.Passphrase, msg.Payload)
			if err != nil {
				continue // wrong passphrase or hostile payload: ignore silently
			}
			return cs, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return CandidateSet{}, fmt.Errorf("rendezvous: no peer candidates received within %s", RendezvousTimeout)
}
