package rendezvous

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
)

// STUNClient discovers the caller's server-reflexive address using the
// real pion/stun client, querying over the same local socket that will
// later be used for hole punching so the NAT mapping STUN observes is the
// one the punch actually exercises.
type STUNClient struct {
	conn net.PacketConn
}

// NewSTUNClient wraps an already-bound local socket for STUN queries.
func NewSTUNClient(conn net.PacketConn) *STUNClient {
	return &STUNClient{conn: conn}
}

// Query performs a single STUN Binding request/response exchange against
// serverAddr and returns the reflexive (server-observed) address.
func (s *STUNClient) Query(serverAddr string) (*net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp4", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: resolve stun server %q: %w", serverAddr, err)
	}

	adapted := &boundConn{PacketConn: s.conn, remote: raddr}
	client, err := stun.NewClient(adapted)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: stun client: %w", err)
	}
	defer client.Close()

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: build stun request: %w", err)
	}

	var reflexive net.UDPAddr
	var queryErr error
	done := make(chan struct{})

	err = client.Start(req, time.Now().Add(5*time.Second), func(res stun.Event) {
		defer close(done)
		if res.Error != nil {
			queryErr = res.Error
			return
		}
		var xor stun.XORMappedAddress
		if err := xor.GetFrom(res.Message); err != nil {
			queryErr = fmt.Errorf("rendezvous: no XOR-MAPPED-ADDRESS in stun response: %w", err)
			return
		}
		reflexive = net.UDPAddr{IP: xor.IP, Port: xor.Port}
	})
	if err != nil {
		return nil, fmt.Errorf("rendezvous: stun query: %w", err)
	}

	<-done
	if queryErr != nil {
		return nil, queryErr
	}
	return &reflexive, nil
}

// boundConn adapts an unconnected net.PacketConn to the net.Conn shape
// pion/stun's client expects, fixing the remote address so Write always
// targets the STUN server while Read accepts the reply from any source
// (NATs may rewrite the responder's apparent source in edge cases).
type boundConn struct {
	net.PacketConn
	remote net.Addr
}

func (b *boundConn) Read(p []byte) (int, error) {
	n, _, err := b.PacketConn.ReadFrom(p)
	return n, err
}

func (b *boundConn) Write(p []byte) (int, error) {
	return b.PacketConn.WriteTo(p, b.remote)
}

func (b *boundConn) RemoteAddr() net.Addr {
	return b.remote
}
