// Package rendezvous implements C1: STUN reflexive-address discovery,
// candidate exchange over a pub/sub broker and UDP hole punching.
package rendezvous

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Candidate is a single (IP, UDP port) the peer might be reachable at.
type Candidate struct {
	IP   net.IP
	Port uint16
}

func (c Candidate) addr() *net.UDPAddr {
	return &net.UDPAddr{IP: c.IP, Port: int(c.Port)}
}

// IsPrivate reports whether c's IP falls in an RFC1918 private range, per
// §4.1's policy for treating a candidate as "local".
func (c Candidate) IsPrivate() bool {
	ip4 := c.IP.To4()
	if ip4 == nil {
		return false
	}
	switch {
	case ip4[0] == 10:
		return true
	case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
		return true
	case ip4[0] == 192 && ip4[1] == 168:
		return true
	default:
		return false
	}
}

// CandidateSet is the address candidate set exchanged over the broker for
// one connection attempt (§3): an optional local socket address and an
// optional reflexive address discovered via STUN.
type CandidateSet struct {
	Local      *Candidate
	Reflexive  *Candidate
}

// flag bits for the plaintext layout (§6).
const (
	flagLocalPresent     = 1 << 0
	flagReflexivePresent = 1 << 1
)

// plaintext encodes the candidate set's §6 fixed binary layout:
//
//	flags: u8
//	local_ip: 4 bytes    -- present iff bit0
//	local_port: u16 BE   -- present iff bit0
//	refl_ip: 4 bytes     -- present iff bit1
//	refl_port: u16 BE    -- present iff bit1
func (cs CandidateSet) plaintext() ([]byte, error) {
	var flags byte
	if cs.Local != nil {
		flags |= flagLocalPresent
	}
	if cs.Reflexive != nil {
		flags |= flagReflexivePresent
	}

	buf := []byte{flags}
	appendCandidate := func(c *Candidate) error {
		if c == nil {
			return nil
		}
		ip4 := c.IP.To4()
		if ip4 == nil {
			return fmt.Errorf("rendezvous: candidate %s is not an IPv4 address", c.IP)
		}
		buf = append(buf, ip4...)
		portBytes := make([]byte, 2)
		binary.BigEndian.PutUint16(portBytes, c.Port)
		buf = append(buf, portBytes...)
		return nil
	}
	if err := appendCandidate(cs.Local); err != nil {
		return nil, err
	}
	if err := appendCandidate(cs.Reflexive); err != nil {
		return nil, err
	}
	return buf, nil
}

func parseCandidateSetPlaintext(buf []byte) (CandidateSet, error) {
	if len(buf) < 1 {
		return CandidateSet{}, fmt.Errorf("rendezvous: empty candidate payload")
	}
	flags := buf[0]
	buf = buf[1:]

	var cs CandidateSet
	readCandidate := func() (*Candidate, error) {
		if len(buf) < 6 {
			return nil, fmt.Errorf("rendezvous: truncated candidate field")
		}
		ip := net.IP(append([]byte(nil), buf[0:4]...))
		port := binary.BigEndian.Uint16(buf[4:6])
		buf = buf[6:]
		return &Candidate{IP: ip, Port: port}, nil
	}

	if flags&flagLocalPresent != 0 {
		c, err := readCandidate()
		if err != nil {
			return CandidateSet{}, err
		}
		cs.Local = c
	}
	if flags&flagReflexivePresent != 0 {
		c, err := readCandidate()
		if err != nil {
			return CandidateSet{}, err
		}
		cs.Reflexive = c
	}
	return cs, nil
}

// Addrs returns the non-nil candidates as dialable UDP addresses, local
// first, so callers punch to the path most likely to resolve fastest
// (§4.1: a mutually-routable local path wins naturally by responding
// first).
func (cs CandidateSet) Addrs() []*net.UDPAddr {
	var out []*net.UDPAddr
	if cs.Local != nil {
		out = append(out, cs.Local.addr())
	}
	if cs.Reflexive != nil {
		out = append(out, cs.Reflexive.addr())
	}
	return out
}
