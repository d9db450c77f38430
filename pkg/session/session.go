package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/smux"

	"github.com/sirupsen/logrus"

	"github.com/n0cw/wifikey/pkg/wire"
)

// State is a session's position in the §4.2 state machine:
// IDLE → PUNCHING → HANDSHAKING → AUTH-OK → (IDLE|CLOSED).
type State int

const (
	StateIdle State = iota
	StatePunching
	StateHandshaking
	StateAuthOK
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePunching:
		return "PUNCHING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateAuthOK:
		return "AUTH-OK"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// IdleTimeout is the "no datagrams in either direction" window of §4.2
// after which idleWatch closes an AUTH-OK session (its State then reads
// CLOSED).
const IdleTimeout = 15 * time.Second

// ViolationWindow and ViolationLimit implement §7's "repeated violations
// (≥10 in 1 s) close the session" policy.
const (
	ViolationWindow = time.Second
	ViolationLimit  = 10
)

// kcp tuning constants mirroring the teacher's kcptun SetNoDelay/SetMtu/
// SetWindowSize/SetACKNoDelay calls, chosen for the latency target of
// §1 (well under 100 ms): no congestion control, 10 ms internal update
// interval (§4.2's "called frequently (≤10 ms)"), fast resend after 2
// duplicate acks, small windows since keying traffic is tiny.
const (
	kcpNoDelay     = 1
	kcpInterval    = 10
	kcpResend      = 2
	kcpNoCongest   = 1
	kcpMTU         = 512
	kcpSendWindow  = 128
	kcpRecvWindow  = 128
)

// Session is C2: an authenticated reliable-UDP session carrying keying
// frames on one smux stream and handshake/lifecycle control on another.
type Session struct {
	identity   Identity
	digest     Digest

	kcpConn *kcp.UDPSession
	mux     *smux.Session

	keyingStream *smux.Stream
	ctrlStream   *smux.Stream

	stats *Stats
	log   *logrus.Entry

	mu           sync.Mutex
	state        State
	lastActivity time.Time

	violationMu     sync.Mutex
	violationEvents []time.Time

	closeOnce sync.Once
}

// Identity mirrors rendezvous.Identity to avoid a package cycle; the two
// are the same (server-name, passphrase) tuple from §3.
type Identity struct {
	ServerName string
	Passphrase string
}

func tuneKCP(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetNoDelay(kcpNoDelay, kcpInterval, kcpResend, kcpNoCongest)
	conn.SetWindowSize(kcpSendWindow, kcpRecvWindow)
	conn.SetMtu(kcpMTU)
	conn.SetACKNoDelay(true)
}

// DialClient performs the connecting side of §4.2 over an already-punched
// socket: opens the KCP session, multiplexes it, and runs the
// challenge/response handshake.
func DialClient(conn *net.UDPConn, peerAddr *net.UDPAddr, id Identity, digest Digest, log *logrus.Entry) (*Session, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	kcpConn, err := kcp.NewConn2(peerAddr, nil, 0, 0, conn)
	if err != nil {
		return nil, fmt.Errorf("session: kcp dial: %w", err)
	}
	tuneKCP(kcpConn)

	muxConfig := smux.DefaultConfig()
	muxSess, err := smux.Client(kcpConn, muxConfig)
	if err != nil {
		kcpConn.Close()
		return nil, fmt.Errorf("session: smux client: %w", err)
	}

	s := newSession(id, digest, kcpConn, muxSess, log)
	s.setState(StateHandshaking)

	ctrl, err := muxSess.OpenStream()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("session: open control stream: %w", err)
	}
	s.ctrlStream = ctrl

	if err := ConnectingHandshake(ctrl, id.Passphrase, digest); err != nil {
		s.stats.RecordAuthFail()
		s.setState(StateClosed)
		s.Close()
		return nil, err
	}
	s.stats.RecordAuthOK()

	keying, err := muxSess.OpenStream()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("session: open keying stream: %w", err)
	}
	s.keyingStream = keying

	s.stats.SetPeer(peerAddr.String())
	s.setState(StateAuthOK)
	s.touch()
	go s.idleWatch()
	return s, nil
}

// AcceptServer performs the listener side of §4.2. Per §3's invariant, at
// most one authenticated session may exist on the server endpoint at any
// time: the caller is expected to call AcceptServer once per rendezvous
// and reject/ignore further connection attempts while a session is live.
func AcceptServer(conn *net.UDPConn, id Identity, digest Digest, log *logrus.Entry) (*Session, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	listener, err := kcp.ServeConn(nil, 0, 0, conn)
	if err != nil {
		return nil, fmt.Errorf("session: kcp serve: %w", err)
	}

	kcpConn, err := listener.AcceptKCP()
	if err != nil {
		return nil, fmt.Errorf("session: kcp accept: %w", err)
	}
	tuneKCP(kcpConn)

	muxConfig := smux.DefaultConfig()
	muxSess, err := smux.Server(kcpConn, muxConfig)
	if err != nil {
		kcpConn.Close()
		return nil, fmt.Errorf("session: smux server: %w", err)
	}

	s := newSession(id, digest, kcpConn, muxSess, log)
	s.setState(StateHandshaking)

	ctrl, err := muxSess.AcceptStream()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("session: accept control stream: %w", err)
	}
	s.ctrlStream = ctrl

	if err := ListenerHandshake(ctrl, id.Passphrase, digest); err != nil {
		s.stats.RecordAuthFail()
		s.setState(StateClosed)
		s.Close()
		return nil, err
	}
	s.stats.RecordAuthOK()

	keying, err := muxSess.AcceptStream()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("session: accept keying stream: %w", err)
	}
	s.keyingStream = keying

	s.stats.SetPeer(kcpConn.RemoteAddr().String())
	s.setState(StateAuthOK)
	s.touch()
	go s.idleWatch()
	return s, nil
}

func newSession(id Identity, digest Digest, kcpConn *kcp.UDPSession, muxSess *smux.Session, log *logrus.Entry) *Session {
	if digest == nil {
		digest = DefaultDigest
	}
	return &Session{
		identity: id,
		digest:   digest,
		kcpConn:  kcpConn,
		mux:      muxSess,
		stats:    NewStats(),
		log:      log,
		state:    StateIdle,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// Stats returns the session's statistics tracker.
func (s *Session) Stats() *Stats { return s.stats }

// OpenBulkStream opens a new snappy-compressed multiplexed stream for a
// payload too large or too latency-insensitive for the control stream's
// small-message framing (e.g. a historical event-log export). The peer
// must be looped on AcceptBulkStream to receive it.
func (s *Session) OpenBulkStream() (io.ReadWriteCloser, error) {
	st, err := s.mux.OpenStream()
	if err != nil {
		return nil, fmt.Errorf("session: open bulk stream: %w", err)
	}
	return newCompStream(st), nil
}

// AcceptBulkStream blocks for the next bulk stream opened by the peer via
// OpenBulkStream.
func (s *Session) AcceptBulkStream() (io.ReadWriteCloser, error) {
	st, err := s.mux.AcceptStream()
	if err != nil {
		return nil, fmt.Errorf("session: accept bulk stream: %w", err)
	}
	return newCompStream(st), nil
}

// SendFrame encodes and sends a keying frame (§4.2's "send a whole
// message" primitive over the keying stream).
func (s *Session) SendFrame(f wire.Frame) error {
	buf, err := wire.Encode(f)
	if err != nil {
		return err
	}
	if err := writeFramed(s.keyingStream, buf); err != nil {
		return fmt.Errorf("session: send frame: %w", err)
	}
	s.touch()
	s.stats.RecordPacket()
	return nil
}

// ReceiveFrame blocks for up to timeout for the next keying frame. A
// malformed datagram is dropped (counted as a protocol violation) rather
// than returned as a fatal error, per §4.2's failure model and §7; if
// violations reach the §7 threshold within one second the session is
// closed and the violation error is returned.
func (s *Session) ReceiveFrame(timeout time.Duration) (wire.Frame, error) {
	_ = s.keyingStream.SetReadDeadline(time.Now().Add(timeout))
	for {
		buf, err := readFramed(s.keyingStream)
		if err != nil {
			return wire.Frame{}, err
		}
		s.touch()
		s.stats.RecordPacket()

		f, err := wire.Decode(buf)
		if err != nil {
			if closeErr := s.recordViolation(); closeErr != nil {
				return wire.Frame{}, closeErr
			}
			continue
		}
		return f, nil
	}
}

// recordViolation tracks a protocol violation within the sliding window
// and closes the session once the §7 threshold (ViolationLimit within
// ViolationWindow) is reached.
func (s *Session) recordViolation() error {
	s.stats.RecordViolation()

	s.violationMu.Lock()
	now := time.Now()
	cutoff := now.Add(-ViolationWindow)
	kept := s.violationEvents[:0]
	for _, t := range s.violationEvents {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.violationEvents = kept
	count := len(kept)
	s.violationMu.Unlock()

	if count >= ViolationLimit {
		s.Close()
		return fmt.Errorf("session: %d protocol violations within %s, session closed", count, ViolationWindow)
	}
	return nil
}

// idleWatch enforces the 15 s idle timeout of §4.2, closing the session
// if no datagram has been observed in either direction.
func (s *Session) idleWatch() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if s.State() != StateAuthOK {
			return
		}
		if s.idleSince() >= IdleTimeout {
			s.log.Warn("session idle timeout, closing")
			s.setState(StateIdle)
			s.Close()
			return
		}
	}
}

// RTT returns the transport's internal smoothed round-trip estimate.
func (s *Session) RTT() time.Duration {
	return time.Duration(s.kcpConn.GetSRTT()) * time.Millisecond
}

// Close tears down the session. It is safe to call multiple times and
// from any task; per §5 "Cancellation", no task may linger past 200 ms
// after close, which the underlying smux/kcp Close calls satisfy directly
// (they release blocked Read/Write calls immediately).
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		if s.mux != nil {
			err = s.mux.Close()
		}
		if s.kcpConn != nil {
			if kerr := s.kcpConn.Close(); kerr != nil && err == nil {
				err = kerr
			}
		}
	})
	return err
}

// ErrNotAuthOK is returned by operations that require an established
// session.
var ErrNotAuthOK = errors.New("session: not in AUTH-OK state")
