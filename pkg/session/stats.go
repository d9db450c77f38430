package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds the session statistics counters of §3. Counters are
// lock-free atomics; the non-counter fields (peer address, session start,
// ATU flag, RTT, WPM) are guarded by a short critical section, per §5
// "Shared resources" and §9's stats design note.
type Stats struct {
	authOK   atomic.Uint64
	authFail atomic.Uint64
	pktCount atomic.Uint64
	watchdogTrips atomic.Uint64
	violations    atomic.Uint64

	mu         sync.RWMutex
	peerAddr   string
	startTime  time.Time
	atuInProgress bool
	rttEstimate   time.Duration
	wpm           float64

	pktWindow *rateWindow
}

// NewStats returns a Stats ready to track a fresh session.
func NewStats() *Stats {
	return &Stats{pktWindow: newRateWindow(time.Second)}
}

// RecordAuthOK increments the authentication-success counter.
func (s *Stats) RecordAuthOK() { s.authOK.Add(1) }

// RecordAuthFail increments the authentication-failure counter.
func (s *Stats) RecordAuthFail() { s.authFail.Add(1) }

// RecordPacket increments the packets-per-second window.
func (s *Stats) RecordPacket() {
	s.pktCount.Add(1)
	s.pktWindow.mark(time.Now())
}

// RecordWatchdogTrip increments the watchdog-trip counter (§4.5, §7).
func (s *Stats) RecordWatchdogTrip() { s.watchdogTrips.Add(1) }

// RecordViolation increments the protocol-violation counter (§7).
func (s *Stats) RecordViolation() { s.violations.Add(1) }

// SetPeer records the adopted peer address and marks the session start
// time.
func (s *Stats) SetPeer(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerAddr = addr
	s.startTime = time.Now()
}

// SetATUInProgress records whether a START_ATU sequence is in flight.
func (s *Stats) SetATUInProgress(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.atuInProgress = v
}

// SetRTT records the latest RTT estimate.
func (s *Stats) SetRTT(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rttEstimate = d
}

// UpdateWPM records the keyer's current effective words-per-minute
// estimate (§3, §4.6), fed in by whichever side runs the server keyer.
func (s *Stats) UpdateWPM(wpm float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wpm = wpm
}

// Snapshot is an immutable copy of Stats for display or persistence.
type Snapshot struct {
	PeerAddr      string
	SessionStart  time.Time
	AuthOK        uint64
	AuthFail      uint64
	PacketsPerSec float64
	RTT           time.Duration
	ATUInProgress bool
	WatchdogTrips uint64
	Violations    uint64
	WPM           float64
}

// Snapshot returns a consistent point-in-time copy of the statistics.
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		PeerAddr:      s.peerAddr,
		SessionStart:  s.startTime,
		AuthOK:        s.authOK.Load(),
		AuthFail:      s.authFail.Load(),
		PacketsPerSec: s.pktWindow.rate(time.Now()),
		RTT:           s.rttEstimate,
		ATUInProgress: s.atuInProgress,
		WatchdogTrips: s.watchdogTrips.Load(),
		Violations:    s.violations.Load(),
		WPM:           s.wpm,
	}
}

// rateWindow tracks a simple sliding-window rate in events/second.
type rateWindow struct {
	window time.Duration

	mu    sync.Mutex
	stamps []time.Time
}

func newRateWindow(window time.Duration) *rateWindow {
	return &rateWindow{window: window}
}

func (r *rateWindow) mark(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stamps = append(r.stamps, at)
	r.prune(at)
}

func (r *rateWindow) rate(at time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(at)
	return float64(len(r.stamps)) / r.window.Seconds()
}

func (r *rateWindow) prune(at time.Time) {
	cutoff := at.Add(-r.window)
	i := 0
	for ; i < len(r.stamps); i++ {
		if r.stamps[i].After(cutoff) {
			break
		}
	}
	r.stamps = r.stamps[i:]
}
