package keyer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0cw/wifikey/pkg/collab"
	"github.com/n0cw/wifikey/pkg/control"
	"github.com/n0cw/wifikey/pkg/session"
	"github.com/n0cw/wifikey/pkg/wire"
)

// WatchdogTimeout is the 10 s fail-safe bound of §3/§4.5.
const WatchdogTimeout = 10 * time.Second

// OffsetAlpha is the EMA smoothing factor for the peer-clock offset
// filter of §4.5 ("bounded-slew filter (e.g. EMA with α≈0.1)").
const OffsetAlpha = 0.1

// maxSleep bounds the scheduler's single wait so cancellation (§5) is
// observed promptly even with no scheduled edges.
const maxSleep = 200 * time.Millisecond

// scheduledEdge is one entry in the deadline queue.
type scheduledEdge struct {
	deadlineMS uint32
	seq        uint64 // tie-break: earlier-received applied first (§5)
	dir        wire.Direction
}

// edgeHeap is a container/heap ordered by (deadline, seq).
type edgeHeap []scheduledEdge

func (h edgeHeap) Len() int { return len(h) }
func (h edgeHeap) Less(i, j int) bool {
	di, dj := int32(h[i].deadlineMS), int32(h[j].deadlineMS)
	if di != dj {
		return di < dj
	}
	return h[i].seq < h[j].seq
}
func (h edgeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *edgeHeap) Push(x interface{}) { *h = append(*h, x.(scheduledEdge)) }
func (h *edgeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Keyer is C5: it consumes decoded frames, reconstructs absolute edge
// deadlines against the local clock, plays them back on the output line
// with jitter tolerance, and enforces the watchdog fail-safe.
type Keyer struct {
	Clock collab.Clock
	Line  collab.LineDriver
	Stats *session.Stats
	log   *logrus.Entry

	mu         sync.Mutex
	haveOffset bool
	offsetMS   float64
	queue      edgeHeap
	nextSeq    uint64

	lineMu       sync.Mutex
	lineAsserted bool
	lastDownAtMS uint32
	wpm          *WPMEstimator

	watchdog *control.Watchdog
	wake     chan struct{}
}

// NewKeyer constructs a Keyer. The watchdog starts armed immediately
// (§4.5's "a running timer").
func NewKeyer(clock collab.Clock, line collab.LineDriver, stats *session.Stats, log *logrus.Entry) *Keyer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	k := &Keyer{
		Clock: clock,
		Line:  line,
		Stats: stats,
		log:   log,
		wpm:   NewWPMEstimator(0.2),
		wake:  make(chan struct{}, 1),
	}
	k.watchdog = control.NewWatchdog(WatchdogTimeout, k.tripWatchdog)
	return k
}

// Ingest processes one decoded frame: updates the peer-clock offset
// estimate and schedules any carried edges. START_ATU frames pulse the
// ATU collaborator directly; the core offers only the event (§4.5).
func (k *Keyer) Ingest(f wire.Frame) error {
	switch f.Command {
	case wire.CmdStartATU:
		if k.Stats != nil {
			k.Stats.SetATUInProgress(true)
		}
		err := k.Line.PulseATU()
		if k.Stats != nil {
			k.Stats.SetATUInProgress(false)
		}
		return err
	case wire.CmdKeyerMessage:
		k.updateOffset(f.SendTime)
		for _, e := range wire.DecodeAbsolute(f) {
			k.schedule(e)
		}
		return nil
	default:
		return nil
	}
}

// updateOffset applies the bounded-slew EMA filter of §4.5.
func (k *Keyer) updateOffset(peerSendTime uint32) {
	now := k.Clock.NowMS()
	sample := float64(int32(now - peerSendTime))

	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.haveOffset {
		k.offsetMS = sample
		k.haveOffset = true
		return
	}
	k.offsetMS = OffsetAlpha*sample + (1-OffsetAlpha)*k.offsetMS
}

func (k *Keyer) schedule(e wire.AbsEdge) {
	k.mu.Lock()
	deadline := e.At + uint32(int32(k.offsetMS))
	heap.Push(&k.queue, scheduledEdge{deadlineMS: deadline, seq: k.nextSeq, dir: e.Dir})
	k.nextSeq++
	k.mu.Unlock()

	select {
	case k.wake <- struct{}{}:
	default:
	}
}

// Run drives the deadline-queue worker of §4.5 until stop is closed. Its
// only blocking points are the next-deadline sleep and the wake channel,
// per §5's bounded-blocking requirement.
func (k *Keyer) Run(stop <-chan struct{}) {
	for {
		sleep := k.nextSleep()
		select {
		case <-stop:
			k.release()
			return
		case <-k.wake:
			continue
		case <-time.After(sleep):
			k.applyDue()
		}
	}
}

func (k *Keyer) nextSleep() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.queue) == 0 {
		return maxSleep
	}
	now := k.Clock.NowMS()
	remaining := int32(k.queue[0].deadlineMS - now)
	if remaining <= 0 {
		return 0
	}
	d := time.Duration(remaining) * time.Millisecond
	if d > maxSleep {
		return maxSleep
	}
	return d
}

// applyDue pops and executes every edge whose deadline has arrived,
// collapsing consecutive same-direction edges so the line never sees a
// redundant transition (§4.5).
func (k *Keyer) applyDue() {
	now := k.Clock.NowMS()
	for {
		k.mu.Lock()
		if len(k.queue) == 0 {
			k.mu.Unlock()
			return
		}
		top := k.queue[0]
		if int32(top.deadlineMS-now) > 0 {
			k.mu.Unlock()
			return
		}
		heap.Pop(&k.queue)
		k.mu.Unlock()

		k.execute(top.dir, now)
	}
}

func (k *Keyer) execute(dir wire.Direction, atMS uint32) {
	down := dir == wire.DirDown

	k.lineMu.Lock()
	if k.lineAsserted == down {
		k.lineMu.Unlock()
		return // redundant transition, collapsed
	}
	k.lineAsserted = down
	if down {
		k.lastDownAtMS = atMS
	} else if k.lastDownAtMS != 0 {
		k.wpm.Observe(float64(int32(atMS - k.lastDownAtMS)))
	}
	k.lineMu.Unlock()

	if err := k.Line.SetKey(down); err != nil {
		k.log.WithError(err).Error("failed to set key line")
	}
	k.watchdog.Reset()
}

// WPM returns the current effective words-per-minute estimate (§3, §4.6).
func (k *Keyer) WPM() float64 {
	k.lineMu.Lock()
	defer k.lineMu.Unlock()
	return k.wpm.WPM()
}

// tripWatchdog forces a key-up and logs prominently, per §4.5/§7. An
// ordinary idle gap between transmissions also lets the timer run out
// with the line already up; that is not the stuck-key condition §4.5
// exists to catch, so the trip only counts and logs when it actually
// found the line asserted.
func (k *Keyer) tripWatchdog() {
	k.lineMu.Lock()
	asserted := k.lineAsserted
	k.lineAsserted = false
	k.lineMu.Unlock()

	if !asserted {
		return
	}

	if err := k.Line.SetKey(false); err != nil {
		k.log.WithError(err).Error("watchdog key-up failed")
	}
	k.log.Warn("keying watchdog tripped: forcing key-up")
	if k.Stats != nil {
		k.Stats.RecordWatchdogTrip()
	}
}

// release immediately key-ups the line and disarms the watchdog, used on
// session close/loss (§4.5 "The watchdog also fires on session close: any
// asserted line is released immediately").
func (k *Keyer) release() {
	k.watchdog.Stop()
	k.lineMu.Lock()
	asserted := k.lineAsserted
	k.lineAsserted = false
	k.lineMu.Unlock()
	if asserted {
		if err := k.Line.SetKey(false); err != nil {
			k.log.WithError(err).Error("release key-up failed")
		}
	}
}
