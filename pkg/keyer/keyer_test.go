package keyer

import (
	"sync"
	"testing"
	"time"

	"github.com/n0cw/wifikey/pkg/control"
	"github.com/n0cw/wifikey/pkg/session"
	"github.com/n0cw/wifikey/pkg/wire"
)

func newTestWatchdog(timeout time.Duration, onTrip func()) *control.Watchdog {
	return control.NewWatchdog(timeout, onTrip)
}

// fakeClock is a manually advanced collab.Clock for deterministic tests.
type fakeClock struct {
	mu sync.Mutex
	ms uint32
}

func (c *fakeClock) NowMS() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.ms += uint32(d.Milliseconds())
	c.mu.Unlock()
}

// recordingLine captures every SetKey/PulseATU call in order.
type recordingLine struct {
	mu     sync.Mutex
	events []bool // true=down, false=up
	atus   int
}

func (l *recordingLine) SetKey(down bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, down)
	return nil
}

func (l *recordingLine) PulseATU() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.atus++
	return nil
}

func (l *recordingLine) snapshot() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bool, len(l.events))
	copy(out, l.events)
	return out
}

func TestKeyerReplaysEdgesInDeadlineOrder(t *testing.T) {
	clock := &fakeClock{ms: 1000}
	line := &recordingLine{}
	k := NewKeyer(clock, line, nil, nil)
	defer k.watchdog.Stop()

	stop := make(chan struct{})
	go k.Run(stop)
	defer close(stop)

	// First frame establishes the offset with a zero-length sample.
	if err := k.Ingest(wire.Frame{Command: wire.CmdKeyerMessage, SendTime: clock.NowMS()}); err != nil {
		t.Fatalf("ingest sync frame: %v", err)
	}

	edges := []wire.AbsEdge{
		{Dir: wire.DirDown, At: clock.NowMS() + 50},
		{Dir: wire.DirUp, At: clock.NowMS() + 150},
	}
	frames, err := wire.EncodeEdges(wire.CmdKeyerMessage, edges[0].At, edges)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, f := range frames {
		if err := k.Ingest(f); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for i := 0; i < 20; i++ {
		clock.advance(20 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		if len(line.snapshot()) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for edges to replay")
		default:
		}
	}

	events := line.snapshot()
	if len(events) < 2 {
		t.Fatalf("expected at least 2 line transitions, got %d: %v", len(events), events)
	}
	if events[0] != true {
		t.Errorf("first transition should be key-down, got %v", events[0])
	}
	if events[1] != false {
		t.Errorf("second transition should be key-up, got %v", events[1])
	}
}

func TestKeyerCollapsesRedundantTransitions(t *testing.T) {
	clock := &fakeClock{ms: 5000}
	line := &recordingLine{}
	k := NewKeyer(clock, line, nil, nil)
	defer k.watchdog.Stop()

	stop := make(chan struct{})
	go k.Run(stop)
	defer close(stop)

	// Two consecutive down edges (e.g. duplicate retransmit) should not
	// produce two key-down calls.
	edges := []wire.AbsEdge{
		{Dir: wire.DirDown, At: clock.NowMS() + 10},
		{Dir: wire.DirDown, At: clock.NowMS() + 20},
	}
	frames, err := wire.EncodeEdges(wire.CmdKeyerMessage, edges[0].At, edges)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, f := range frames {
		if err := k.Ingest(f); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	for i := 0; i < 10; i++ {
		clock.advance(20 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}

	events := line.snapshot()
	downCount := 0
	for _, e := range events {
		if e {
			downCount++
		}
	}
	if downCount != 1 {
		t.Errorf("expected exactly 1 key-down after collapsing, got %d (%v)", downCount, events)
	}
}

func TestKeyerStartATUPulsesLineDirectly(t *testing.T) {
	clock := &fakeClock{ms: 0}
	line := &recordingLine{}
	k := NewKeyer(clock, line, nil, nil)
	defer k.watchdog.Stop()

	if err := k.Ingest(wire.Frame{Command: wire.CmdStartATU, SendTime: 0}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if line.atus != 1 {
		t.Errorf("expected 1 ATU pulse, got %d", line.atus)
	}
}

func TestWatchdogTripForcesKeyUp(t *testing.T) {
	clock := &fakeClock{ms: 0}
	line := &recordingLine{}
	k := NewKeyer(clock, line, nil, nil)
	defer k.watchdog.Stop()

	k.lineMu.Lock()
	k.lineAsserted = true
	k.lineMu.Unlock()

	k.tripWatchdog()

	events := line.snapshot()
	if len(events) == 0 || events[len(events)-1] != false {
		t.Fatalf("expected watchdog trip to force a key-up, got %v", events)
	}
}

func TestWatchdogTripWithLineNotAssertedIsSilent(t *testing.T) {
	clock := &fakeClock{ms: 0}
	line := &recordingLine{}
	stats := session.NewStats()
	k := NewKeyer(clock, line, stats, nil)
	defer k.watchdog.Stop()

	// Line is idle (no key down) when the watchdog fires, e.g. the gap
	// between two transmissions exceeding the timeout. This must not be
	// logged or counted as a real stuck-key trip.
	k.tripWatchdog()

	if events := line.snapshot(); len(events) != 0 {
		t.Errorf("expected no SetKey calls for an already-idle line, got %v", events)
	}
	if trips := stats.Snapshot().WatchdogTrips; trips != 0 {
		t.Errorf("expected WatchdogTrips to stay 0, got %d", trips)
	}
}

func TestWatchdogTripsAfterTimeoutWithNoTraffic(t *testing.T) {
	clock := &fakeClock{ms: 0}
	line := &recordingLine{}
	k := NewKeyer(clock, line, nil, nil)
	// Use a short real-time bound instead of the production 10s constant so
	// the test doesn't block for the real fail-safe window.
	k.watchdog.Stop()
	k.watchdog = newTestWatchdog(50*time.Millisecond, k.tripWatchdog)
	defer k.watchdog.Stop()

	k.lineMu.Lock()
	k.lineAsserted = true
	k.lineMu.Unlock()

	deadline := time.After(2 * time.Second)
	for {
		line.mu.Lock()
		n := len(line.events)
		line.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watchdog did not trip within the expected bound")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
