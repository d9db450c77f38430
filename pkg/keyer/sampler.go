// Package keyer implements C4 (client sampler) and C5 (server keyer):
// converting paddle transitions into keying frames on the client, and
// replaying received frames onto the output line on the server.
package keyer

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0cw/wifikey/pkg/collab"
	"github.com/n0cw/wifikey/pkg/wire"
)

// Cadence is the sampler's tick interval (§4.4).
const Cadence = 50 * time.Millisecond

// FrameSender is anything that can transmit an encoded keying frame
// reliably, satisfied by *session.Session.
type FrameSender interface {
	SendFrame(f wire.Frame) error
}

// Sampler is C4: it ticks at Cadence, drains paddle edges recorded since
// the previous tick, and hands one or more wire.Frame values to a
// FrameSender for reliable transmission.
type Sampler struct {
	Clock  collab.Clock
	Paddle collab.PaddleReader
	Button collab.ATUButton
	Sender FrameSender
	Log    *logrus.Entry
}

// NewSampler constructs a Sampler. Button may be nil if the node has no
// ATU auxiliary button wired.
func NewSampler(clock collab.Clock, paddle collab.PaddleReader, button collab.ATUButton, sender FrameSender, log *logrus.Entry) *Sampler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sampler{Clock: clock, Paddle: paddle, Button: button, Sender: sender, Log: log}
}

// Run drives the cadence timer until stop is closed. It is the client's
// keyer task of §5: its only blocking point is the ticker itself, so
// cancellation (closing stop) is observed within one tick.
func (s *Sampler) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(Cadence)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sampler) tick() {
	t := s.Clock.NowMS()

	if s.Button != nil && s.Button.PollShortPress() {
		if err := s.Sender.SendFrame(wire.Frame{Command: wire.CmdStartATU, SendTime: t}); err != nil {
			s.Log.WithError(err).Warn("failed to send START_ATU frame")
		}
	}

	raw := s.Paddle.ReadEdges()
	abs := make([]wire.AbsEdge, len(raw))
	for i, e := range raw {
		dir := wire.DirUp
		if e.Down {
			dir = wire.DirDown
		}
		abs[i] = wire.AbsEdge{Dir: dir, At: e.AtMS}
	}

	base := t
	if len(abs) > 0 {
		// The frame's reference time must not postdate any edge it
		// carries (§4.3's 0 <= t_abs-T contract), so when the tick has
		// edges the base is the earliest edge's own capture time rather
		// than "now".
		base = abs[0].At
	}

	frames, err := wire.EncodeEdges(wire.CmdKeyerMessage, base, abs)
	if err != nil {
		s.Log.WithError(err).Error("failed to encode edges, dropping tick")
		return
	}
	for _, f := range frames {
		if err := s.Sender.SendFrame(f); err != nil {
			s.Log.WithError(err).Warn("failed to send keying frame")
			return
		}
	}
}
