package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0cw/wifikey/pkg/collab"
	"github.com/n0cw/wifikey/pkg/config"
	"github.com/n0cw/wifikey/pkg/control"
	"github.com/n0cw/wifikey/pkg/diag"
	"github.com/n0cw/wifikey/pkg/keyer"
	"github.com/n0cw/wifikey/pkg/logging"
	"github.com/n0cw/wifikey/pkg/rendezvous"
	"github.com/n0cw/wifikey/pkg/session"
)

const readTimeout = 100 * time.Millisecond

// statsPollInterval drives both the PushStats cadence and the watchdog
// and WPM polls, which must run on their own ticker independent of frame
// arrival: §8 scenario 5 (stuck key, peer crashes, no further frames
// ever arrive) still needs the trip recorded even though ReceiveFrame
// never returns again.
const statsPollInterval = time.Second

// rendezvousBackoffMin/Max bound the delay between rendezvous attempts
// on the server endpoint (§4.1 "Errors" calls for retry, not a tight
// spin loop on repeated failure).
const (
	rendezvousBackoffMin = 500 * time.Millisecond
	rendezvousBackoffMax = 10 * time.Second
)

// eventExportLimit bounds how much history a newly connected client is
// caught up on via the bulk stream.
const eventExportLimit = 100

// Server is the server-endpoint orchestrator. Per §3's invariant of at
// most one authenticated session per server-name, it runs rendezvous and
// a single session to completion before accepting the next one; it never
// holds two sessions concurrently.
type Server struct {
	cfg      *config.ServerConfig
	broker   collab.Broker
	log      *logrus.Logger
	eventLog *control.EventLog

	mu      sync.Mutex
	sess    *session.Session
	diag    *diag.Server
	running atomic.Bool

	Line   collab.LineDriver
	Button collab.ATUButton
}

// NewServer builds a Server and opens its event log.
func NewServer(cfg *config.ServerConfig, broker collab.Broker, log *logrus.Logger) (*Server, error) {
	if log == nil {
		log = logging.New(cfg.LogLevel, nil)
	}
	eventLog, err := control.OpenEventLog(cfg.EventLogPath)
	if err != nil {
		return nil, fmt.Errorf("node: open event log: %w", err)
	}
	return &Server{cfg: cfg, broker: broker, log: log, eventLog: eventLog}, nil
}

// Run accepts and serves sessions until ctx is cancelled, looping the
// rendezvous→handshake→keying cycle once per peer exactly as the
// standalone server command used to do inline.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("node: server already running")
	}
	defer s.running.Store(false)

	rlog := logging.Component(s.log, "rendezvous")
	slog := logging.Component(s.log, "session")
	klog := logging.Component(s.log, "keyer")
	backoff := rendezvous.NewBackoff(rendezvousBackoffMin, rendezvousBackoffMax)

	for ctx.Err() == nil {
		rdv := rendezvous.New(
			rendezvous.Identity{ServerName: s.cfg.ServerName, Passphrase: s.cfg.Passphrase},
			rendezvous.RoleServer,
			s.broker,
			s.cfg.STUNServer,
			rlog,
		)
		result, err := rdv.Run()
		if err != nil {
			delay := backoff.Next()
			s.log.WithError(err).WithField("retry_in", delay).Warn("rendezvous failed, retrying")
			sleepOrDone(ctx, delay)
			continue
		}
		backoff.Reset()

		sess, err := session.AcceptServer(result.Conn, session.Identity{
			ServerName: s.cfg.ServerName,
			Passphrase: s.cfg.Passphrase,
		}, nil, slog)
		if err != nil {
			s.eventLog.RecordAuthFailure(result.PeerAddr.String())
			s.log.WithError(err).Warn("handshake failed")
			continue
		}

		peer := sess.Stats().Snapshot().PeerAddr
		s.eventLog.RecordSessionStart(peer)

		s.mu.Lock()
		s.sess = sess
		s.diag = diag.New(s.cfg.DiagListenAddr, sess.Stats().Snapshot, nil, logging.Component(s.log, "diag"))
		s.diag.Start()
		s.mu.Unlock()

		// Catch the newly connected peer up on recent history over its own
		// bulk stream (§4.6's stats surface extended to "what happened
		// while you were away").
		go func() {
			if err := control.ExportEvents(sess, s.eventLog, eventExportLimit); err != nil {
				slog.WithError(err).Debug("event export skipped")
			}
		}()

		reason := s.serve(ctx, sess, klog)

		s.mu.Lock()
		s.diag.Shutdown(context.Background())
		s.diag = nil
		s.sess = nil
		s.mu.Unlock()

		s.eventLog.RecordSessionEnd(peer, reason)
	}
	return nil
}

// serve runs the C5 server keyer against sess until it closes or ctx is
// cancelled, returning a short human-readable reason for the event log.
func (s *Server) serve(ctx context.Context, sess *session.Session, klog *logrus.Entry) string {
	if s.Line == nil {
		s.Line = collab.NewLogLineDriver(klog)
	}
	clock := collab.NewSystemClock()
	k := keyer.NewKeyer(clock, s.Line, sess.Stats(), klog)
	stop := make(chan struct{})
	go k.Run(stop)
	defer close(stop)

	go s.statsLoop(stop, sess, k, klog)

	for {
		if ctx.Err() != nil {
			sess.Close()
			return "shutdown"
		}
		f, err := sess.ReceiveFrame(readTimeout)
		if err != nil {
			if sess.State() == session.StateClosed {
				return "closed"
			}
			continue
		}
		if err := k.Ingest(f); err != nil {
			klog.WithError(err).Warn("ingest failed")
		}
	}
}

// statsLoop runs independently of frame arrival so the §8 scenario 5
// stuck-key/peer-crash case (no further frames ever arrive) still gets
// its watchdog trip recorded, and so the client keeps receiving a live
// WPM estimate even during a quiet stretch on the keying stream.
func (s *Server) statsLoop(stop <-chan struct{}, sess *session.Session, k *keyer.Keyer, log *logrus.Entry) {
	ticker := time.NewTicker(statsPollInterval)
	defer ticker.Stop()

	peer := sess.Stats().Snapshot().PeerAddr
	lastTrips := sess.Stats().Snapshot().WatchdogTrips

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sess.Stats().UpdateWPM(k.WPM())

			snap := sess.Stats().Snapshot()
			if snap.WatchdogTrips > lastTrips {
				if err := s.eventLog.RecordWatchdogTrip(peer); err != nil {
					log.WithError(err).Warn("failed to record watchdog trip")
				}
				lastTrips = snap.WatchdogTrips
			}

			if err := sess.PushStats(snap); err != nil {
				log.WithError(err).Debug("push stats failed")
			}
		}
	}
}

// sleepOrDone waits d unless ctx is cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Session returns the currently active session, or nil between peers.
func (s *Server) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// EventLog exposes the server's persistent event log, e.g. for an
// operator tool to call control.ExportEvents against an active session.
func (s *Server) EventLog() *control.EventLog {
	return s.eventLog
}

// Stop closes the event log; Run exits on its own once ctx is cancelled.
func (s *Server) Stop() error {
	return s.eventLog.Close()
}
