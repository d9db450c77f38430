// Package node provides the top-level orchestration object for each
// endpoint role, in the same spirit as the teacher's bonder.Bonder: a
// single New/Start/Stop lifecycle that wires rendezvous, session and
// keyer together so cmd/client and cmd/server stay thin.
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

// receiveStatsTimeout bounds each ReceiveStats poll so the loop can
// observe ctx cancellation instead of blocking forever on a peer that
// stops pushing.
const receiveStatsTimeout = time.Second

// Client is the client-endpoint orchestrator: rendezvous, authenticate,
// then run the C4 sampler against a supplied paddle/button until Stop.
type Client struct {
	cfg    *config.ClientConfig
	broker collab.Broker
	log    *logrus.Logger

	mu      sync.Mutex
	sess    *session.Session
	diag    *diag.Server
	running atomic.Bool

	Paddle collab.PaddleReader
	Button collab.ATUButton

	history []control.Event
}

// NewClient builds a Client. broker is injected rather than constructed
// internally so callers can point it at the process-wide in-memory hub
// (demo/testing) or a real pub/sub implementation.
func NewClient(cfg *config.ClientConfig, broker collab.Broker, log *logrus.Logger) *Client {
	if log == nil {
		log = logging.New(cfg.LogLevel, nil)
	}
	return &Client{cfg: cfg, broker: broker, log: log}
}

// Start rendezvouses, authenticates and begins sampling. It returns once
// the session is authenticated; the sampler and diagnostics server run in
// background goroutines until Stop.
func (c *Client) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("node: client already running")
	}

	rlog := logging.Component(c.log, "rendezvous")
	slog := logging.Component(c.log, "session")
	klog := logging.Component(c.log, "keyer")

	rdv := rendezvous.New(
		rendezvous.Identity{ServerName: c.cfg.ServerName, Passphrase: c.cfg.Passphrase},
		rendezvous.RoleClient,
		c.broker,
		c.cfg.STUNServer,
		rlog,
	)
	result, err := rdv.Run()
	if err != nil {
		c.running.Store(false)
		return fmt.Errorf("node: client rendezvous: %w", err)
	}

	sess, err := session.DialClient(result.Conn, result.PeerAddr, session.Identity{
		ServerName: c.cfg.ServerName,
		Passphrase: c.cfg.Passphrase,
	}, nil, slog)
	if err != nil {
		c.running.Store(false)
		return fmt.Errorf("node: client handshake: %w", err)
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	if c.Paddle == nil {
		c.Paddle = collab.NewTextPaddleReader(collab.NewSystemClock(), 20)
	}
	if c.Button == nil {
		c.Button = collab.NoopATUButton{}
	}

	sampler := keyer.NewSampler(collab.NewSystemClock(), c.Paddle, c.Button, sess, klog)
	stop := make(chan struct{})
	go sampler.Run(stop)
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	c.diag = diag.New(c.cfg.DiagListenAddr, sess.Stats().Snapshot, nil, logging.Component(c.log, "diag"))
	c.diag.Start()

	go c.receiveStatsLoop(stop, sess, slog)
	go c.receiveHistoryOnce(sess, slog)

	return nil
}

// receiveStatsLoop absorbs the server's periodic PushStats (§4.6) and
// folds the server-computed WPM estimate into the client's own stats, so
// the client's own diagnostics feed reflects the keyer that actually
// measures it.
func (c *Client) receiveStatsLoop(stop <-chan struct{}, sess *session.Session, log *logrus.Entry) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		snap, err := sess.ReceiveStats(receiveStatsTimeout)
		if err != nil {
			if sess.State() == session.StateClosed {
				return
			}
			continue
		}
		sess.Stats().UpdateWPM(snap.WPM)
	}
}

// receiveHistoryOnce accepts the server's one-shot bulk-stream catch-up
// of recent event-log history sent right after the session authenticates.
func (c *Client) receiveHistoryOnce(sess *session.Session, log *logrus.Entry) {
	events, err := control.ReceiveEventExport(sess)
	if err != nil {
		log.WithError(err).Debug("event history export not received")
		return
	}
	c.mu.Lock()
	c.history = events
	c.mu.Unlock()
	log.WithField("count", len(events)).Info("received session history from server")
}

// History returns the most recent events the server exported at session
// start, or nil if none have arrived yet.
func (c *Client) History() []control.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history
}

// Session returns the active session, or nil before Start succeeds.
func (c *Client) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Send keys text as CW via the injected paddle, if it supports it (the
// default collab.TextPaddleReader does).
func (c *Client) Send(text string) error {
	sender, ok := c.Paddle.(interface{ Send(string) })
	if !ok {
		return fmt.Errorf("node: configured paddle does not accept text input")
	}
	sender.Send(text)
	return nil
}

// Stop tears down the session and diagnostics server.
func (c *Client) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.diag != nil {
		c.diag.Shutdown(context.Background())
	}
	if c.sess != nil {
		return c.sess.Close()
	}
	return nil
}
