// Command wifikeyctl runs a client and a server in one process against
// the in-memory broker, so the full rendezvous -> handshake -> keying
// pipeline can be exercised end to end without two machines, real NATs or
// a real pub/sub deployment.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0cw/wifikey/pkg/collab"
	"github.com/n0cw/wifikey/pkg/keyer"
	"github.com/n0cw/wifikey/pkg/logging"
	"github.com/n0cw/wifikey/pkg/rendezvous"
	"github.com/n0cw/wifikey/pkg/session"
)

var (
	serverName = flag.String("name", "demo", "Shared server-name / rendezvous topic discriminator")
	passphrase = flag.String("passphrase", "change-me", "Shared passphrase")
	stunServer = flag.String("stun", "stun.l.google.com:19302", "STUN server for reflexive address discovery")
	message    = flag.String("message", "cq cq de n0cw", "Text to key once the session is established")
	wpm        = flag.Float64("wpm", 20, "Keying speed")
	logLevel   = flag.String("log-level", "info", "Log level")
)

func main() {
	flag.Parse()
	log := logging.New(*logLevel, nil)

	hub := rendezvous.NewMemoryHub()

	done := make(chan error, 2)
	go func() { done <- runServer(hub, log) }()
	go func() { done <- runClient(hub, log) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-done:
		if err != nil {
			fmt.Fprintf(os.Stderr, "demo role exited: %v\n", err)
			os.Exit(1)
		}
	case <-sigCh:
		log.Info("stopping demo")
	}
}

func runServer(hub *rendezvous.MemoryHub, log *logrus.Logger) error {
	rlog := logging.Component(log, "server-rendezvous")
	slog := logging.Component(log, "server-session")
	klog := logging.Component(log, "server-keyer")

	broker := rendezvous.NewMemoryBroker(hub)
	rdv := rendezvous.New(
		rendezvous.Identity{ServerName: *serverName, Passphrase: *passphrase},
		rendezvous.RoleServer,
		broker,
		*stunServer,
		rlog,
	)
	result, err := rdv.Run()
	if err != nil {
		return fmt.Errorf("server rendezvous: %w", err)
	}

	sess, err := session.AcceptServer(result.Conn, session.Identity{
		ServerName: *serverName,
		Passphrase: *passphrase,
	}, nil, slog)
	if err != nil {
		return fmt.Errorf("server handshake: %w", err)
	}
	defer sess.Close()
	slog.WithField("peer", sess.Stats().Snapshot().PeerAddr).Info("session established")

	clock := collab.NewSystemClock()
	line := collab.NewLogLineDriver(klog)
	k := keyer.NewKeyer(clock, line, sess.Stats(), klog)

	stop := make(chan struct{})
	go k.Run(stop)
	defer close(stop)

	for {
		frame, err := sess.ReceiveFrame(200 * time.Millisecond)
		if err != nil {
			if sess.State() == session.StateClosed {
				return nil
			}
			continue
		}
		if err := k.Ingest(frame); err != nil {
			klog.WithError(err).Warn("failed to apply frame")
		}
	}
}

func runClient(hub *rendezvous.MemoryHub, log *logrus.Logger) error {
	rlog := logging.Component(log, "client-rendezvous")
	slog := logging.Component(log, "client-session")
	klog := logging.Component(log, "client-keyer")

	broker := rendezvous.NewMemoryBroker(hub)
	rdv := rendezvous.New(
		rendezvous.Identity{ServerName: *serverName, Passphrase: *passphrase},
		rendezvous.RoleClient,
		broker,
		*stunServer,
		rlog,
	)
	result, err := rdv.Run()
	if err != nil {
		return fmt.Errorf("client rendezvous: %w", err)
	}

	sess, err := session.DialClient(result.Conn, result.PeerAddr, session.Identity{
		ServerName: *serverName,
		Passphrase: *passphrase,
	}, nil, slog)
	if err != nil {
		return fmt.Errorf("client handshake: %w", err)
	}
	defer sess.Close()
	slog.Info("session established")

	clock := collab.NewSystemClock()
	paddle := collab.NewTextPaddleReader(clock, *wpm)
	sampler := keyer.NewSampler(clock, paddle, collab.NoopATUButton{}, sess, klog)

	stop := make(chan struct{})
	go sampler.Run(stop)
	defer close(stop)

	paddle.Send(*message)

	// Keep the session alive for one IdleTimeout, long enough for the
	// default message to finish keying, then tear down cleanly.
	time.Sleep(session.IdleTimeout)
	return nil
}
