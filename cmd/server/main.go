package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/n0cw/wifikey/pkg/config"
	"github.com/n0cw/wifikey/pkg/logging"
	"github.com/n0cw/wifikey/pkg/node"
	"github.com/n0cw/wifikey/pkg/rendezvous"
)

var configFile = flag.String("config", "configs/server.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, nil)

	// A real deployment rendezvouses over an Internet-reachable broker
	// daemon (cmd/wifikeybrokerd), not the in-process MemoryBroker that
	// cmd/wifikeyctl's single-process demo uses.
	broker := rendezvous.NewNetBroker(cfg.BrokerAddr)

	s, err := node.NewServer(cfg, broker, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build server")
	}
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown requested")
		cancel()
	}()

	if err := s.Run(ctx); err != nil {
		log.WithError(err).Fatal("server failed")
	}
	log.Info("server stopped")
}
