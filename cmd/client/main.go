package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/n0cw/wifikey/pkg/collab"
	"github.com/n0cw/wifikey/pkg/config"
	"github.com/n0cw/wifikey/pkg/logging"
	"github.com/n0cw/wifikey/pkg/node"
	"github.com/n0cw/wifikey/pkg/rendezvous"
)

var (
	configFile = flag.String("config", "configs/client.yaml", "Path to configuration file")
	wpm        = flag.Float64("wpm", 20, "Keying speed for the text-paddle demo collaborator")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, nil)

	// A real deployment rendezvouses over an Internet-reachable broker
	// daemon (cmd/wifikeybrokerd), not the in-process MemoryBroker that
	// cmd/wifikeyctl's single-process demo uses.
	broker := rendezvous.NewNetBroker(cfg.BrokerAddr)

	c := node.NewClient(cfg, broker, log)
	c.Paddle = collab.NewTextPaddleReader(collab.NewSystemClock(), *wpm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		log.WithError(err).Fatal("client failed to start")
	}
	defer c.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	fmt.Println("Connected. Type text to send as CW (Ctrl+C to quit):")
	go interactive(c)

	<-sigCh
	cancel()
	log.Info("shutting down")
}

func interactive(c *node.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print(">> ")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text != "" {
			if err := c.Send(text); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
		fmt.Print(">> ")
	}
}
