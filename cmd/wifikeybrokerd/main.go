// Command wifikeybrokerd is the network-addressable broker daemon that
// pkg/rendezvous.NetBroker talks to: it accepts TCP connections from
// client and server endpoints anywhere on the Internet and relays
// published candidate-set payloads to every subscriber of the matching
// topic, the real-broker counterpart to the in-process MemoryHub used by
// cmd/wifikeyctl's single-process demo.
package main

import (
	"bufio"
	"encoding/base64"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/n0cw/wifikey/pkg/logging"
)

var listenAddr = flag.String("listen", "0.0.0.0:8422", "Address to accept broker connections on")
var logLevel = flag.String("log-level", "info", "Log level")

const (
	msgSub = "SUB"
	msgPub = "PUB"
	msgOut = "MSG"
)

type subscriber struct {
	mu     sync.Mutex
	conn   net.Conn
	topics map[string]bool
}

func (s *subscriber) subscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = true
}

func (s *subscriber) subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topics[topic]
}

func (s *subscriber) send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Write([]byte(line))
	return err
}

type hub struct {
	mu   sync.Mutex
	subs map[*subscriber]bool
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]bool)}
}

func (h *hub) add(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = true
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// publish relays payload (already base64-encoded on the wire) to every
// subscriber currently subscribed to topic, at-least-once, mirroring
// MemoryBroker.Publish's delivery guarantee in pkg/rendezvous.
func (h *hub) publish(topic, encodedPayload string) {
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		if s.subscribed(topic) {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	line := fmt.Sprintf("%s %s %s\n", msgOut, topic, encodedPayload)
	for _, s := range targets {
		_ = s.send(line)
	}
}

func main() {
	flag.Parse()
	log := logging.New(*logLevel, nil)

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen: %v\n", err)
		os.Exit(1)
	}
	log.WithField("addr", *listenAddr).Info("broker daemon listening")

	h := newHub()
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.WithError(err).Warn("accept failed")
			continue
		}
		go handleConn(h, conn, log)
	}
}

func handleConn(h *hub, conn net.Conn, log *logrus.Logger) {
	defer conn.Close()
	s := &subscriber{conn: conn, topics: make(map[string]bool)}
	h.add(s)
	defer h.remove(s)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), " ", 3)
		if len(parts) < 2 {
			continue
		}
		switch parts[0] {
		case msgSub:
			s.subscribe(parts[1])
		case msgPub:
			if len(parts) != 3 {
				continue
			}
			if _, err := base64.StdEncoding.DecodeString(parts[2]); err != nil {
				continue
			}
			h.publish(parts[1], parts[2])
		}
	}
}
