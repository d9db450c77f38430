package session

import (
	"net"
	"sync"
	"testing"
)

func TestHandshakeSucceedsWithMatchingPassphrase(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	var serverErr, clientErr error
	go func() {
		defer wg.Done()
		serverErr = ListenerHandshake(serverConn, "morse-code-4-life", nil)
	}()
	go func() {
		defer wg.Done()
		clientErr = ConnectingHandshake(clientConn, "morse-code-4-life", nil)
	}()
	wg.Wait()

	if serverErr != nil {
		t.Fatalf("ListenerHandshake returned error: %v", serverErr)
	}
	if clientErr != nil {
		t.Fatalf("ConnectingHandshake returned error: %v", clientErr)
	}
}

func TestHandshakeFailsWithMismatchedPassphrase(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	var serverErr, clientErr error
	go func() {
		defer wg.Done()
		serverErr = ListenerHandshake(serverConn, "correct-passphrase", nil)
	}()
	go func() {
		defer wg.Done()
		clientErr = ConnectingHandshake(clientConn, "wrong-passphrase", nil)
	}()
	wg.Wait()

	if serverErr != ErrAuthFailed {
		t.Fatalf("ListenerHandshake error = %v, want ErrAuthFailed", serverErr)
	}
	if clientErr != ErrAuthFailed {
		t.Fatalf("ConnectingHandshake error = %v, want ErrAuthFailed", clientErr)
	}
}
