package rendezvous

import (
	"net"
	"testing"
)

func TestCandidateSetEncryptDecryptRoundTrip(t *testing.T) {
	cs := CandidateSet{
		Local:     &Candidate{IP: net.IPv4(192, 168, 1, 42), Port: 51820},
		Reflexive: &Candidate{IP: net.IPv4(203, 0, 113, 7), Port: 33221},
	}

	payload, err := EncryptCandidateSet("correct horse battery staple", cs)
	if err != nil {
		t.Fatalf("EncryptCandidateSet returned error: %v", err)
	}

	got, err := DecryptCandidateSet("correct horse battery staple", payload)
	if err != nil {
		t.Fatalf("DecryptCandidateSet returned error: %v", err)
	}

	if !got.Local.IP.Equal(cs.Local.IP) || got.Local.Port != cs.Local.Port {
		t.Fatalf("local candidate mismatch: got %+v, want %+v", got.Local, cs.Local)
	}
	if !got.Reflexive.IP.Equal(cs.Reflexive.IP) || got.Reflexive.Port != cs.Reflexive.Port {
		t.Fatalf("reflexive candidate mismatch: got %+v, want %+v", got.Reflexive, cs.Reflexive)
	}
}

func TestCandidateSetDecryptFailsUnderWrongPassphrase(t *testing.T) {
	cs := CandidateSet{Local: &Candidate{IP: net.IPv4(10, 0, 0, 5), Port: 4000}}

	payload, err := EncryptCandidateSet("right passphrase", cs)
	if err != nil {
		t.Fatalf("EncryptCandidateSet returned error: %v", err)
	}

	if _, err := DecryptCandidateSet("wrong passphrase", payload); err == nil {
		t.Fatalf("expected decryption to fail under the wrong passphrase")
	}
}

func TestCandidateIsPrivate(t *testing.T) {
	cases := map[string]bool{
		"10.1.2.3":      true,
		"172.16.0.1":    true,
		"172.31.255.1":  true,
		"172.32.0.1":    false,
		"192.168.50.2":  true,
		"8.8.8.8":       false,
		"203.0.113.7":   false,
	}
	for ip, want := range cases {
		c := Candidate{IP: net.ParseIP(ip)}
		if got := c.IsPrivate(); got != want {
			t.Errorf("IsPrivate(%s) = %v, want %v", ip, got, want)
		}
	}
}

func TestTopicScheme(t *testing.T) {
	if got := ServerTopic("w1abc"); got != "w1abc/s" {
		t.Errorf("ServerTopic = %q, want %q", got, "w1abc/s")
	}
	if got := ClientTopic("w1abc"); got != "w1abc/c" {
		t.Errorf("ClientTopic = %q, want %q", got, "w1abc/c")
	}
}
