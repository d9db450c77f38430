package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/n0cw/wifikey/pkg/session"
)

func testSnapshot() session.Snapshot {
	return session.Snapshot{PeerAddr: "127.0.0.1:9000", AuthOK: 1}
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	s := New("127.0.0.1:0", testSnapshot, []byte("secret"), nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestStatsRequiresBearerTokenWhenConfigured(t *testing.T) {
	s := New("127.0.0.1:0", testSnapshot, []byte("secret"), nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	s.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rr.Code)
	}
}

func TestStatsSucceedsWithIssuedToken(t *testing.T) {
	s := New("127.0.0.1:0", testSnapshot, []byte("secret"), nil)
	token, err := s.IssueToken("dashboard", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var snap session.Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.PeerAddr != "127.0.0.1:9000" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestStatsUnauthenticatedWhenNoSecretConfigured(t *testing.T) {
	s := New("127.0.0.1:0", testSnapshot, nil, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	s.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", rr.Code)
	}
}
