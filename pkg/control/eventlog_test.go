package control

import (
	"path/filepath"
	"testing"
)

func TestEventLogRecordsAndRetrieves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	log, err := OpenEventLog(path)
	if err != nil {
		t.Fatalf("OpenEventLog: %v", err)
	}
	defer log.Close()

	if err := log.RecordSessionStart("10.0.0.5:4000"); err != nil {
		t.Fatalf("RecordSessionStart: %v", err)
	}
	if err := log.RecordWatchdogTrip("10.0.0.5:4000"); err != nil {
		t.Fatalf("RecordWatchdogTrip: %v", err)
	}
	if err := log.RecordSessionEnd("10.0.0.5:4000", "idle timeout"); err != nil {
		t.Fatalf("RecordSessionEnd: %v", err)
	}

	events, err := log.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Kind != "session_end" {
		t.Errorf("expected newest-first ordering, got %q first", events[0].Kind)
	}
}
