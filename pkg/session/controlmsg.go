package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// PushStats sends a statistics snapshot over the control stream (§4.6:
// "the stats stream is pushed server→client-gui ... over the same
// session channel"). It does not touch the keying stream or its
// violation accounting.
func (s *Session) PushStats(snap Snapshot) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("session: marshal stats: %w", err)
	}
	if err := writeFramed(s.ctrlStream, buf); err != nil {
		return fmt.Errorf("session: push stats: %w", err)
	}
	return nil
}

// ReceiveStats blocks for up to timeout for the next statistics snapshot
// pushed by the peer over the control stream.
func (s *Session) ReceiveStats(timeout time.Duration) (Snapshot, error) {
	_ = s.ctrlStream.SetReadDeadline(time.Now().Add(timeout))
	buf, err := readFramed(s.ctrlStream)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(buf, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("session: unmarshal stats: %w", err)
	}
	return snap, nil
}
