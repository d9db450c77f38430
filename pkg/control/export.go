package control

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/n0cw/wifikey/pkg/session"
)

// bulkMaxSize bounds one export payload; an event log large enough to
// exceed this is better rotated than shipped whole.
const bulkMaxSize = 16 << 20

// ExportEvents sends the most recent limit events to the peer over a
// fresh compressed bulk stream (§4.6's stats channel extended to cover
// the operator's "what happened while I was away" use case). The peer
// must be blocked in ReceiveEventExport to accept it.
func ExportEvents(sess *session.Session, log *EventLog, limit int) error {
	events, err := log.Recent(limit)
	if err != nil {
		return fmt.Errorf("control: export events: %w", err)
	}
	buf, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("control: marshal events: %w", err)
	}

	stream, err := sess.OpenBulkStream()
	if err != nil {
		return fmt.Errorf("control: open bulk stream: %w", err)
	}
	defer stream.Close()

	return writeBulk(stream, buf)
}

// ReceiveEventExport blocks for the next bulk stream opened by the peer
// via ExportEvents and returns its decoded events.
func ReceiveEventExport(sess *session.Session) ([]Event, error) {
	stream, err := sess.AcceptBulkStream()
	if err != nil {
		return nil, fmt.Errorf("control: accept bulk stream: %w", err)
	}
	defer stream.Close()

	buf, err := readBulk(stream)
	if err != nil {
		return nil, fmt.Errorf("control: read bulk stream: %w", err)
	}
	var events []Event
	if err := json.Unmarshal(buf, &events); err != nil {
		return nil, fmt.Errorf("control: unmarshal events: %w", err)
	}
	return events, nil
}

func writeBulk(w io.Writer, b []byte) error {
	if len(b) > bulkMaxSize {
		return fmt.Errorf("control: bulk payload of %d bytes exceeds max %d", len(b), bulkMaxSize)
	}
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, uint32(len(b)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBulk(r io.Reader) ([]byte, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr)
	if n > bulkMaxSize {
		return nil, fmt.Errorf("control: declared bulk length %d exceeds max %d", n, bulkMaxSize)
	}
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	return buf, err
}
