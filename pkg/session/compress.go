package session

import (
	"net"
	"time"

	"github.com/golang/snappy"
)

// compStream wraps a stream (here, a bulk stream from OpenBulkStream or
// AcceptBulkStream) with snappy framing, mirroring the teacher's
// CompStream wrapper. It exists for large payloads such as a bulk
// event-log export; the keying and control streams are never wrapped
// since its frames are a few bytes and compression would only add
// latency for no size benefit (§1's "well under 100 ms" target).
type compStream struct {
	net.Conn
	w *snappy.Writer
	r *snappy.Reader
}

// newCompStream wraps conn with snappy compression in both directions.
func newCompStream(conn net.Conn) *compStream {
	return &compStream{
		Conn: conn,
		w:    snappy.NewBufferedWriter(conn),
		r:    snappy.NewReader(conn),
	}
}

func (c *compStream) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *compStream) Write(p []byte) (int, error) {
	if _, err := c.w.Write(p); err != nil {
		return 0, err
	}
	if err := c.w.Flush(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *compStream) SetDeadline(t time.Time) error      { return c.Conn.SetDeadline(t) }
func (c *compStream) SetReadDeadline(t time.Time) error  { return c.Conn.SetReadDeadline(t) }
func (c *compStream) SetWriteDeadline(t time.Time) error { return c.Conn.SetWriteDeadline(t) }
