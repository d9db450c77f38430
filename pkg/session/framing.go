// Package session implements C2: an authenticated, reliable, low-latency
// datagram session on top of a KCP-family reliable-UDP transport
// (github.com/xtaci/kcp-go), multiplexed with github.com/xtaci/smux into
// a keying stream and a control stream.
package session

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxMessageSize bounds a single framed message; keying frames are at
// most wire.HeaderLen+wire.MaxEdges bytes, control messages are small,
// so 4 KiB comfortably covers both with headroom.
const maxMessageSize = 4096

// writeFramed writes b as a single length-prefixed message: a uint16
// big-endian length followed by the payload. This gives the transport's
// "send a whole message" primitive (§4.2) over a byte-oriented smux
// stream.
func writeFramed(w io.Writer, b []byte) error {
	if len(b) > maxMessageSize {
		return fmt.Errorf("session: message of %d bytes exceeds max %d", len(b), maxMessageSize)
	}
	hdr := make([]byte, 2)
	binary.BigEndian.PutUint16(hdr, uint16(len(b)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readFramed reads one length-prefixed message, blocking until it is
// fully received or the stream's read deadline (set by the caller)
// expires.
func readFramed(r io.Reader) ([]byte, error) {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr)
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
