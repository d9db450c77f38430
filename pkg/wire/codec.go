package wire

import (
	"encoding/binary"
	"fmt"
)

// ErrShortFrame is returned when a buffer is too small to contain even the
// fixed header.
var ErrShortFrame = fmt.Errorf("wire: frame shorter than header (%d bytes)", HeaderLen)

// ErrLengthMismatch is returned when the buffer length does not match the
// edge count declared in the header.
type ErrLengthMismatch struct {
	Declared int
	Got      int
}

func (e *ErrLengthMismatch) Error() string {
	return fmt.Sprintf("wire: frame declares %d bytes, got %d", e.Declared, e.Got)
}

// Encode serialises a Frame into its wire representation.
//
// Encode does not itself split oversized edge lists; callers needing the
// encoder contract's automatic splitting should use EncodeEdges, which
// batches an absolute-time edge list into one or more frames respecting
// the 128-edge / 127ms-offset limits.
func Encode(f Frame) ([]byte, error) {
	if len(f.Edges) > MaxEdges {
		return nil, fmt.Errorf("wire: %d edges exceeds max %d", len(f.Edges), MaxEdges)
	}
	buf := make([]byte, f.Len())
	buf[0] = byte(f.Command)
	binary.BigEndian.PutUint32(buf[1:5], f.SendTime)
	buf[5] = byte(len(f.Edges))
	for i, e := range f.Edges {
		if e.OffsetMS > MaxOffsetMS {
			return nil, fmt.Errorf("wire: edge %d offset %d exceeds max %d", i, e.OffsetMS, MaxOffsetMS)
		}
		buf[HeaderLen+i] = e.byte()
	}
	return buf, nil
}

// Decode parses a wire buffer into a Frame. It rejects frames shorter than
// the header and frames whose declared edge count does not match the
// supplied buffer length, per §4.3's decoding contract.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < HeaderLen {
		return Frame{}, ErrShortFrame
	}
	edgeCount := int(buf[5])
	if HeaderLen+edgeCount != len(buf) {
		return Frame{}, &ErrLengthMismatch{Declared: HeaderLen + edgeCount, Got: len(buf)}
	}
	f := Frame{
		Command:  Command(buf[0]),
		SendTime: binary.BigEndian.Uint32(buf[1:5]),
		Edges:    make([]Edge, edgeCount),
	}
	for i := 0; i < edgeCount; i++ {
		f.Edges[i] = edgeFromByte(buf[HeaderLen+i])
	}
	return f, nil
}

// EncodeEdges implements the encoding contract of §4.3 in full: given a
// reference command, a base time T and an ordered list of absolute-time
// edges, it produces one or more frames such that no frame exceeds
// MaxEdges edges and no edge's offset from its own frame's SendTime
// exceeds MaxOffsetMS. The edge list MUST already be ordered by At
// (non-decreasing); EncodeEdges does not sort.
//
// An empty edge list yields a single sync frame carrying only T.
func EncodeEdges(cmd Command, t uint32, edges []AbsEdge) ([]Frame, error) {
	if len(edges) == 0 {
		return []Frame{{Command: cmd, SendTime: t}}, nil
	}

	var frames []Frame
	frameBase := t
	var cur []Edge

	flush := func() {
		if len(cur) > 0 {
			frames = append(frames, Frame{Command: cmd, SendTime: frameBase, Edges: cur})
		}
		cur = nil
	}

	for _, e := range edges {
		off := diffMS(e.At, frameBase)
		if off < 0 {
			return nil, fmt.Errorf("wire: edge at %d precedes frame base %d", e.At, frameBase)
		}
		if off > MaxOffsetMS || len(cur) >= MaxEdges {
			flush()
			frameBase = e.At
			off = 0
		}
		cur = append(cur, Edge{Dir: e.Dir, OffsetMS: uint8(off)})
	}
	flush()
	return frames, nil
}

// diffMS computes b-relative-to-a signed millisecond difference, windowed
// modulo 2^32 per §9's wraparound guidance so a 32-bit timestamp rollover
// does not appear as a huge negative offset.
func diffMS(b, a uint32) int64 {
	d := int64(int32(b - a))
	return d
}

// DecodeAbsolute reconstructs the absolute-time edge list carried by a
// frame: T + offset for each edge, in order.
func DecodeAbsolute(f Frame) []AbsEdge {
	out := make([]AbsEdge, len(f.Edges))
	for i, e := range f.Edges {
		out[i] = AbsEdge{Dir: e.Dir, At: f.SendTime + uint32(e.OffsetMS)}
	}
	return out
}
