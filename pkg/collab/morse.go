package collab

import (
	"strings"
	"sync"
)

// morseTable maps characters to their dit/dah pattern. It is the standard
// International Morse alphabet; unknown characters are skipped.
var morseTable = map[rune]string{
	'a': ".-", 'b': "-...", 'c': "-.-.", 'd': "-..", 'e': ".",
	'f': "..-.", 'g': "--.", 'h': "....", 'i': "..", 'j': ".---",
	'k': "-.-", 'l': ".-..", 'm': "--", 'n': "-.", 'o': "---",
	'p': ".--.", 'q': "--.-", 'r': ".-.", 's': "...", 't': "-",
	'u': "..-", 'v': "...-", 'w': ".--", 'x': "-..-", 'y': "-.--",
	'z': "--..",
	'0': "-----", '1': ".----", '2': "..---", '3': "...--", '4': "....-",
	'5': ".....", '6': "-....", '7': "--...", '8': "---..", '9': "----.",
}

// TextPaddleReader is a development/demo PaddleReader (§6's "paddle
// reader" collaborator): it has no physical paddle, so it synthesizes
// edges from typed text using standard Morse timing, the way an
// operator's straight key would if driven by a keyboard macro. Real
// deployments supply a PaddleReader backed by the actual hardware; this
// one exists so the client binary is runnable without it.
type TextPaddleReader struct {
	clock Clock
	ditMS uint32

	mu      sync.Mutex
	pending []RawEdge // scheduled, not yet due
	cursor  int
}

// NewTextPaddleReader builds a reader whose dit length is derived from
// wpm using the PARIS convention (dit length ms = 1200 / wpm).
func NewTextPaddleReader(clock Clock, wpm float64) *TextPaddleReader {
	if wpm <= 0 {
		wpm = 20
	}
	return &TextPaddleReader{
		clock: clock,
		ditMS: uint32(1200 / wpm),
	}
}

// Send enqueues text to be keyed starting at the next ReadEdges call.
// Unrecognized characters are skipped (only the inter-character gap before
// them remains); repeated whitespace collapses to a single word space.
func (t *TextPaddleReader) Send(text string) {
	dit := t.ditMS
	dah := dit * 3
	intraSymbol := dit     // gap between dits/dahs within a character
	interChar := dit * 3   // gap between characters
	interWord := dit * 7   // gap between words

	t.mu.Lock()
	defer t.mu.Unlock()

	at := t.clock.NowMS()
	if len(t.pending) > 0 {
		at = t.pending[len(t.pending)-1].AtMS
	}

	firstChar := true
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if !firstChar {
			at += interWord
		}
		for ci, ch := range word {
			if ci > 0 {
				at += interChar
			}
			pattern, ok := morseTable[ch]
			if !ok {
				continue
			}
			for si, sym := range pattern {
				if si > 0 {
					at += intraSymbol
				}
				dur := dit
				if sym == '-' {
					dur = dah
				}
				t.pending = append(t.pending, RawEdge{AtMS: at, Down: true})
				at += dur
				t.pending = append(t.pending, RawEdge{AtMS: at, Down: false})
			}
			firstChar = false
		}
	}
}

// ReadEdges returns edges scheduled at or before now since the previous
// call, implementing collab.PaddleReader.
func (t *TextPaddleReader) ReadEdges() []RawEdge {
	now := t.clock.NowMS()

	t.mu.Lock()
	defer t.mu.Unlock()

	var due []RawEdge
	i := t.cursor
	for ; i < len(t.pending); i++ {
		if int32(t.pending[i].AtMS-now) > 0 {
			break
		}
		due = append(due, t.pending[i])
	}
	t.cursor = i

	// Compact once fully drained so the slice doesn't grow unbounded
	// across a long-running client process.
	if t.cursor == len(t.pending) {
		t.pending = t.pending[:0]
		t.cursor = 0
	}
	return due
}
