// Package transcript keeps the running conversation text of a live session.
//
// Speech recognition arrives as many small fragments. [Log] coalesces them
// into turns: a fragment from the speaker of the last turn is appended to
// that turn, a fragment from the other speaker opens a new one. Fragments are
// never reordered, deduplicated or merged into an earlier turn.
package transcript

import (
	"strings"
	"sync"
)

// Speaker identifies who produced a fragment.
type Speaker string

const (
	// SpeakerUser is the person talking into the microphone.
	SpeakerUser Speaker = "user"
	// SpeakerModel is the generative model.
	SpeakerModel Speaker = "model"
)

// Label returns the display label used by the UI and the headless summary.
func (s Speaker) Label() string {
	switch s {
	case SpeakerUser:
		return "Você"
	case SpeakerModel:
		return "IA"
	}
	return string(s)
}

// Turn is one contiguous block of speech by a single speaker.
type Turn struct {
	Speaker Speaker
	Text    string
}

// Log is an ordered, coalescing list of turns. It is safe for concurrent use:
// the session goroutine appends while the UI reads snapshots.
type Log struct {
	mu    sync.RWMutex
	turns []Turn
	// last holds the text of the last turn as a builder so long turns grow
	// without quadratic copying.
	last strings.Builder
}

// Add appends a fragment. It reports whether a new turn was opened. Empty
// fragments are ignored.
func (l *Log) Add(speaker Speaker, text string) bool {
	if text == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.turns); n > 0 && l.turns[n-1].Speaker == speaker {
		l.last.WriteString(text)
		l.turns[n-1].Text = l.last.String()
		return false
	}
	l.last.Reset()
	l.last.WriteString(text)
	l.turns = append(l.turns, Turn{Speaker: speaker, Text: text})
	return true
}

// Turns returns a copy of all turns in order.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Reset drops all turns.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = nil
	l.last.Reset()
}

// String renders the log as "Label: text" lines.
func (l *Log) String() string {
	var b strings.Builder
	for _, t := range l.Turns() {
		b.WriteString(t.Speaker.Label())
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
