// Package live defines the Provider interface for realtime speech sessions.
//
// A live provider wraps a generative speech model that accepts a continuous
// stream of microphone audio and answers with streamed audio fragments,
// incremental transcriptions of both sides, and barge-in notifications. All of
// this travels over one long-lived bidirectional session.
//
// The remote stream is surfaced as a single ordered channel of [Event] values
// instead of callbacks. Exactly one goroutine inside the provider writes to the
// channel, so a consumer ranging over [Session.Events] observes events in wire
// order and handles each one to completion before seeing the next.
package live

import (
	"context"
	"errors"

	"github.com/MrWong99/brainstorm/pkg/audio"
)

// ErrSessionClosed is returned by [Session.SendAudio] after the session has
// been closed locally or by the remote side.
var ErrSessionClosed = errors.New("live: session closed")

// EventKind discriminates the payload of an [Event].
type EventKind int

const (
	// EventOpen signals that the remote session accepted the setup and is
	// ready for audio.
	EventOpen EventKind = iota + 1

	// EventAudio carries one fragment of raw 16-bit little-endian PCM in
	// Event.Audio.
	EventAudio

	// EventInputTranscript carries a fragment of the user's recognised speech
	// in Event.Text.
	EventInputTranscript

	// EventOutputTranscript carries a fragment of the model's speech as text
	// in Event.Text.
	EventOutputTranscript

	// EventInterrupted signals that the user started speaking over the model
	// and any buffered model audio must be discarded.
	EventInterrupted

	// EventTurnComplete signals that the model finished its current turn.
	EventTurnComplete

	// EventError carries a fatal session error in Event.Err. It is always the
	// last event before the channel closes.
	EventError

	// EventClose signals an orderly end of the session. It is always the last
	// event before the channel closes.
	EventClose
)

// String returns a short lower-case name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventAudio:
		return "audio"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	}
	return "unknown"
}

// Event is one message received from a live session.
type Event struct {
	Kind EventKind

	// Audio is set for EventAudio. Sample rate and channel count are given by
	// the provider's output format (24 kHz mono for the bundled providers).
	Audio []byte

	// Text is set for EventInputTranscript and EventOutputTranscript.
	Text string

	// Err is set for EventError.
	Err error
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Instructions is the system prompt for the model.
	Instructions string

	// Voice selects a prebuilt voice by provider-specific name. Empty keeps
	// the provider default.
	Voice string

	// InputTranscription asks the provider to transcribe the user's speech.
	InputTranscription bool

	// OutputTranscription asks the provider to transcribe the model's speech.
	OutputTranscription bool
}

// Session represents an open live session. All methods must be safe for
// concurrent use.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// Events returns the ordered event stream. The channel is closed after a
	// final EventClose or EventError has been delivered, or after Close.
	Events() <-chan Event

	// SendAudio forwards one captured audio chunk. Returns ErrSessionClosed
	// once the session has ended.
	SendAudio(blob audio.Blob) error

	// Close terminates the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider opens live sessions against one backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect dials the backend and sends the session setup. It returns as
	// soon as the transport is established; readiness is reported later by an
	// EventOpen on the session's event stream.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Name returns the registry name of the provider (e.g. "gemini-live").
	Name() string
}
