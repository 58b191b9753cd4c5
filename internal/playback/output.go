// Package playback turns independently arriving model audio fragments into a
// gapless output stream.
//
// A [Scheduler] owns the playback clock and the set of active voices for one
// session. It places every fragment at max(clock, now) on an [Output] and
// advances the clock by the fragment's duration, so fragments neither overlap
// nor start in the past. [Scheduler.Interrupt] cuts all voices off at once for
// barge-in.
//
// [Timeline] is the software [Output] used with real devices: a sample clock
// that only advances when the speaker callback pulls audio through
// [Timeline.Render].
package playback

import "github.com/MrWong99/brainstorm/pkg/audio"

// Voice is one scheduled fragment on an [Output].
type Voice interface {
	// Stop cuts the voice off immediately. Stopping a finished voice is a
	// no-op.
	Stop()
}

// Output is an audio output with its own clock.
//
// Implementations must be safe for concurrent use and must not hold internal
// locks while invoking ended callbacks.
type Output interface {
	// Now returns the current output clock in seconds.
	Now() float64

	// Play schedules buf to start at the given output time. ended is called
	// exactly once when the voice finished playing or was stopped; it may be
	// called from any goroutine, including before Play returns.
	Play(buf *audio.Buffer, at float64, ended func()) Voice
}
