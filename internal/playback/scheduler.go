package playback

import (
	"context"
	"sync"

	"github.com/MrWong99/brainstorm/internal/observe"
	"github.com/MrWong99/brainstorm/pkg/audio"
)

// Slot is the output time range a fragment was scheduled into.
type Slot struct {
	Start float64
	End   float64
}

// Scheduler places fragments back to back on an [Output] and tracks the
// voices that have not finished yet.
//
// Ended callbacks arrive from the output's goroutine, so all state is guarded
// by a mutex. Output methods are never called while the mutex is held except
// for [Output.Now].
type Scheduler struct {
	out     Output
	metrics *observe.Metrics

	mu     sync.Mutex
	clock  float64
	active map[uint64]Voice // nil value: Play still in progress
	nextID uint64
	epoch  uint64 // bumped whenever the active set is cleared
}

// NewScheduler returns a Scheduler for out. A nil m records to
// [observe.DefaultMetrics].
func NewScheduler(out Output, m *observe.Metrics) *Scheduler {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Scheduler{
		out:     out,
		metrics: m,
		active:  make(map[uint64]Voice),
	}
}

// Schedule starts buf at max(clock, now) and advances the clock to the end of
// the fragment.
func (s *Scheduler) Schedule(buf *audio.Buffer) Slot {
	ctx := context.Background()

	s.mu.Lock()
	now := s.out.Now()
	start := max(s.clock, now)
	slot := Slot{Start: start, End: start + buf.Duration()}
	s.clock = slot.End
	s.nextID++
	id := s.nextID
	epoch := s.epoch
	s.active[id] = nil
	s.mu.Unlock()

	s.metrics.ActiveVoices.Add(ctx, 1)
	s.metrics.PlaybackLead.Record(ctx, start-now)
	s.metrics.RecordFragment(ctx, "scheduled")

	v := s.out.Play(buf, start, func() { s.ended(id) })

	s.mu.Lock()
	if _, pending := s.active[id]; pending {
		s.active[id] = v
		s.mu.Unlock()
		return slot
	}
	cleared := s.epoch != epoch
	s.mu.Unlock()

	// The active set was cleared while Play ran; the voice must not outlive
	// the interruption.
	if cleared {
		v.Stop()
	}
	return slot
}

// ended removes a finished voice. Voices already removed by Interrupt or Reset
// are ignored.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	_, ok := s.active[id]
	delete(s.active, id)
	s.mu.Unlock()

	if ok {
		s.metrics.ActiveVoices.Add(context.Background(), -1)
	}
}

// Interrupt stops every active voice, clears the active set and resets the
// clock to zero. It returns the number of voices stopped and is a no-op apart
// from the clock reset when nothing is playing.
func (s *Scheduler) Interrupt() int {
	n := s.clear()
	s.metrics.RecordInterruption(context.Background(), n)
	return n
}

// Reset performs the same teardown as Interrupt at the end of a session
// without counting an interruption.
func (s *Scheduler) Reset() {
	s.clear()
}

func (s *Scheduler) clear() int {
	s.mu.Lock()
	voices := make([]Voice, 0, len(s.active))
	for _, v := range s.active {
		if v != nil {
			voices = append(voices, v)
		}
	}
	removed := len(s.active)
	clear(s.active)
	s.clock = 0
	s.epoch++
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if removed > 0 {
		s.metrics.ActiveVoices.Add(context.Background(), -int64(removed))
	}
	return len(voices)
}

// Clock returns the output time at which the next fragment would start if
// the output clock has not passed it.
func (s *Scheduler) Clock() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Active returns the number of scheduled voices that have not ended.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
