package device

import (
	"sync"
	"time"
)

var _ Speaker = (*NullSpeaker)(nil)

// DefaultNullPeriod is the render period of a [NullSpeaker] when Period is
// unset.
const DefaultNullPeriod = 20 * time.Millisecond

// NullSpeaker pulls audio on a wall-clock ticker and discards it. It drives
// the playback timeline in headless runs without an output device.
type NullSpeaker struct {
	SampleRate int
	Period     time.Duration

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// Start begins calling render once per period.
func (s *NullSpeaker) Start(render func(dst []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.stop != nil {
		return nil
	}

	period := s.Period
	if period <= 0 {
		period = DefaultNullPeriod
	}
	n := max(int(float64(s.SampleRate)*period.Seconds()), 1)

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		t := time.NewTicker(period)
		defer t.Stop()
		buf := make([]float32, n)
		for {
			select {
			case <-t.C:
				render(buf)
			case <-stop:
				return
			}
		}
	}(s.stop, s.done)
	return nil
}

// Close stops rendering and waits for the last render call to return.
func (s *NullSpeaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop, done := s.stop, s.done
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}
