package playback

import (
	"math"
	"sync"

	"github.com/MrWong99/brainstorm/pkg/audio"
)

// Timeline is a software mixer implementing [Output] for mono devices.
//
// Its clock counts rendered sample frames, so it advances only as fast as the
// device consumes audio through [Timeline.Render]. Voices are mixed from
// their start frame; a voice whose start already passed begins at the next
// rendered frame.
type Timeline struct {
	rate int

	mu     sync.Mutex
	frame  int64
	voices []*timelineVoice
	closed bool
}

type timelineVoice struct {
	t     *Timeline
	data  []float32
	start int64
	pos   int
	ended func()
	done  bool
}

// NewTimeline returns a Timeline whose clock runs at rate frames per second.
func NewTimeline(rate int) *Timeline {
	return &Timeline{rate: rate}
}

// SampleRate returns the rate passed to NewTimeline.
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the number of rendered frames in seconds.
func (t *Timeline) Now() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.frame) / float64(t.rate)
}

// Play schedules buf at the given time. Multi-channel buffers are downmixed
// and buffers at a different rate are resampled to the timeline rate. On a
// closed timeline the voice ends immediately.
func (t *Timeline) Play(buf *audio.Buffer, at float64, ended func()) Voice {
	v := &timelineVoice{
		t:     t,
		data:  t.monoSamples(buf),
		start: int64(math.Round(at * float64(t.rate))),
		ended: ended,
	}

	t.mu.Lock()
	if t.closed || len(v.data) == 0 {
		v.done = true
		t.mu.Unlock()
		v.fireEnded()
		return v
	}
	t.voices = append(t.voices, v)
	t.mu.Unlock()
	return v
}

func (t *Timeline) monoSamples(buf *audio.Buffer) []float32 {
	if buf == nil || len(buf.Data) == 0 {
		return nil
	}
	mono := buf.Data[0]
	if len(buf.Data) > 1 {
		mono = make([]float32, buf.Frames())
		for _, ch := range buf.Data {
			for i, s := range ch {
				mono[i] += s / float32(len(buf.Data))
			}
		}
	}
	return audio.Resample(mono, buf.SampleRate, t.rate)
}

// Render mixes the next len(dst) frames into dst and advances the clock.
// Ended callbacks of voices that finished in this block run after the mix.
func (t *Timeline) Render(dst []float32) {
	clear(dst)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	blockStart := t.frame
	blockEnd := blockStart + int64(len(dst))

	var finished []*timelineVoice
	kept := t.voices[:0]
	for _, v := range t.voices {
		if v.start >= blockEnd {
			kept = append(kept, v)
			continue
		}
		offset := 0
		if v.pos == 0 && v.start > blockStart {
			offset = int(v.start - blockStart)
		}
		n := min(len(dst)-offset, len(v.data)-v.pos)
		for i, s := range v.data[v.pos : v.pos+n] {
			dst[offset+i] += s
		}
		v.pos += n
		if v.pos >= len(v.data) {
			v.done = true
			finished = append(finished, v)
			continue
		}
		kept = append(kept, v)
	}
	// Zero the tail so finished voices are not retained by the backing array.
	clear(t.voices[len(kept):])
	t.voices = kept
	t.frame = blockEnd
	t.mu.Unlock()

	for i, s := range dst {
		dst[i] = max(-1, min(1, s))
	}

	for _, v := range finished {
		v.fireEnded()
	}
}

// Close stops every voice. Later Render calls produce silence and later Play
// calls end immediately.
func (t *Timeline) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	voices := t.voices
	t.voices = nil
	for _, v := range voices {
		v.done = true
	}
	t.mu.Unlock()

	for _, v := range voices {
		v.fireEnded()
	}
	return nil
}

// Stop removes the voice from the timeline and fires its ended callback.
func (v *timelineVoice) Stop() {
	t := v.t
	t.mu.Lock()
	if v.done {
		t.mu.Unlock()
		return
	}
	v.done = true
	for i, other := range t.voices {
		if other == v {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	v.fireEnded()
}

func (v *timelineVoice) fireEnded() {
	if v.ended != nil {
		v.ended()
	}
}
