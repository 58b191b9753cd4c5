package device

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MrWong99/brainstorm/pkg/audio"
)

var _ Speaker = (*Recorder)(nil)

// recordQueue bounds how many rendered blocks may wait for the file writer.
const recordQueue = 256

// Recorder is a [Speaker] that forwards to an inner speaker and additionally
// writes everything rendered to a mono WAV stream.
//
// File writes happen on a separate goroutine so the device callback never
// blocks on disk. When the writer falls behind, blocks are skipped and a
// warning is logged on Close.
type Recorder struct {
	inner Speaker
	dst   io.WriteSeeker
	wav   *audio.WAVWriter

	blocks  chan []float32
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	skipped int
	werr    error
}

// NewRecorder wraps inner and records at sampleRate into dst. If dst
// implements io.Closer it is closed by [Recorder.Close].
func NewRecorder(inner Speaker, dst io.WriteSeeker, sampleRate int) (*Recorder, error) {
	w, err := audio.NewWAVWriter(dst, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("device: start recording: %w", err)
	}
	r := &Recorder{
		inner:  inner,
		dst:    dst,
		wav:    w,
		blocks: make(chan []float32, recordQueue),
		done:   make(chan struct{}),
	}
	go r.writeLoop()
	return r, nil
}

func (r *Recorder) writeLoop() {
	defer close(r.done)
	for b := range r.blocks {
		if err := r.wav.WriteFloat(b); err != nil {
			r.mu.Lock()
			if r.werr == nil {
				r.werr = err
			}
			r.mu.Unlock()
		}
	}
}

// Start starts the inner speaker with a render function that also records.
func (r *Recorder) Start(render func(dst []float32)) error {
	return r.inner.Start(func(dst []float32) {
		render(dst)
		select {
		case r.blocks <- append([]float32(nil), dst...):
		default:
			r.mu.Lock()
			r.skipped++
			r.mu.Unlock()
		}
	})
}

// Close stops the inner speaker, flushes pending blocks and finalizes the WAV
// header.
func (r *Recorder) Close() error {
	var err error
	r.once.Do(func() {
		// The inner speaker must be stopped first so no render call races
		// the channel close.
		err = r.inner.Close()
		close(r.blocks)
		<-r.done

		r.mu.Lock()
		skipped, werr := r.skipped, r.werr
		r.mu.Unlock()
		if skipped > 0 {
			slog.Warn("device: recorder fell behind, blocks skipped", "skipped", skipped)
		}

		err = errors.Join(err, werr, r.wav.Close())
		if c, ok := r.dst.(io.Closer); ok {
			err = errors.Join(err, c.Close())
		}
	})
	return err
}
