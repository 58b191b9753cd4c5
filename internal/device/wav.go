package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/brainstorm/pkg/audio"
)

var _ Microphone = (*WAVMicrophone)(nil)

// DefaultWAVBlock is the number of samples a [WAVMicrophone] delivers per
// block when Block is unset: 100 ms at 16 kHz.
const DefaultWAVBlock = 1600

// WAVMicrophone replays a 16-bit PCM WAV file as if it were spoken into a
// microphone. The file is downmixed to mono and resampled to SampleRate.
//
// After the file is exhausted the microphone keeps delivering silence until
// it is closed, so that server-side voice activity detection sees the end of
// the utterance.
type WAVMicrophone struct {
	// Path of the WAV file.
	Path string

	// SampleRate of the delivered samples.
	SampleRate int

	// Block is the number of samples per delivered block.
	Block int

	// Realtime paces blocks at the rate they would be spoken. When false,
	// blocks are delivered as fast as the consumer accepts them.
	Realtime bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// Start loads the file and begins delivering blocks.
func (m *WAVMicrophone) Start(ctx context.Context) (<-chan []float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.done != nil {
		return nil, fmt.Errorf("device: wav microphone already started")
	}

	samples, err := m.load()
	if err != nil {
		return nil, err
	}

	block := m.Block
	if block <= 0 {
		block = DefaultWAVBlock
	}
	interval := time.Duration(float64(block) / float64(m.SampleRate) * float64(time.Second))

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan []float32)
	m.cancel = cancel
	m.done = make(chan struct{})

	slog.Info("device: replaying wav", "path", m.Path, "samples", len(samples), "realtime", m.Realtime)

	go func() {
		defer close(m.done)
		defer close(out)

		var tick <-chan time.Time
		if m.Realtime {
			t := time.NewTicker(interval)
			defer t.Stop()
			tick = t.C
		}

		for pos := 0; ; pos += block {
			next := make([]float32, block)
			if pos < len(samples) {
				copy(next, samples[pos:])
			}
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- next:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *WAVMicrophone) load() ([]float32, error) {
	if m.SampleRate <= 0 {
		return nil, fmt.Errorf("device: wav microphone sample rate must be positive, got %d", m.SampleRate)
	}
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("device: open wav: %w", err)
	}
	defer f.Close()

	wav, err := audio.ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("device: read %s: %w", m.Path, err)
	}
	mono := audio.Downmix(audio.PCM16ToFloat(wav.Samples), wav.Channels)
	return audio.Resample(mono, wav.SampleRate, m.SampleRate), nil
}

// Close stops delivery and waits for the producer goroutine to exit.
func (m *WAVMicrophone) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
