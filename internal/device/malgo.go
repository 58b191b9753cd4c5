package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/brainstorm/internal/observe"
)

// Compile-time assertions.
var (
	_ Microphone = (*MalgoMicrophone)(nil)
	_ Speaker    = (*MalgoSpeaker)(nil)
)

// captureQueue is the number of device blocks buffered between the capture
// callback and the consumer.
const captureQueue = 64

// initContext allocates a miniaudio context with the default backends.
func initContext() (*malgo.AllocatedContext, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("device: miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}
	return mctx, nil
}

func freeContext(mctx *malgo.AllocatedContext) {
	if err := mctx.Uninit(); err != nil {
		slog.Warn("device: audio context uninit failed", "err", err)
	}
	mctx.Free()
}

// MalgoMicrophone captures mono float32 audio from the default input device.
type MalgoMicrophone struct {
	sampleRate int
	metrics    *observe.Metrics
	overruns   atomic.Int64

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	out    chan []float32
	closed bool
}

// NewMalgoMicrophone returns a microphone capturing at sampleRate. Blocks lost
// because the consumer fell behind are recorded in m as dropped frames with
// reason "overrun"; nil m means observe.DefaultMetrics.
func NewMalgoMicrophone(sampleRate int, m *observe.Metrics) *MalgoMicrophone {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &MalgoMicrophone{sampleRate: sampleRate, metrics: m}
}

// Overruns returns the number of captured blocks dropped because the
// consumer was not keeping up.
func (m *MalgoMicrophone) Overruns() int64 {
	return m.overruns.Load()
}

// deliver hands block to the consumer without blocking the audio thread.
func (m *MalgoMicrophone) deliver(out chan<- []float32, block []float32) {
	select {
	case out <- block:
	default:
		n := m.overruns.Add(1)
		m.metrics.RecordFramesDropped(context.Background(), "overrun", 1)
		slog.Debug("device: capture overrun, dropped block", "overruns", n)
	}
}

// Start opens and starts the default capture device.
func (m *MalgoMicrophone) Start(ctx context.Context) (<-chan []float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.device != nil {
		return nil, fmt.Errorf("device: microphone already started")
	}

	mctx, err := initContext()
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.sampleRate)
	cfg.Alsa.NoMMap = 1

	out := make(chan []float32, captureQueue)
	onRecv := func(_, input []byte, frameCount uint32) {
		if frameCount == 0 {
			return
		}
		block := make([]float32, frameCount)
		for i := range block {
			block[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
		}
		m.deliver(out, block)
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		freeContext(mctx)
		return nil, fmt.Errorf("device: open microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(mctx)
		return nil, fmt.Errorf("device: start microphone: %w", err)
	}

	m.mctx = mctx
	m.device = device
	m.out = out
	slog.Info("device: microphone started", "sample_rate", m.sampleRate)

	go func() {
		<-ctx.Done()
		_ = m.Close()
	}()
	return out, nil
}

// Close stops the capture device and closes the sample channel.
func (m *MalgoMicrophone) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	device, mctx, out := m.device, m.mctx, m.out
	m.device, m.mctx = nil, nil
	m.mu.Unlock()

	if device != nil {
		// Uninit returns after the last callback, so closing out is safe.
		device.Uninit()
	}
	if mctx != nil {
		freeContext(mctx)
	}
	if out != nil {
		close(out)
	}
	return nil
}

// MalgoSpeaker plays mono float32 audio on the default output device.
type MalgoSpeaker struct {
	sampleRate int

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	closed bool
}

// NewMalgoSpeaker returns a speaker playing at sampleRate.
func NewMalgoSpeaker(sampleRate int) *MalgoSpeaker {
	return &MalgoSpeaker{sampleRate: sampleRate}
}

// Start opens the default playback device and begins pulling audio from
// render.
func (s *MalgoSpeaker) Start(render func(dst []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.device != nil {
		return fmt.Errorf("device: speaker already started")
	}

	mctx, err := initContext()
	if err != nil {
		return err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(s.sampleRate)
	cfg.Alsa.NoMMap = 1

	// The callback runs on a single device thread, so the scratch buffer
	// needs no locking.
	var scratch []float32
	onSend := func(output, _ []byte, frameCount uint32) {
		if cap(scratch) < int(frameCount) {
			scratch = make([]float32, frameCount)
		}
		buf := scratch[:frameCount]
		render(buf)
		for i, v := range buf {
			binary.LittleEndian.PutUint32(output[i*4:], math.Float32bits(v))
		}
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onSend})
	if err != nil {
		freeContext(mctx)
		return fmt.Errorf("device: open speaker: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(mctx)
		return fmt.Errorf("device: start speaker: %w", err)
	}

	s.mctx = mctx
	s.device = device
	slog.Info("device: speaker started", "sample_rate", s.sampleRate)
	return nil
}

// Close stops playback and releases the device.
func (s *MalgoSpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.mctx != nil {
		freeContext(s.mctx)
		s.mctx = nil
	}
	return nil
}
