package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/brainstorm/internal/observe"
	"github.com/MrWong99/brainstorm/pkg/audio"
)

// Sender delivers encoded audio to a remote session. live.Session satisfies
// it.
type Sender interface {
	SendAudio(blob audio.Blob) error
}

// Policy decides what happens to frames captured while no session is open.
type Policy string

const (
	// PolicyDrop discards such frames. Every discarded frame is counted in
	// [Stats.Dropped], in metrics and in the debug log.
	PolicyDrop Policy = "drop"

	// PolicyBuffer keeps up to MaxPending such frames and sends them in
	// capture order once a session opens. When the buffer is full the oldest
	// frame is dropped and counted.
	PolicyBuffer Policy = "buffer"
)

// DefaultMaxPending bounds the frames kept by [PolicyBuffer]: 16 frames of
// 4096 samples are about four seconds of 16 kHz speech.
const DefaultMaxPending = 16

// ParsePolicy validates a policy name. The empty string yields [PolicyDrop].
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyDrop:
		return PolicyDrop, nil
	case PolicyBuffer:
		return PolicyBuffer, nil
	}
	return "", fmt.Errorf("capture: unknown policy %q (want %q or %q)", s, PolicyDrop, PolicyBuffer)
}

// Stats are running counters of a [Pump].
type Stats struct {
	// Sent counts frames accepted by a Sender.
	Sent int64
	// Dropped counts frames that never reached a Sender.
	Dropped int64
	// Pending is the number of frames currently held by PolicyBuffer.
	Pending int
	// SendErrors counts frames a Sender rejected. They are included in
	// Dropped.
	SendErrors int64
}

// Config configures a [Pump].
type Config struct {
	// Policy applies to frames written while no Sender is open.
	Policy Policy

	// MaxPending is the PolicyBuffer capacity. Zero means DefaultMaxPending.
	MaxPending int

	// SampleRate is the rate announced in each blob's MIME type. Zero means
	// audio.InputSampleRate.
	SampleRate int

	// Metrics records sent and dropped frames. Nil means
	// observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Pump encodes frames and forwards them to the open Sender. All methods are
// safe for concurrent use; frames are sent in the order they were written.
// A Pump serves one session: once closed it drops every frame written to it.
//
// The mutex is held while sending, so a Sender whose SendAudio blocks must be
// unblocked (closed) before calling [Pump.Close] from another goroutine.
type Pump struct {
	policy     Policy
	maxPending int
	rate       int
	metrics    *observe.Metrics

	mu      sync.Mutex
	sender  Sender
	closed  bool
	pending [][]float32
	stats   Stats
}

// NewPump returns a Pump that is not yet open.
func NewPump(cfg Config) *Pump {
	if cfg.Policy == "" {
		cfg.Policy = PolicyDrop
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.InputSampleRate
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Pump{
		policy:     cfg.Policy,
		maxPending: cfg.MaxPending,
		rate:       cfg.SampleRate,
		metrics:    cfg.Metrics,
	}
}

// Open starts forwarding to s. Frames held by PolicyBuffer are sent first, in
// capture order. Open after Close does nothing.
func (p *Pump) Open(ctx context.Context, s Sender) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.sender = s
	pending := p.pending
	p.pending = nil
	if len(pending) > 0 {
		slog.Debug("capture: flushing buffered frames", "frames", len(pending))
	}
	for _, frame := range pending {
		_ = p.sendLocked(ctx, frame)
	}
}

// Close stops forwarding for good. Buffered frames are discarded and counted
// as dropped.
func (p *Pump) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.sender = nil
	if n := len(p.pending); n > 0 {
		p.stats.Dropped += int64(n)
		p.metrics.RecordFramesDropped(context.Background(), "closed", n)
		p.pending = nil
	}
}

// Write sends one frame, or applies the policy when no Sender is open. Frames
// written after Close or after ctx is done are dropped. An error is returned
// when the open Sender rejected the frame or ctx is done.
func (p *Pump) Write(ctx context.Context, frame []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		p.stats.Dropped++
		p.metrics.RecordFramesDropped(context.Background(), "cancelled", 1)
		return err
	}
	if p.closed {
		p.stats.Dropped++
		p.metrics.RecordFramesDropped(ctx, "closed", 1)
		return nil
	}
	if p.sender != nil {
		return p.sendLocked(ctx, frame)
	}

	switch p.policy {
	case PolicyBuffer:
		if len(p.pending) >= p.maxPending {
			p.pending = p.pending[1:]
			p.stats.Dropped++
			p.metrics.RecordFramesDropped(ctx, "overflow", 1)
			slog.Debug("capture: pending buffer full, dropped oldest frame", "dropped_total", p.stats.Dropped)
		}
		p.pending = append(p.pending, frame)
	default:
		p.stats.Dropped++
		p.metrics.RecordFramesDropped(ctx, "not_open", 1)
		slog.Debug("capture: session not open, dropped frame", "dropped_total", p.stats.Dropped)
	}
	return nil
}

func (p *Pump) sendLocked(ctx context.Context, frame []float32) error {
	if err := p.sender.SendAudio(audio.NewPCMBlob(frame, p.rate)); err != nil {
		p.stats.Dropped++
		p.stats.SendErrors++
		p.metrics.RecordFramesDropped(ctx, "send_error", 1)
		return fmt.Errorf("capture: send frame: %w", err)
	}
	p.stats.Sent++
	p.metrics.RecordFrameSent(ctx)
	return nil
}

// Run frames raw microphone blocks from in with f and writes every complete
// frame until in is closed or ctx is cancelled. Send errors are logged once
// per streak and do not stop the loop; the session decides when capture ends.
func (p *Pump) Run(ctx context.Context, in <-chan []float32, f *Framer) error {
	failing := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-in:
			if !ok {
				return nil
			}
			for _, frame := range f.Push(block) {
				err := p.Write(ctx, frame)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				switch {
				case err != nil && !failing:
					slog.Warn("capture: sending frames failed", "err", err)
					failing = true
				case err == nil:
					failing = false
				}
			}
		}
	}
}

// Stats returns a snapshot of the counters.
func (p *Pump) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stats
	st.Pending = len(p.pending)
	return st
}
