// Package brainstorm runs a realtime voice brainstorm: it captures the
// microphone, streams it to a live provider, plays the model's answers back
// gaplessly and keeps a coalesced transcript of both sides.
//
// A [Session] follows the lifecycle
//
//	disconnected → connecting → connected → (error | disconnected)
//
// Start is user-initiated and there is no automatic reconnect: after an error
// the user starts a new session.
package brainstorm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/brainstorm/internal/capture"
	"github.com/MrWong99/brainstorm/internal/device"
	"github.com/MrWong99/brainstorm/internal/observe"
	"github.com/MrWong99/brainstorm/internal/playback"
	"github.com/MrWong99/brainstorm/internal/transcript"
	"github.com/MrWong99/brainstorm/pkg/audio"
	"github.com/MrWong99/brainstorm/pkg/live"
)

// ErrActive is returned by [Session.Start] while a session is connecting or
// connected.
var ErrActive = errors.New("brainstorm: session already active")

// errStopped is returned by Start when Stop raced the startup.
var errStopped = errors.New("brainstorm: session stopped during start")

// State is the lifecycle state of a [Session].
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config holds the dependencies of a [Session].
type Config struct {
	// Provider opens the remote live session. Required.
	Provider live.Provider

	// Live is sent with every Connect.
	Live live.SessionConfig

	// Microphone returns a fresh microphone for each Start. Required.
	Microphone func() (device.Microphone, error)

	// Output plays scheduled model audio. Required.
	Output playback.Output

	// OutputSampleRate is the rate of the provider's audio fragments. Zero
	// means audio.OutputSampleRate.
	OutputSampleRate int

	// Policy applies to frames captured before the session opens.
	Policy capture.Policy

	// FrameSize is the number of samples per capture frame. Zero means
	// capture.DefaultFrameSize.
	FrameSize int

	// MaxPending bounds PolicyBuffer. Zero means capture.DefaultMaxPending.
	MaxPending int

	// Metrics receives instrumentation. Nil means observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Snapshot is a consistent view of a session for display.
type Snapshot struct {
	ID     string
	State  State
	Turns  []transcript.Turn
	Clock  float64
	Active int
	// Stats counts the frames of the current or most recent run.
	Stats capture.Stats
	Err   error
}

// Session is a restartable voice brainstorm. All exported methods are safe
// for concurrent use.
type Session struct {
	cfg     Config
	metrics *observe.Metrics
	sched   *playback.Scheduler
	log     transcript.Log
	updates chan struct{}

	mu      sync.Mutex
	state   State
	id      string
	err     error
	cur     *run
	liveCfg live.SessionConfig
	// pump belongs to the latest run; it is kept after the run ends so its
	// counters stay visible in snapshots.
	pump *capture.Pump
}

// run holds the resources of one Start..teardown cycle.
type run struct {
	id      string
	started time.Time
	cancel  context.CancelFunc
	span    trace.Span
	logger  *slog.Logger

	// mu serialises event handling against teardown.
	pump *capture.Pump

	// done is closed once every goroutine of the run has returned.
	done     chan struct{}
	doneOnce sync.Once

	// mu serialises event handling against teardown.
	mu     sync.Mutex
	closed bool
	mic    device.Microphone
	live   live.Session
}

func (r *run) release() {
	r.doneOnce.Do(func() { close(r.done) })
}

// New validates cfg and returns a disconnected session.
func New(cfg Config) (*Session, error) {
	var errs []error
	if cfg.Provider == nil {
		errs = append(errs, errors.New("brainstorm: provider is required"))
	}
	if cfg.Microphone == nil {
		errs = append(errs, errors.New("brainstorm: microphone is required"))
	}
	if cfg.Output == nil {
		errs = append(errs, errors.New("brainstorm: output is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = audio.OutputSampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = capture.DefaultFrameSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Session{
		cfg:     cfg,
		metrics: cfg.Metrics,
		sched:   playback.NewScheduler(cfg.Output, cfg.Metrics),
		updates: make(chan struct{}, 1),
		liveCfg: cfg.Live,
	}
	s.pump = s.newPump()
	return s, nil
}

// newPump returns the capture pump of one run. Frames never outlive the run
// that captured them.
func (s *Session) newPump() *capture.Pump {
	return capture.NewPump(capture.Config{
		Policy:     s.cfg.Policy,
		MaxPending: s.cfg.MaxPending,
		SampleRate: audio.InputSampleRate,
		Metrics:    s.cfg.Metrics,
	})
}

// SetLiveConfig replaces the config sent to the provider. A running session
// keeps the config it connected with; the next Start uses cfg.
func (s *Session) SetLiveConfig(cfg live.SessionConfig) {
	s.mu.Lock()
	s.liveCfg = cfg
	s.mu.Unlock()
}

// Start acquires the microphone and connects to the provider. It returns once
// the transport is up; the session becomes connected when the provider
// reports it open. Start is allowed only while disconnected or in error.
//
// Microphone and connect failures leave the session in [StateError] and are
// returned. The session lives until [Session.Stop], a remote close or error,
// or cancellation of ctx. Start waits for the goroutines of the previous run
// to exit before it opens the microphone.
func (s *Session) Start(ctx context.Context) error {
	provider := s.cfg.Provider.Name()

	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return ErrActive
	}
	prev := s.cur
	s.mu.Unlock()
	if prev != nil {
		<-prev.done
	}

	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return ErrActive
	}
	// The run is complete before it is published so a concurrent Stop can
	// tear it down at any point.
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	runCtx, span := observe.StartSessionSpan(runCtx, id, provider)
	r := &run{
		id:      id,
		started: time.Now(),
		cancel:  cancel,
		span:    span,
		logger:  observe.Logger(runCtx).With("session_id", id, "provider", provider),
		pump:    s.newPump(),
		done:    make(chan struct{}),
	}
	s.metrics.ActiveSessions.Add(runCtx, 1)
	s.cur = r
	s.pump = r.pump
	s.id = id
	s.state = StateConnecting
	s.err = nil
	liveCfg := s.liveCfg
	s.mu.Unlock()
	s.notify()

	r.logger.Info("brainstorm: session starting")

	mic, err := s.cfg.Microphone()
	var samples <-chan []float32
	if err == nil {
		samples, err = mic.Start(runCtx)
		if err != nil {
			_ = mic.Close()
		}
	}
	if err != nil {
		err = fmt.Errorf("brainstorm: start microphone: %w", err)
		s.fail(runCtx, r, "microphone", err)
		r.release()
		return err
	}
	if !r.attach(func() { r.mic = mic }) {
		_ = mic.Close()
		r.release()
		return errStopped
	}

	ls, err := s.cfg.Provider.Connect(runCtx, liveCfg)
	if err != nil {
		err = fmt.Errorf("brainstorm: connect %s: %w", provider, err)
		s.fail(runCtx, r, "connect", err)
		r.release()
		return err
	}

	if !r.attach(func() { r.live = ls }) {
		_ = ls.Close()
		r.release()
		return errStopped
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		err := r.pump.Run(gctx, samples, &capture.Framer{Size: s.cfg.FrameSize})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		s.eventLoop(gctx, r, ls.Events())
		return nil
	})
	// The run is joined here whichever side ends it.
	go func() {
		if err := g.Wait(); err != nil {
			r.logger.Warn("brainstorm: session goroutine failed", "err", err)
		}
		r.release()
	}()
	return nil
}

// attach runs set under the run lock unless the run was already torn down.
func (r *run) attach(set func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	set()
	return true
}

// fail tears down a run that could not start and leaves the session in
// StateError.
func (s *Session) fail(ctx context.Context, r *run, kind string, err error) {
	s.metrics.RecordSessionError(ctx, s.cfg.Provider.Name(), kind)
	r.logger.Error("brainstorm: session failed to start", "kind", kind, "err", err)
	r.mu.Lock()
	defer r.mu.Unlock()
	s.teardownLocked(r, StateError, err)
}

// eventLoop handles provider events one at a time in arrival order until the
// stream ends or the run is torn down.
func (s *Session) eventLoop(ctx context.Context, r *run, events <-chan live.Event) {
	defer func() { go audio.Drain(events) }()
	for {
		select {
		case <-ctx.Done():
			// Stop has already torn the run down; a cancelled parent
			// context has not.
			r.mu.Lock()
			s.teardownLocked(r, StateDisconnected, nil)
			r.mu.Unlock()
			return
		case ev, ok := <-events:
			if !ok {
				ev = live.Event{Kind: live.EventClose}
			}
			r.mu.Lock()
			done := r.closed || s.handleLocked(ctx, r, ev)
			r.mu.Unlock()
			if done {
				return
			}
		}
	}
}

// handleLocked applies one event. It reports whether the run ended.
func (s *Session) handleLocked(ctx context.Context, r *run, ev live.Event) bool {
	switch ev.Kind {
	case live.EventOpen:
		s.metrics.ConnectDuration.Record(ctx, time.Since(r.started).Seconds())
		s.setState(r, StateConnected)
		r.pump.Open(ctx, r.live)
		r.logger.Info("brainstorm: session connected", "connect_ms", time.Since(r.started).Milliseconds())

	case live.EventInputTranscript:
		s.addTranscript(ctx, transcript.SpeakerUser, ev.Text)

	case live.EventOutputTranscript:
		s.addTranscript(ctx, transcript.SpeakerModel, ev.Text)

	case live.EventAudio:
		buf, err := audio.DecodeBuffer(ev.Audio, s.cfg.OutputSampleRate, 1)
		if err != nil {
			s.metrics.RecordFragment(ctx, "decode_error")
			r.logger.Warn("brainstorm: dropping undecodable fragment", "bytes", len(ev.Audio), "err", err)
			return false
		}
		slot := s.sched.Schedule(buf)
		r.logger.Debug("brainstorm: fragment scheduled", "start", slot.Start, "end", slot.End)

	case live.EventInterrupted:
		n := s.sched.Interrupt()
		r.logger.Debug("brainstorm: interrupted", "voices_stopped", n)

	case live.EventTurnComplete:
		r.logger.Debug("brainstorm: turn complete")

	case live.EventClose:
		r.logger.Info("brainstorm: session closed by remote")
		s.teardownLocked(r, StateDisconnected, nil)
		return true

	case live.EventError:
		s.metrics.RecordSessionError(ctx, s.cfg.Provider.Name(), "remote")
		r.logger.Error("brainstorm: session error", "err", ev.Err)
		err := ev.Err
		if err == nil {
			err = errors.New("brainstorm: remote error")
		}
		s.teardownLocked(r, StateError, err)
		// A runtime error releases everything like a stop; the error stays
		// readable through Err.
		s.setState(r, StateDisconnected)
		return true

	default:
		r.logger.Debug("brainstorm: ignoring event", "kind", ev.Kind)
		return false
	}
	s.notify()
	return false
}

func (s *Session) addTranscript(ctx context.Context, speaker transcript.Speaker, text string) {
	if text == "" {
		return
	}
	s.metrics.RecordTranscriptFragment(ctx, string(speaker))
	s.log.Add(speaker, text)
}

// teardownLocked releases every resource of r and moves the session to final.
// The remote session is closed before the pump so that a blocked send returns.
// r.mu must be held.
func (s *Session) teardownLocked(r *run, final State, err error) {
	if r.closed {
		return
	}
	r.closed = true
	r.cancel()

	var errs []error
	if r.live != nil {
		errs = append(errs, r.live.Close())
	}
	r.pump.Close()
	if r.mic != nil {
		errs = append(errs, r.mic.Close())
	}
	s.sched.Reset()
	if cerr := errors.Join(errs...); cerr != nil {
		r.logger.Warn("brainstorm: teardown", "err", cerr)
	}

	s.metrics.ActiveSessions.Add(context.Background(), -1)
	observe.EndSessionSpan(r.span, final.String(), err)

	s.mu.Lock()
	if s.cur == r {
		s.state = final
		if err != nil {
			s.err = err
		}
	}
	s.mu.Unlock()
	s.notify()
	r.logger.Info("brainstorm: session ended", "state", final, "duration", time.Since(r.started).Round(time.Millisecond))
}

func (s *Session) setState(r *run, st State) {
	s.mu.Lock()
	if s.cur == r {
		s.state = st
	}
	s.mu.Unlock()
	s.notify()
}

// Stop tears down the current session and waits for its goroutines to exit.
// It is a no-op when nothing is running.
func (s *Session) Stop() {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	s.teardownLocked(r, StateDisconnected, nil)
	r.mu.Unlock()
	<-r.done
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error of the last failed session, or nil. It is cleared by
// the next Start.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ClearTranscript drops all transcript turns.
func (s *Session) ClearTranscript() {
	s.log.Reset()
	s.notify()
}

// Transcript returns the coalesced transcript as "Label: text" lines.
func (s *Session) Transcript() string {
	return s.log.String()
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{ID: s.id, State: s.state, Err: s.err}
	pump := s.pump
	s.mu.Unlock()
	snap.Turns = s.log.Turns()
	snap.Clock = s.sched.Clock()
	snap.Active = s.sched.Active()
	snap.Stats = pump.Stats()
	return snap
}

// Updates signals that the snapshot may have changed. Notifications are
// coalesced: a slow reader sees one pending signal, not one per change.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
