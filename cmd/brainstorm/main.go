// Command brainstorm is a voice brainstorm client: it streams the microphone
// to a live model, plays the spoken answers and shows the running transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/brainstorm/internal/brainstorm"
	"github.com/MrWong99/brainstorm/internal/capture"
	"github.com/MrWong99/brainstorm/internal/config"
	"github.com/MrWong99/brainstorm/internal/device"
	"github.com/MrWong99/brainstorm/internal/health"
	"github.com/MrWong99/brainstorm/internal/observe"
	"github.com/MrWong99/brainstorm/internal/playback"
	"github.com/MrWong99/brainstorm/internal/ui"
	"github.com/MrWong99/brainstorm/pkg/audio"
	"github.com/MrWong99/brainstorm/pkg/live"
	"github.com/MrWong99/brainstorm/pkg/live/gemini"
	"github.com/MrWong99/brainstorm/pkg/live/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	input := flag.String("input", "", `audio input: "mic" or a WAV file path (overrides audio.input)`)
	record := flag.String("record", "", "record playback to this WAV file (overrides audio.record)")
	headless := flag.Bool("headless", false, "run one session without the terminal UI and print the transcript")
	duration := flag.Duration("duration", 0, "headless only: stop the session after this long (0 runs until interrupted)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "brainstorm: %v\n", err)
		return 1
	}
	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "brainstorm: %v\n", err)
		return 1
	}
	if *input != "" {
		cfg.Audio.Input = *input
	}
	if *record != "" {
		cfg.Audio.Record = *record
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The TUI owns the terminal, so logs go to a file in that mode.
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	logOut := io.Writer(os.Stderr)
	if !*headless {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "brainstorm: open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: &level})))

	slog.Info("brainstorm starting",
		"config", *configPath,
		"config_file", fromFile,
		"provider", cfg.Provider.Name,
		"input", cfg.Audio.Input,
		"headless", *headless,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "brainstorm"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	provider, err := reg.Create(cfg.Provider)
	if err != nil {
		slog.Error("failed to create provider", "err", err, "registered", reg.Names())
		return 1
	}

	// ── Audio ─────────────────────────────────────────────────────────────────
	timeline := playback.NewTimeline(audio.OutputSampleRate)
	speaker, err := newSpeaker(cfg, *headless)
	if err != nil {
		slog.Error("failed to open audio output", "err", err)
		return 1
	}
	if err := speaker.Start(timeline.Render); err != nil {
		slog.Error("failed to start audio output", "err", err)
		return 1
	}
	defer func() {
		if err := speaker.Close(); err != nil {
			slog.Warn("audio output close error", "err", err)
		}
		_ = timeline.Close()
	}()

	// ── Session ───────────────────────────────────────────────────────────────
	policy, err := capture.ParsePolicy(cfg.Capture.Policy)
	if err != nil {
		slog.Error("invalid capture policy", "err", err)
		return 1
	}
	sess, err := brainstorm.New(brainstorm.Config{
		Provider:   provider,
		Live:       cfg.Session.Live(),
		Microphone: microphoneFactory(cfg.Audio.Input, metrics),
		Output:     timeline,
		Policy:     policy,
		FrameSize:  cfg.Capture.FrameSize,
		MaxPending: cfg.Capture.MaxPending,
		Metrics:    metrics,
	})
	if err != nil {
		slog.Error("failed to create session", "err", err)
		return 1
	}
	defer sess.Stop()

	// ── Config hot reload ─────────────────────────────────────────────────────
	if fromFile {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(config.Diff(old, new), new, &level, sess)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── Health and metrics listener ───────────────────────────────────────────
	if addr := cfg.Server.ListenAddr; addr != "" {
		srv := newObservabilityServer(addr, sess, tel, metrics)
		go func() {
			slog.Info("observability listener started", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("observability listener failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	if *headless {
		err = runHeadless(ctx, sess, *duration)
		fmt.Print(sess.Transcript())
	} else {
		err = ui.Run(ctx, sess)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path, falling back to defaults plus environment when the
// file does not exist. fromFile reports whether the file was used.
func loadConfig(path string) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	cfg, err = config.Default()
	if err != nil {
		return nil, false, fmt.Errorf("config file %q not found and defaults are incomplete: %w", path, err)
	}
	return cfg, false, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the live providers that ship with brainstorm
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register(gemini.ProviderName, func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.Register(openai.ProviderName, func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, opts...), nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "name", name)
	}
}

// ── Audio wiring ──────────────────────────────────────────────────────────────

// microphoneFactory returns the per-session microphone constructor for the
// configured input.
func microphoneFactory(input string, m *observe.Metrics) func() (device.Microphone, error) {
	if input == "" || input == config.DefaultInput {
		return func() (device.Microphone, error) {
			return device.NewMalgoMicrophone(audio.InputSampleRate, m), nil
		}
	}
	return func() (device.Microphone, error) {
		return &device.WAVMicrophone{
			Path:       input,
			SampleRate: audio.InputSampleRate,
			Realtime:   true,
		}, nil
	}
}

// newSpeaker opens the playback device. Headless mode renders into a null
// device; audio.record wraps either one in a WAV recorder.
func newSpeaker(cfg *config.Config, headless bool) (device.Speaker, error) {
	var spk device.Speaker
	if headless {
		spk = &device.NullSpeaker{SampleRate: audio.OutputSampleRate}
	} else {
		spk = device.NewMalgoSpeaker(audio.OutputSampleRate)
	}
	if cfg.Audio.Record == "" {
		return spk, nil
	}
	f, err := os.Create(cfg.Audio.Record)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	rec, err := device.NewRecorder(spk, f, audio.OutputSampleRate)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	slog.Info("recording playback", "path", cfg.Audio.Record)
	return rec, nil
}

// ── Hot reload ────────────────────────────────────────────────────────────────

func applyReload(d config.ConfigDiff, cfg *config.Config, level *slog.LevelVar, sess *brainstorm.Session) {
	if d.IsEmpty() {
		return
	}
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		sess.SetLiveConfig(cfg.Session.Live())
		slog.Info("session config updated, applies to the next session")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "fields", d.RestartRequired)
	}
}

// ── Observability ─────────────────────────────────────────────────────────────

func newObservabilityServer(addr string, sess *brainstorm.Session, tel *observe.Telemetry, m *observe.Metrics) *http.Server {
	mux := http.NewServeMux()
	health.New(health.SessionCheck(sess)).Register(mux)
	mux.Handle("GET /metrics", tel.MetricsHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Headless ──────────────────────────────────────────────────────────────────

// runHeadless runs a single session until ctx ends, d elapses (when positive)
// or the session ends on its own.
func runHeadless(ctx context.Context, sess *brainstorm.Session, d time.Duration) error {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()
		case <-sess.Updates():
			if sess.State() == brainstorm.StateDisconnected {
				return sess.Err()
			}
		}
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
