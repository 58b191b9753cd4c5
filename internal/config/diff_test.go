package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/brainstorm/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{Provider: config.ProviderEntry{APIKey: "k"}}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	if d := config.Diff(cfg, cfg); !d.IsEmpty() {
		t.Errorf("Diff of identical configs = %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	off := false
	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLevel   bool
		wantSession bool
		wantRestart []string
	}{
		{"log level", func(c *config.Config) { c.Server.LogLevel = config.LogDebug }, true, false, nil},
		{"instructions", func(c *config.Config) { c.Session.Instructions = "novo" }, false, true, nil},
		{"voice", func(c *config.Config) { c.Session.Voice = "Puck" }, false, true, nil},
		{"transcription", func(c *config.Config) { c.Session.OutputTranscription = &off }, false, true, nil},
		{"provider", func(c *config.Config) { c.Provider.Model = "other" }, false, false, []string{"provider"}},
		{"capture", func(c *config.Config) { c.Capture.Policy = "buffer" }, false, false, []string{"capture"}},
		{"audio", func(c *config.Config) { c.Audio.Record = "x.wav" }, false, false, []string{"audio"}},
		{"listener", func(c *config.Config) { c.Server.ListenAddr = ":1" }, false, false, []string{"server"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tc.mutate(new)
			d := config.Diff(old, new)
			if d.LogLevelChanged != tc.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tc.wantLevel)
			}
			if d.SessionChanged != tc.wantSession {
				t.Errorf("SessionChanged = %v, want %v", d.SessionChanged, tc.wantSession)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
		})
	}
}

func TestDiff_TranscriptionNilEqualsTrue(t *testing.T) {
	t.Parallel()
	on := true
	old, new := baseConfig(), baseConfig()
	new.Session.InputTranscription = &on
	if d := config.Diff(old, new); d.SessionChanged {
		t.Error("explicit true should equal the default")
	}
}
