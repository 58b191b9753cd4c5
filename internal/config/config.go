// Package config provides the configuration schema, loader, hot-reload
// watcher and live provider registry for brainstorm.
package config

import "github.com/MrWong99/brainstorm/pkg/live"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DefaultInstructions is the system prompt used when session.instructions is
// empty.
const DefaultInstructions = "Você é um consultor estratégico de negócios digitais. " +
	"Responda de forma concisa, energética e focada em resultados. Fale português do Brasil."

// Defaults applied by [ApplyDefaults].
const (
	DefaultProvider   = "gemini-live"
	DefaultPolicy     = "drop"
	DefaultFrameSize  = 4096
	DefaultMaxPending = 16
	DefaultInput      = "mic"
)

// Config is the root configuration structure for brainstorm.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Provider ProviderEntry `yaml:"provider"`
	Session  SessionConfig `yaml:"session"`
	Capture  CaptureConfig `yaml:"capture"`
	Audio    AudioConfig   `yaml:"audio"`
}

// ServerConfig holds logging and the optional observability listener.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz and /metrics
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile receives logs in TUI mode, where stderr belongs to the
	// terminal UI. Empty means "brainstorm.log".
	LogFile string `yaml:"log_file"`
}

// ProviderEntry selects and configures the live provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider ("gemini-live" or
	// "openai-realtime").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. When empty it is read from
	// the environment, see [ApplyEnv].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default WebSocket endpoint.
	BaseURL string `yaml:"base_url"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`
}

// SessionConfig is sent to the provider on every connect. Changes are picked
// up by the next session without a restart.
type SessionConfig struct {
	// Instructions is the system prompt.
	Instructions string `yaml:"instructions"`

	// Voice selects a provider-specific prebuilt voice.
	Voice string `yaml:"voice"`

	// InputTranscription enables transcription of the user's speech.
	// Defaults to true.
	InputTranscription *bool `yaml:"input_transcription"`

	// OutputTranscription enables transcription of the model's speech.
	// Defaults to true.
	OutputTranscription *bool `yaml:"output_transcription"`
}

// Live converts the section into the provider-agnostic session config.
func (s SessionConfig) Live() live.SessionConfig {
	return live.SessionConfig{
		Instructions:        s.Instructions,
		Voice:               s.Voice,
		InputTranscription:  s.InputTranscription == nil || *s.InputTranscription,
		OutputTranscription: s.OutputTranscription == nil || *s.OutputTranscription,
	}
}

// CaptureConfig controls microphone framing and frames captured before the
// session opens.
type CaptureConfig struct {
	// Policy is "drop" or "buffer".
	Policy string `yaml:"policy"`

	// FrameSize is the number of 16 kHz samples per frame sent upstream.
	FrameSize int `yaml:"frame_size"`

	// MaxPending bounds the "buffer" policy.
	MaxPending int `yaml:"max_pending"`
}

// AudioConfig selects the audio endpoints.
type AudioConfig struct {
	// Input is "mic" for the default capture device or the path of a WAV
	// file to replay.
	Input string `yaml:"input"`

	// Record is the path of a WAV file receiving everything played back.
	// Empty disables recording.
	Record string `yaml:"record"`
}
