package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/brainstorm/internal/capture"
)

// ValidProviderNames lists the built-in live providers. Used by [Validate] to
// warn about unrecognised provider names.
var ValidProviderNames = []string{"gemini-live", "openai-realtime"}

// apiKeyEnv lists, per provider, the environment variables consulted for a
// missing API key, in order. API_KEY is the shared fallback.
var apiKeyEnv = map[string][]string{
	"gemini-live":     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openai-realtime": {"OPENAI_API_KEY"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and missing API
// keys from the process environment, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	return LoadFromReaderEnv(r, os.LookupEnv)
}

// LoadFromReaderEnv is [LoadFromReader] with an explicit environment lookup.
// Useful in tests where configs are constructed from string literals.
func LoadFromReaderEnv(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return finish(cfg, lookup)
}

// Default returns the configuration used when no file exists: built-in
// defaults plus API keys from the process environment.
func Default() (*Config, error) {
	return finish(&Config{}, os.LookupEnv)
}

func finish(cfg *Config, lookup func(string) (string, bool)) (*Config, error) {
	ApplyDefaults(cfg)
	ApplyEnv(cfg, lookup)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFile == "" {
		cfg.Server.LogFile = "brainstorm.log"
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = DefaultProvider
	}
	if cfg.Session.Instructions == "" {
		cfg.Session.Instructions = DefaultInstructions
	}
	if cfg.Capture.Policy == "" {
		cfg.Capture.Policy = DefaultPolicy
	}
	if cfg.Capture.FrameSize == 0 {
		cfg.Capture.FrameSize = DefaultFrameSize
	}
	if cfg.Capture.MaxPending == 0 {
		cfg.Capture.MaxPending = DefaultMaxPending
	}
	if cfg.Audio.Input == "" {
		cfg.Audio.Input = DefaultInput
	}
}

// ApplyEnv fills an empty provider API key from the environment variables
// associated with the provider, falling back to API_KEY.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg.Provider.APIKey != "" {
		return
	}
	for _, name := range append(slices.Clone(apiKeyEnv[cfg.Provider.Name]), "API_KEY") {
		if v, ok := lookup(name); ok && v != "" {
			cfg.Provider.APIKey = v
			slog.Debug("config: provider api key taken from environment", "var", name)
			return
		}
	}
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none are
// given) into the process environment. Variables that are already set win.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("config: loaded environment file", "path", p)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else {
		validateProviderName(cfg.Provider.Name)
	}
	if cfg.Provider.APIKey == "" {
		vars := append(slices.Clone(apiKeyEnv[cfg.Provider.Name]), "API_KEY")
		errs = append(errs, fmt.Errorf("provider.api_key is required; set it in the config or via %v", vars))
	}

	if _, err := capture.ParsePolicy(cfg.Capture.Policy); err != nil {
		errs = append(errs, fmt.Errorf("capture.policy: %w", err))
	}
	if cfg.Capture.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_size %d must be positive", cfg.Capture.FrameSize))
	}
	if cfg.Capture.MaxPending < 0 {
		errs = append(errs, fmt.Errorf("capture.max_pending %d must not be negative", cfg.Capture.MaxPending))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not a built-in provider.
func validateProviderName(name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
