package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is set when the prompt, voice or transcription settings
	// changed. They apply to the next session.
	SessionChanged bool

	// RestartRequired lists sections that changed but are only read at
	// startup.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session.Live() != new.Session.Live() {
		d.SessionChanged = true
	}

	if old.Provider != new.Provider {
		d.RestartRequired = append(d.RestartRequired, "provider")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFile != new.Server.LogFile {
		d.RestartRequired = append(d.RestartRequired, "server")
	}

	return d
}

// IsEmpty reports whether the diff contains no changes.
func (d ConfigDiff) IsEmpty() bool {
	return !d.LogLevelChanged && !d.SessionChanged && len(d.RestartRequired) == 0
}
