package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else
// is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TurnTakingChanged is true when any turn-taking timing changed. The new
	// values apply to the next session started.
	TurnTakingChanged bool
	NewTurnTaking     TurnTakingConfig

	// RestartRequired names the top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// Changed reports whether d holds any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TurnTakingChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.TurnTaking != new.TurnTaking {
		d.TurnTakingChanged = true
		d.NewTurnTaking = new.TurnTaking
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Channel != new.Channel {
		d.RestartRequired = append(d.RestartRequired, "channel")
	}
	if !reflect.DeepEqual(old.Auth, new.Auth) {
		d.RestartRequired = append(d.RestartRequired, "auth")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if !reflect.DeepEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Retry != new.Retry {
		d.RestartRequired = append(d.RestartRequired, "retry")
	}
	if old.Transcript != new.Transcript {
		d.RestartRequired = append(d.RestartRequired, "transcript")
	}

	return d
}
