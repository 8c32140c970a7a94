package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs. Fields that can be
// applied to a running server are reported individually; everything else
// is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TypingDelayChanged bool
	NewTypingDelay     time.Duration

	AcknowledgementChanged bool
	NewAcknowledgement     string

	ApologyChanged bool
	NewApology     string

	DispatchTimeoutChanged bool
	NewDispatchTimeout     time.Duration

	// RestartRequired names the top-level settings that changed but only
	// take effect after a restart.
	RestartRequired []string
}

// HasChanges reports whether anything hot-reloadable changed.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.TypingDelayChanged || d.AcknowledgementChanged ||
		d.ApologyChanged || d.DispatchTimeoutChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Playback.TypingDelay != new.Playback.TypingDelay {
		d.TypingDelayChanged = true
		d.NewTypingDelay = new.Playback.TypingDelay
	}
	if old.Widget.Acknowledgement != new.Widget.Acknowledgement {
		d.AcknowledgementChanged = true
		d.NewAcknowledgement = new.Widget.Acknowledgement
	}
	if old.Widget.Apology != new.Widget.Apology {
		d.ApologyChanged = true
		d.NewApology = new.Widget.Apology
	}
	if old.Widget.DispatchTimeout != new.Widget.DispatchTimeout {
		d.DispatchTimeoutChanged = true
		d.NewDispatchTimeout = new.Widget.DispatchTimeout
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	if !reflect.DeepEqual(old.Widget.Surfaces, new.Widget.Surfaces) ||
		!reflect.DeepEqual(old.Widget.Greeting, new.Widget.Greeting) {
		d.RestartRequired = append(d.RestartRequired, "widget")
	}

	return d
}
