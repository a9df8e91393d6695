package config

import "maps"

// ConfigDiff describes what changed between two configs. Log level and
// the playback filter are applied live; every other change is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	FilterChanged bool
	NewFilter     FilterConfig

	// RestartRequired names the top-level keys whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.FilterChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Playback.Filter != new.Playback.Filter {
		d.FilterChanged = true
		d.NewFilter = new.Playback.Filter
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameTransport(old.Transport, new.Transport) {
		d.RestartRequired = append(d.RestartRequired, "transport")
	}
	op, np := old.Playback, new.Playback
	op.Filter, np.Filter = FilterConfig{}, FilterConfig{}
	if op != np {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameTransport(a, b TransportConfig) bool {
	return a.URL == b.URL &&
		a.MissionID == b.MissionID &&
		a.DialTimeout == b.DialTimeout &&
		a.ReadLimit == b.ReadLimit &&
		a.Reconnect == b.Reconnect &&
		maps.Equal(a.Headers, b.Headers)
}
