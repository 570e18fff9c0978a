package config

import (
	"reflect"
	"slices"

	"github.com/MrWong99/voxtable/internal/guided"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// KeywordsChanged is true when any language's stop or skip words changed.
	KeywordsChanged bool
	// ChangedLanguages lists the affected language tags in sorted order.
	ChangedLanguages []string

	DefaultLanguageChanged bool
	NewDefaultLanguage     string

	// RestartRequired names changed settings that only take effect after a
	// restart, in YAML key form (e.g. "storage").
	RestartRequired []string
}

// Changed reports whether d carries any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.KeywordsChanged || d.DefaultLanguageChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session.DefaultLanguage != new.Session.DefaultLanguage {
		d.DefaultLanguageChanged = true
		d.NewDefaultLanguage = new.Session.DefaultLanguage
	}

	for lang, oldSet := range old.Session.Keywords {
		newSet, ok := new.Session.Keywords[lang]
		if !ok || !sameKeywords(oldSet, newSet) {
			d.ChangedLanguages = append(d.ChangedLanguages, lang)
		}
	}
	for lang := range new.Session.Keywords {
		if _, ok := old.Session.Keywords[lang]; !ok {
			d.ChangedLanguages = append(d.ChangedLanguages, lang)
		}
	}
	slices.Sort(d.ChangedLanguages)
	d.KeywordsChanged = len(d.ChangedLanguages) > 0

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server.allowed_origins")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func sameKeywords(a, b guided.KeywordSet) bool {
	return slices.Equal(a.Stop, b.Stop) && slices.Equal(a.Skip, b.Skip)
}

// Keywords returns the built-in keyword table merged with the overrides in
// cfg.
func Keywords(cfg *Config) guided.Keywords {
	return guided.DefaultKeywords().Merge(cfg.Session.Keywords)
}
