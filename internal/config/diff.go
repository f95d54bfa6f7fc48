package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	PartsChanged    bool       // true if any part was added, removed, or edited
	PartChanges     []PartDiff // per-part diffs
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists settings that changed but only take effect after
	// a restart (listen address, tutor backend, recorder shape).
	RestartRequired []string
}

// PartDiff describes what changed for a single part between two configs.
type PartDiff struct {
	Name               string
	AliasesChanged     bool
	DescriptionChanged bool
	Added              bool
	Removed            bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Settings that need a restart.
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Tutor != new.Tutor {
		d.RestartRequired = append(d.RestartRequired, "tutor")
	}
	if old.Recorder != new.Recorder {
		d.RestartRequired = append(d.RestartRequired, "recorder")
	}

	// Build part lookup maps keyed by name.
	oldParts := make(map[string]*PartConfig, len(old.Parts))
	for i := range old.Parts {
		oldParts[old.Parts[i].Name] = &old.Parts[i]
	}
	newParts := make(map[string]*PartConfig, len(new.Parts))
	for i := range new.Parts {
		newParts[new.Parts[i].Name] = &new.Parts[i]
	}

	// Detect modified and removed parts.
	for name, oldPart := range oldParts {
		newPart, exists := newParts[name]
		if !exists {
			d.PartChanges = append(d.PartChanges, PartDiff{
				Name:    name,
				Removed: true,
			})
			d.PartsChanged = true
			continue
		}
		pd := diffPart(name, oldPart, newPart)
		if pd.AliasesChanged || pd.DescriptionChanged {
			d.PartChanges = append(d.PartChanges, pd)
			d.PartsChanged = true
		}
	}

	// Detect added parts.
	for name := range newParts {
		if _, exists := oldParts[name]; !exists {
			d.PartChanges = append(d.PartChanges, PartDiff{
				Name:  name,
				Added: true,
			})
			d.PartsChanged = true
		}
	}

	return d
}

// diffPart compares two part configs with the same name.
func diffPart(name string, old, new *PartConfig) PartDiff {
	return PartDiff{
		Name:               name,
		AliasesChanged:     !slices.Equal(old.Aliases, new.Aliases),
		DescriptionChanged: old.Description != new.Description,
	}
}
