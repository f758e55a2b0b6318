package config

import "github.com/voxline/frontdesk/internal/orgctx"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	OrgsChanged     bool      // true if any organization was added, removed, or modified
	OrgChanges      []OrgDiff // per-organization diffs
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// OrgDiff describes what changed for a single organization between two
// configs.
type OrgDiff struct {
	OrgID          string
	ScriptsChanged bool // greeting, fallback, or per-state scripts
	VoiceChanged   bool
	CatalogChanged bool // services, hours, holidays, or rules
	NumbersChanged bool
	Added          bool
	Removed        bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldOrgs := make(map[string]*OrgConfig, len(old.Organizations))
	for i := range old.Organizations {
		oldOrgs[old.Organizations[i].OrgID] = &old.Organizations[i]
	}
	newOrgs := make(map[string]*OrgConfig, len(new.Organizations))
	for i := range new.Organizations {
		newOrgs[new.Organizations[i].OrgID] = &new.Organizations[i]
	}

	for id, oldOrg := range oldOrgs {
		newOrg, exists := newOrgs[id]
		if !exists {
			d.OrgChanges = append(d.OrgChanges, OrgDiff{OrgID: id, Removed: true})
			d.OrgsChanged = true
			continue
		}
		od := diffOrg(id, oldOrg, newOrg)
		if od.ScriptsChanged || od.VoiceChanged || od.CatalogChanged || od.NumbersChanged {
			d.OrgChanges = append(d.OrgChanges, od)
			d.OrgsChanged = true
		}
	}

	for id := range newOrgs {
		if _, exists := oldOrgs[id]; !exists {
			d.OrgChanges = append(d.OrgChanges, OrgDiff{OrgID: id, Added: true})
			d.OrgsChanged = true
		}
	}

	return d
}

// diffOrg compares two organization configs with the same ID.
func diffOrg(id string, old, new *OrgConfig) OrgDiff {
	od := OrgDiff{OrgID: id}

	if old.Greeting != new.Greeting || old.Fallback != new.Fallback ||
		!mapsEqual(old.Scripts, new.Scripts) {
		od.ScriptsChanged = true
	}
	if old.Voice != new.Voice {
		od.VoiceChanged = true
	}
	if !servicesEqual(old.Services, new.Services) ||
		!slicesEqualBH(old.Hours, new.Hours) ||
		!stringsEqual(old.Holidays, new.Holidays) ||
		old.Rules != new.Rules {
		od.CatalogChanged = true
	}
	if !stringsEqual(old.Numbers, new.Numbers) {
		od.NumbersChanged = true
	}
	return od
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func servicesEqual(a, b []orgctx.Service) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Name != b[i].Name ||
			a[i].DurationMin != b[i].DurationMin || a[i].Active != b[i].Active ||
			!stringsEqual(a[i].Aliases, b[i].Aliases) {
			return false
		}
	}
	return true
}

func slicesEqualBH(a, b []orgctx.BusinessHours) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
