package config

import (
	"testing"

	"github.com/voxline/frontdesk/internal/orgctx"
)

func orgEntry(id string) OrgConfig {
	return OrgConfig{
		OrganizationContext: orgctx.OrganizationContext{
			OrgID:    id,
			Name:     "Harbor Salon",
			Greeting: "Thanks for calling!",
			Services: []orgctx.Service{{ID: "svc-1", Name: "Haircut", Active: true}},
			Rules:    orgctx.DefaultRules(),
		},
		Numbers: []string{"+15551234567"},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	old := &Config{Organizations: []OrgConfig{orgEntry("org-1")}}
	new := &Config{Organizations: []OrgConfig{orgEntry("org-1")}}

	d := Diff(old, new)
	if d.OrgsChanged || d.LogLevelChanged {
		t.Errorf("identical configs: got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()

	old := &Config{Server: ServerConfig{LogLevel: LogInfo}}
	new := &Config{Server: ServerConfig{LogLevel: LogDebug}}

	d := Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("log level diff: got %+v", d)
	}
}

func TestDiff_OrgChanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*OrgConfig)
		check  func(t *testing.T, od OrgDiff)
	}{
		{
			name:   "greeting changed",
			mutate: func(o *OrgConfig) { o.Greeting = "Hello!" },
			check: func(t *testing.T, od OrgDiff) {
				if !od.ScriptsChanged {
					t.Error("want ScriptsChanged")
				}
			},
		},
		{
			name:   "voice changed",
			mutate: func(o *OrgConfig) { o.Voice.VoiceID = "new-voice" },
			check: func(t *testing.T, od OrgDiff) {
				if !od.VoiceChanged {
					t.Error("want VoiceChanged")
				}
			},
		},
		{
			name:   "service deactivated",
			mutate: func(o *OrgConfig) { o.Services[0].Active = false },
			check: func(t *testing.T, od OrgDiff) {
				if !od.CatalogChanged {
					t.Error("want CatalogChanged")
				}
			},
		},
		{
			name:   "retry policy changed",
			mutate: func(o *OrgConfig) { o.Rules.MaxRetries = 5 },
			check: func(t *testing.T, od OrgDiff) {
				if !od.CatalogChanged {
					t.Error("want CatalogChanged")
				}
			},
		},
		{
			name:   "number added",
			mutate: func(o *OrgConfig) { o.Numbers = append(o.Numbers, "+15550001111") },
			check: func(t *testing.T, od OrgDiff) {
				if !od.NumbersChanged {
					t.Error("want NumbersChanged")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			old := &Config{Organizations: []OrgConfig{orgEntry("org-1")}}
			entry := orgEntry("org-1")
			tt.mutate(&entry)
			new := &Config{Organizations: []OrgConfig{entry}}

			d := Diff(old, new)
			if !d.OrgsChanged || len(d.OrgChanges) != 1 {
				t.Fatalf("diff: got %+v", d)
			}
			tt.check(t, d.OrgChanges[0])
		})
	}
}

func TestDiff_AddedAndRemoved(t *testing.T) {
	t.Parallel()

	old := &Config{Organizations: []OrgConfig{orgEntry("org-1"), orgEntry("org-2")}}
	new := &Config{Organizations: []OrgConfig{orgEntry("org-1"), orgEntry("org-3")}}

	d := Diff(old, new)
	if !d.OrgsChanged {
		t.Fatal("want OrgsChanged")
	}
	got := map[string]OrgDiff{}
	for _, od := range d.OrgChanges {
		got[od.OrgID] = od
	}
	if !got["org-2"].Removed {
		t.Errorf("org-2: want Removed, got %+v", got["org-2"])
	}
	if !got["org-3"].Added {
		t.Errorf("org-3: want Added, got %+v", got["org-3"])
	}
}
