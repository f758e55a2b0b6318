package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/voxline/frontdesk/internal/orgctx"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr": {"deepgram", "mock"},
	"tts": {"elevenlabs", "mock"},
	"llm": {"openai", "mock"},
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
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

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays well-known environment variables onto cfg. Secrets are
// expected to arrive this way rather than living in the config file.
func ApplyEnv(cfg *Config) {
	setIfEnv := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setIfEnv(&cfg.Providers.ASR.APIKey, "DEEPGRAM_API_KEY")
	setIfEnv(&cfg.Providers.TTS.APIKey, "ELEVENLABS_API_KEY")
	setIfEnv(&cfg.Providers.LLM.APIKey, "OPENAI_API_KEY")
	setIfEnv(&cfg.Database.PostgresDSN, "DATABASE_URL")
	setIfEnv(&cfg.Server.PublicHost, "PUBLIC_HOST")
	setIfEnv(&cfg.Calendar.BookingURL, "BOOKING_URL")
	setIfEnv(&cfg.Calendar.AuthToken, "BOOKING_AUTH_TOKEN")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	if cfg.Calendar.BookingURL != "" {
		if u, err := url.Parse(cfg.Calendar.BookingURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("calendar.booking_url %q is not an absolute URL", cfg.Calendar.BookingURL))
		}
	} else {
		slog.Warn("calendar.booking_url is empty; confirmed bookings will degrade to scheduled callbacks")
	}

	for _, f := range []struct {
		name string
		ms   int
	}{
		{"dialog.turn_quiescence_ms", cfg.Dialog.TurnQuiescenceMs},
		{"dialog.continuation_window_ms", cfg.Dialog.ContinuationWindowMs},
		{"dialog.silence_timeout_ms", cfg.Dialog.SilenceTimeoutMs},
		{"dialog.conversation_timeout_ms", cfg.Dialog.ConversationTimeoutMs},
		{"dialog.fallback_greeting_ms", cfg.Dialog.FallbackGreetingMs},
		{"dialog.close_grace_ms", cfg.Dialog.CloseGraceMs},
	} {
		if f.ms < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", f.name))
		}
	}

	errs = append(errs, validateOrgs(cfg.Organizations)...)

	return errors.Join(errs...)
}

// validateOrgs checks the organization entries for internal consistency.
func validateOrgs(orgs []OrgConfig) []error {
	var errs []error

	idsSeen := make(map[string]int, len(orgs))
	numbersSeen := make(map[string]string)

	for i, org := range orgs {
		prefix := fmt.Sprintf("organizations[%d]", i)
		if org.OrgID == "" {
			errs = append(errs, fmt.Errorf("%s.org_id is required", prefix))
		} else {
			if prev, ok := idsSeen[org.OrgID]; ok {
				errs = append(errs, fmt.Errorf("%s.org_id %q is a duplicate of organizations[%d]", prefix, org.OrgID, prev))
			}
			idsSeen[org.OrgID] = i
		}

		if len(org.Numbers) == 0 {
			slog.Warn("organization has no dialed numbers; it will only serve as a default context", "org_id", org.OrgID)
		}
		for _, n := range org.Numbers {
			norm := orgctx.NormalizeE164(n)
			if owner, ok := numbersSeen[norm]; ok && owner != org.OrgID {
				errs = append(errs, fmt.Errorf("%s: number %q is already mapped to organization %q", prefix, n, owner))
				continue
			}
			numbersSeen[norm] = org.OrgID
		}

		if s := org.Voice.Speed; s != 0 && (s < 0.5 || s > 2.0) {
			errs = append(errs, fmt.Errorf("%s.voice.speed %.2f is out of range [0.5, 2.0]", prefix, s))
		}
		if p := org.Voice.Pitch; p < -10 || p > 10 {
			errs = append(errs, fmt.Errorf("%s.voice.pitch %.2f is out of range [-10, 10]", prefix, p))
		}
		if c := org.Rules.ConfirmationThreshold; c < 0 || c > 1 {
			errs = append(errs, fmt.Errorf("%s.rules.confirmation_threshold %.2f is out of range [0, 1]", prefix, c))
		}
		if org.Rules.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("%s.rules.max_retries must not be negative", prefix))
		}

		active := 0
		for j, svc := range org.Services {
			if svc.Name == "" {
				errs = append(errs, fmt.Errorf("%s.services[%d].name is required", prefix, j))
			}
			if svc.Active {
				active++
			}
		}
		if len(org.Services) > 0 && active == 0 {
			slog.Warn("organization has no active services; every booking request will be rejected", "org_id", org.OrgID)
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
