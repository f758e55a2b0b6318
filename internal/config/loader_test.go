package config

import (
	"strings"
	"testing"
)

const sampleYAML = `
server:
  listen_addr: ":8080"
  public_host: "agent.example.com"
  log_level: info
providers:
  asr:
    name: deepgram
    model: nova-2-phonecall
  tts:
    name: elevenlabs
    model: eleven_flash_v2_5
  llm:
    name: openai
    model: gpt-4o-mini
dialog:
  turn_quiescence_ms: 1500
  silence_timeout_ms: 12000
calendar:
  booking_url: "https://scheduler.example.com/bookings"
organizations:
  - org_id: org-1
    name: Harbor Salon
    greeting: "Thanks for calling Harbor Salon!"
    timezone: America/New_York
    services:
      - id: svc-1
        name: Haircut
        duration_min: 30
        active: true
        aliases: [trim, cut]
    rules:
      max_retries: 3
      confirmation_threshold: 0.5
    numbers: ["(555) 123-4567"]
`

func TestLoadFromReader(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.ASR.Name != "deepgram" || cfg.Providers.ASR.Model != "nova-2-phonecall" {
		t.Errorf("asr provider: got %+v", cfg.Providers.ASR)
	}
	if len(cfg.Organizations) != 1 {
		t.Fatalf("organizations: want 1, got %d", len(cfg.Organizations))
	}
	org := cfg.Organizations[0]
	if org.OrgID != "org-1" || org.Greeting == "" {
		t.Errorf("organization: got %+v", org)
	}
	if len(org.Services) != 1 || org.Services[0].Aliases[0] != "trim" {
		t.Errorf("services: got %+v", org.Services)
	}
	if len(org.Numbers) != 1 {
		t.Errorf("numbers: got %v", org.Numbers)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("server:\n  listen_adress: \":8080\"\n"))
	if err == nil {
		t.Fatal("want error for unknown field, got nil")
	}
}

func TestLoadFromReader_EmptyConfig(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg == nil {
		t.Fatal("want zero config, got nil")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("ELEVENLABS_API_KEY", "el-key")
	t.Setenv("OPENAI_API_KEY", "oa-key")
	t.Setenv("DATABASE_URL", "postgres://env/frontdesk")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.ASR.APIKey != "dg-key" {
		t.Errorf("asr api key: got %q", cfg.Providers.ASR.APIKey)
	}
	if cfg.Providers.TTS.APIKey != "el-key" {
		t.Errorf("tts api key: got %q", cfg.Providers.TTS.APIKey)
	}
	if cfg.Providers.LLM.APIKey != "oa-key" {
		t.Errorf("llm api key: got %q", cfg.Providers.LLM.APIKey)
	}
	if cfg.Database.PostgresDSN != "postgres://env/frontdesk" {
		t.Errorf("dsn: got %q", cfg.Database.PostgresDSN)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log level: got %q", cfg.Server.LogLevel)
	}
}

func TestDialogTimers(t *testing.T) {
	t.Parallel()

	d := DialogConfig{TurnQuiescenceMs: 1000, SilenceTimeoutMs: 8000}
	timers := d.Timers()
	if timers.Quiescence.Milliseconds() != 1000 {
		t.Errorf("quiescence: got %s", timers.Quiescence)
	}
	if timers.Silence.Milliseconds() != 8000 {
		t.Errorf("silence: got %s", timers.Silence)
	}
	// Unset fields fall back to defaults.
	if timers.Conversation.Seconds() != 30 {
		t.Errorf("conversation default: got %s", timers.Conversation)
	}
	if timers.CloseGrace.Seconds() != 5 {
		t.Errorf("close grace default: got %s", timers.CloseGrace)
	}
}
