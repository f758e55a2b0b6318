package config

import (
	"errors"
	"testing"

	"github.com/voxline/frontdesk/pkg/provider/asr"
	asrmock "github.com/voxline/frontdesk/pkg/provider/asr/mock"
	"github.com/voxline/frontdesk/pkg/provider/llm"
	llmmock "github.com/voxline/frontdesk/pkg/provider/llm/mock"
	"github.com/voxline/frontdesk/pkg/provider/tts"
	ttsmock "github.com/voxline/frontdesk/pkg/provider/tts/mock"
)

func TestRegistry_CreateRoundTrip(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterASR("mock", func(e ProviderEntry) (asr.Provider, error) {
		return &asrmock.Provider{}, nil
	})
	r.RegisterTTS("mock", func(e ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})
	r.RegisterLLM("mock", func(e ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	if _, err := r.CreateASR(ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateASR: %v", err)
	}
	if _, err := r.CreateTTS(ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	if _, err := r.CreateLLM(ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateLLM: %v", err)
	}
}

func TestRegistry_UnregisteredName(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.CreateLLM(ProviderEntry{Name: "nope"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("want ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_FactoryReceivesEntry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var got ProviderEntry
	r.RegisterLLM("openai", func(e ProviderEntry) (llm.Provider, error) {
		got = e
		return &llmmock.Provider{}, nil
	})

	entry := ProviderEntry{Name: "openai", APIKey: "key", Model: "gpt-4o-mini"}
	if _, err := r.CreateLLM(entry); err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if got.APIKey != "key" || got.Model != "gpt-4o-mini" {
		t.Errorf("factory entry: got %+v", got)
	}
}
