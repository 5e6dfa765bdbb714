package provider

import (
	"testing"

	"github.com/nevindra/aicode/provider/resolve"
)

func TestNewPoolAdmitsUsableOnly(t *testing.T) {
	pool, err := NewPool([]NamedConfig{
		{Name: "primary", Model: "gemini-2.5-flash", Config: resolve.Config{Provider: "gemini", APIKey: "k", Model: "gemini-2.5-flash"}, Default: true},
		{Name: "fallback", Model: "gpt-4o-mini", Config: resolve.Config{Provider: "openai", APIKey: "k", Model: "gpt-4o-mini"}},
		{Name: "broken", Config: resolve.Config{Provider: "not-a-real-provider"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := pool.List()
	if len(names) != 2 {
		t.Fatalf("List() = %v, want 2 admitted clients", names)
	}
	if pool.CurrentName() != "primary" {
		t.Errorf("CurrentName() = %q, want %q", pool.CurrentName(), "primary")
	}
	if pool.CurrentModel() != "gemini-2.5-flash" {
		t.Errorf("CurrentModel() = %q, want %q", pool.CurrentModel(), "gemini-2.5-flash")
	}
}

func TestNewPoolNoUsableClients(t *testing.T) {
	_, err := NewPool([]NamedConfig{
		{Name: "broken", Config: resolve.Config{Provider: "unknown"}},
	})
	if err == nil {
		t.Fatal("expected error when no client is usable")
	}
}

func TestPoolUse(t *testing.T) {
	pool, err := NewPool([]NamedConfig{
		{Name: "a", Config: resolve.Config{Provider: "gemini", APIKey: "k", Model: "gemini-2.5-flash"}, Default: true},
		{Name: "b", Config: resolve.Config{Provider: "openai", APIKey: "k", Model: "gpt-4o"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := pool.Use("b"); err != nil {
		t.Fatalf("Use(b): %v", err)
	}
	if pool.CurrentName() != "b" {
		t.Errorf("CurrentName() = %q, want %q", pool.CurrentName(), "b")
	}
	if pool.Default().Name() != pool.clients["a"].Name() {
		t.Error("Default() should remain the configured default after Use")
	}

	if err := pool.Use("nonexistent"); err == nil {
		t.Error("expected error using an unconfigured name")
	}
	if pool.CurrentName() != "b" {
		t.Error("failed Use should not change current")
	}
}
