//go:build !integration

package i18n

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestTranslator(t *testing.T) {
	translator, err := newTranslatorFromBytes([]byte("greeting: hello\nwelcome_user: hello %s"))
	if err != nil {
		t.Fatalf("newTranslatorFromBytes failed: %v", err)
	}

	t.Run("should translate a simple key", func(t *testing.T) {
		if got := translator.T("greeting"); got != "hello" {
			t.Errorf("wanted 'hello', got '%s'", got)
		}
	})

	t.Run("should return key if not found", func(t *testing.T) {
		if got := translator.T("nonexistent_key"); got != "nonexistent_key" {
			t.Errorf("wanted key back, got '%s'", got)
		}
	})

	t.Run("should format arguments correctly", func(t *testing.T) {
		if got := translator.T("welcome_user", "Sara"); got != "hello Sara" {
			t.Errorf("wanted 'hello Sara', got '%s'", got)
		}
	})
}

func TestNewTranslatorFromFS(t *testing.T) {
	fsys := fstest.MapFS{"locales/de.yaml": {Data: []byte("indicator.thinking: Denke nach...")}}
	tr, err := NewTranslator(fsys, "de")
	if err != nil {
		t.Fatal(err)
	}
	if tr.T("indicator.thinking") != "Denke nach..." {
		t.Error("wrong text")
	}
	if _, err := NewTranslator(fsys, "fr"); err == nil {
		t.Error("missing locale must fail")
	}
}

func TestDefaultCatalogIsComplete(t *testing.T) {
	for _, key := range []string{
		"failure.timeout", "failure.unavailable", "failure.empty", "failure.cancelled",
		"failure.session_gone", "failure.internal", "failure.interrupted",
		"api.internal", "api.not_found", "api.upstream_timeout", "api.upstream_unavailable",
		"notice.timeout", "notice.busy", "notice.rate_limited", "notice.empty_message",
		"notice.stopped", "notice.generic", "indicator.thinking", "indicator.still_working",
	} {
		if T(key) == key {
			t.Errorf("missing text for %s", key)
		}
	}
	if got := T("failure.timeout", "2h0m0s"); !strings.Contains(got, "within 2h0m0s") || !strings.Contains(got, "overloaded") {
		t.Errorf("timeout text: %q", got)
	}
}
