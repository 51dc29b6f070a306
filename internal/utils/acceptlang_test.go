package utils

import "testing"

func TestDetermineLocale_QueryParamWins(t *testing.T) {
	got := DetermineLocale("de-AT", "en-US,en;q=0.9,de;q=0.8", []string{"en", "de"}, "en")
	if got != "de" {
		t.Fatalf("want de, got %s", got)
	}
}

func TestDetermineLocale_AcceptLanguageOrder(t *testing.T) {
	got := DetermineLocale("", "en-US,en;q=0.9,ja;q=0.8", []string{"en", "ja"}, "en")
	if got != "en" {
		t.Fatalf("want en, got %s", got)
	}
}

func TestDetermineLocale_AcceptLanguagePrefersHigherQ(t *testing.T) {
	got := DetermineLocale("", "ja;q=0.9,en;q=0.85", []string{"en", "ja"}, "en")
	if got != "ja" {
		t.Fatalf("want ja, got %s", got)
	}
}

func TestDetermineLocale_ZeroQExcluded(t *testing.T) {
	got := DetermineLocale("", "ja;q=0,en;q=0.2", []string{"en", "ja"}, "")
	if got != "en" {
		t.Fatalf("want en, got %s", got)
	}
}

func TestDetermineLocale_DefaultFallback(t *testing.T) {
	got := DetermineLocale("", "fr-FR,es;q=0.9", []string{"en", "de"}, "en")
	if got != "en" {
		t.Fatalf("want en fallback, got %s", got)
	}
}

func TestDetermineLocale_NoPreference(t *testing.T) {
	if got := DetermineLocale("", "fr-FR,*;q=0.1", []string{"en", "de"}, ""); got != "" {
		t.Fatalf("want empty, got %s", got)
	}
	if got := DetermineLocale("", "", nil, ""); got != "" {
		t.Fatalf("want empty, got %s", got)
	}
}
