package utils

import (
	"fmt"
	"sort"
)

// Server-side strings that end up inside published snapshots or plain-text
// responses. Everything else is localized by the authoring client.
var translations = map[string]map[string]string{
	"en": {
		"health.ok":          "ok",
		"task.display_title": "Task %d: %s",
	},
	"de": {
		"health.ok":          "ok",
		"task.display_title": "Aufgabe %d: %s",
	},
	"ja": {
		"task.display_title": "タスク %d: %s",
	},
	"zh": {
		"health.ok":          "好的",
		"task.display_title": "任务 %d：%s",
	},
}

// T returns the translated string for key in locale, falling back to the
// primary subtag and then English.
func T(locale, key string) string {
	for _, l := range []string{locale, primarySubtag(locale), "en"} {
		if m, ok := translations[l]; ok {
			if v, ok := m[key]; ok {
				return v
			}
		}
	}
	return key
}

// Tf formats the translated template with args.
func Tf(locale, key string, args ...any) string {
	return fmt.Sprintf(T(locale, key), args...)
}

func primarySubtag(locale string) string {
	for i := 0; i < len(locale); i++ {
		if locale[i] == '-' || locale[i] == '_' {
			return locale[:i]
		}
	}
	return locale
}

// Locales lists the locales with server-side strings.
func Locales() []string {
	out := make([]string, 0, len(translations))
	for l := range translations {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
