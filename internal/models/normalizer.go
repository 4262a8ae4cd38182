package models

import (
	"strings"
)

// Normalize applies field normalization to an Event
// - replaces characters the agent rejects in check names
// - trims Source and Output
// - drops blank handler names
func (e *Event) Normalize() {
	e.Name = SanitizeName(strings.TrimSpace(e.Name))
	e.Source = strings.TrimSpace(e.Source)
	e.Output = strings.TrimRight(e.Output, " \t\r\n")

	if e.Handlers == nil {
		e.Handlers = []string{}
		return
	}

	handlers := e.Handlers[:0]
	for _, h := range e.Handlers {
		if h = strings.TrimSpace(h); h != "" {
			handlers = append(handlers, h)
		}
	}
	e.Handlers = handlers
}

// SanitizeName maps every character outside [A-Za-z0-9_.-] to '_'
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
