// Package qrmatch decides whether decoded QR text identifies a poster.
package qrmatch

import (
	"sort"
	"strings"
)

// Target is the identity a payload is compared against.
type Target struct {
	ID           uint
	Code         string
	CanonicalURL string
}

// Normalize lowercases text and strips one trailing slash.
func Normalize(text string) string {
	return strings.TrimSuffix(strings.ToLower(text), "/")
}

// Matches reports whether text is the target's canonical URL or contains its code.
func Matches(text string, target Target) bool {
	normalized := Normalize(text)
	if target.CanonicalURL != "" && normalized == Normalize(target.CanonicalURL) {
		return true
	}
	code := strings.ToLower(target.Code)
	return code != "" && strings.Contains(normalized, code)
}

// Match pairs the winning payload with the target it identified.
type Match struct {
	Payload string
	Target  Target
}

// FirstMatch tries payloads in decode order against targets in ascending id
// order. The first payload that matches any target wins.
func FirstMatch(payloads []string, targets []Target) (Match, bool) {
	ordered := make([]Target, len(targets))
	copy(ordered, targets)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for _, payload := range payloads {
		for _, target := range ordered {
			if Matches(payload, target) {
				return Match{Payload: payload, Target: target}, true
			}
		}
	}
	return Match{}, false
}

// AnyMatches reports whether any payload identifies the target.
func AnyMatches(payloads []string, target Target) (string, bool) {
	for _, payload := range payloads {
		if Matches(payload, target) {
			return payload, true
		}
	}
	return "", false
}
