// Package severity decides whether an alert batch warrants escalation.
package severity

import (
	"regexp"
	"strings"

	"safewatch/internal/models"
)

// keywords mark an alert as severe when found in its title or body
var keywords = []string{"breach", "unsafe", "issue", "warning"}

var severePattern = regexp.MustCompile(`(?i)` + strings.Join(keywords, "|"))

// Keywords returns a copy of the words that make an alert severe
func Keywords() []string {
	return append([]string(nil), keywords...)
}

// IsSevere reports whether any alert in batch mentions one of Keywords,
// case-insensitively, in its title or body.
func IsSevere(batch models.AlertBatch) bool {
	for _, a := range batch {
		if severePattern.MatchString(a.Title + " " + a.Body) {
			return true
		}
	}
	return false
}
