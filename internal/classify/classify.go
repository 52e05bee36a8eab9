// Package classify decides whether a query is time-sensitive and which
// topic domain it belongs to. Pure rule evaluation over injected data; it
// never fails and always returns a usable signal.
package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// Signal is the classifier's verdict for one query.
type Signal struct {
	TimeSensitive bool
	Domain        Domain
	Reason        string
}

// Classifier evaluates the rule set against query text.
type Classifier struct {
	rules  Rules
	yearRe *regexp.Regexp
}

// New creates a Classifier over the given rules.
func New(rules Rules) *Classifier {
	return &Classifier{
		rules:  rules,
		yearRe: regexp.MustCompile(`\b(19|20)\d{2}\b`),
	}
}

// Classify analyzes text. Two independent time-sensitivity signals are
// OR-combined: always-temporal keyword membership, and the identity/status
// question pattern (interrogative prefix AND role noun). A bare keyword hit
// over-triggers on historical questions, so the identity path additionally
// requires the absence of historical markers.
func (c *Classifier) Classify(text string) Signal {
	lower := strings.ToLower(text)
	var reasons []string

	years := c.extractYears(lower)
	historicalOnly := len(years) > 0 && allAtOrBefore(years, c.rules.CutoffYear) &&
		!containsAny(lower, c.rules.CurrentMarkers)

	timeSensitive := false

	if c.matchesIdentityQuestion(lower) {
		timeSensitive = true
		reasons = append(reasons, "identity/status question")
	}

	if containsAny(lower, c.rules.AlwaysTemporal) && !historicalOnly {
		timeSensitive = true
		reasons = append(reasons, "always-temporal keyword")
	}

	for _, y := range years {
		if y > c.rules.CutoffYear {
			timeSensitive = true
			reasons = append(reasons, "mentions year "+strconv.Itoa(y)+" after cutoff")
			break
		}
	}

	domain := c.classifyDomain(lower)
	if domain != DomainGeneric {
		reasons = append(reasons, "domain "+string(domain))
	}

	reason := "no temporal indicators"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}
	return Signal{TimeSensitive: timeSensitive, Domain: domain, Reason: reason}
}

// IsIdentityQuestion reports whether text asks who currently holds a role.
// Retrieval uses this to exclude low-trust source tiers for such queries.
func (c *Classifier) IsIdentityQuestion(text string) bool {
	return c.matchesIdentityQuestion(strings.ToLower(text))
}

// matchesIdentityQuestion requires both the interrogative prefix and a role
// noun, with historical phrasing suppressing the match. "Who is the current
// president" matches; "who was the president in 1990" does not.
func (c *Classifier) matchesIdentityQuestion(lower string) bool {
	if containsAny(lower, c.rules.HistoricalMarkers) && !containsAny(lower, c.rules.CurrentMarkers) {
		return false
	}
	if years := c.extractYears(lower); len(years) > 0 &&
		allAtOrBefore(years, c.rules.CutoffYear) &&
		!containsAny(lower, c.rules.CurrentMarkers) {
		return false
	}
	return containsAny(lower, c.rules.IdentityPrefixes) && containsAny(lower, c.rules.RoleNouns)
}

// classifyDomain returns the first matching domain in priority order.
func (c *Classifier) classifyDomain(lower string) Domain {
	for _, d := range c.rules.DomainOrder {
		if containsAny(lower, c.rules.DomainVocab[d]) {
			return d
		}
	}
	return DomainGeneric
}

func (c *Classifier) extractYears(text string) []int {
	var years []int
	for _, m := range c.yearRe.FindAllString(text, -1) {
		if y, err := strconv.Atoi(m); err == nil {
			years = append(years, y)
		}
	}
	return years
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func allAtOrBefore(years []int, cutoff int) bool {
	for _, y := range years {
		if y > cutoff {
			return false
		}
	}
	return true
}
