// Package feedback detects explicit user feedback (corrections,
// preferences, meta remarks) with pattern matching, and turns accumulated
// feedback history into retrieval policies.
package feedback

import (
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/scout/internal/storage"
)

// Feedback types. A single message may match several.
const (
	TypeCorrectionFact       = "CORRECTION_FACT"
	TypeCorrectionToolUse    = "CORRECTION_TOOL_USE"
	TypeCorrectionLogic      = "CORRECTION_LOGIC"
	TypePreferenceStyle      = "PREFERENCE_STYLE"
	TypePreferenceCapability = "PREFERENCE_CAPABILITY"
	TypeMetaSystem           = "META_SYSTEM"
)

// Severity levels.
const (
	SeverityMajor    = "major"
	SeverityModerate = "moderate"
	SeverityMinor    = "minor"
)

var (
	correctionFactRes = compileAll(
		`that'?s? (wrong|incorrect|not right|false|inaccurate)`,
		`\b(actually|in fact|truth is),?\s+`,
		`^(no|nope|wrong),?\s+(the |it |that )`,
		`you'?re? (wrong|incorrect|mistaken)`,
		`\b(correction|fix):\s+`,
		`\b(should be|is actually|was actually|correct answer is)\b`,
	)

	correctionToolRes = compileAll(
		`you should (have )?(used?|checked|searched|looked|called)`,
		`(why didn'?t you|you didn'?t|you never)\s+(use|check|search|look|call)`,
		`\b(use|try|check)\s+(the )?(web|internet|search|api|tool)`,
		`(should have|could have)\s+\w+\s+(search|tool|api|wikipedia|coingecko|reddit)`,
		`next time\s+(use|check|try|search|call)`,
		`\b(always|must|need to)\s+(use|check|search|call)\s+\w+\s+(for|when|to)`,
	)

	correctionLogicRes = compileAll(
		`that doesn'?t make sense`,
		`(your |the )?logic is (wrong|flawed|incorrect|bad)`,
		`that'?s? (illogical|contradictory|inconsistent)`,
		`you contradicted yourself`,
	)

	preferenceStyleRes = compileAll(
		`(be more|make it|keep (it |your answers? ))\s*(concise|brief|short|detailed|verbose|simple)`,
		`(use|don'?t use|avoid|prefer)\s+(bullet points|bullets|lists|paragraphs)`,
		`\btoo (long|short|verbose|wordy|terse)\b`,
		`(want|need|prefer)\s+(shorter|longer|simpler|more detailed)`,
	)

	preferenceCapabilityRes = compileAll(
		`\b(don'?t|never|always|must)\s+(use|do|say|mention|include|show)\b`,
		`\bfrom now on\b`,
		`\bin the future\b`,
		`\bkeep in mind\b`,
	)

	metaSystemRes = compileAll(
		`(you'?re?|this system is)\s+(slow|broken|buggy|unreliable)`,
		`\b(bug|error|issue|problem)\s+(with|in)\s+(you|the system)`,
		`\bfeature request\b`,
		`(could|should|would) be (better|improved)`,
	)

	timeSensitivityRes = compileAll(
		`\b(current|latest|live|real-?time)\b`,
		`\b(always|must)\s+\w+\s+(current|fresh|live|latest|up-to-date)`,
		`\b(never|don'?t)\s+\w+\s+(old|stale|cached|outdated)`,
	)

	quotedRe    = regexp.MustCompile(`["'](.+?)["']`)
	factValueRe = regexp.MustCompile(`(?i)\b(?:actually|in fact|truth is|should be|is actually|was actually|correct answer is)[,:]?\s+(.+?)(?:\.|$)`)
)

// toolVocab maps user-facing tool mentions onto fetcher source ids.
var toolVocab = map[string][]string{
	"coingecko":     {"coingecko", "coin gecko", "crypto api"},
	"yahoo_finance": {"yahoo", "stock api", "finance api"},
	"open_meteo":    {"open-meteo", "open meteo", "weather api", "weather service"},
	"thesportsdb":   {"sportsdb", "sports api", "sports database"},
	"wikipedia":     {"wikipedia", "wiki"},
	"wikidata":      {"wikidata"},
	"newsapi":       {"newsapi", "news api"},
	"rss":           {"rss", "news feed"},
	"reddit":        {"reddit"},
	"openlibrary":   {"open library", "openlibrary"},
	"nyt_books":     {"nyt", "new york times"},
}

// Detector classifies user feedback messages.
type Detector struct{}

func NewDetector() *Detector { return &Detector{} }

// Detect reports whether text is feedback about a previous answer and, if
// so, builds the immutable event to append. recentTurns supplies target
// resolution context and should be in chronological order.
func (d *Detector) Detect(text, conversationID string, recentTurns []storage.Turn) (storage.FeedbackEvent, bool) {
	lower := strings.ToLower(text)

	var types []string
	if matchesAny(correctionFactRes, lower) {
		types = append(types, TypeCorrectionFact)
	}
	if matchesAny(correctionToolRes, lower) {
		types = append(types, TypeCorrectionToolUse)
	}
	if matchesAny(correctionLogicRes, lower) {
		types = append(types, TypeCorrectionLogic)
	}
	if matchesAny(preferenceStyleRes, lower) {
		types = append(types, TypePreferenceStyle)
	}
	if matchesAny(preferenceCapabilityRes, lower) {
		types = append(types, TypePreferenceCapability)
	}
	if matchesAny(metaSystemRes, lower) {
		types = append(types, TypeMetaSystem)
	}
	if len(types) == 0 {
		return storage.FeedbackEvent{}, false
	}

	event := storage.FeedbackEvent{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		TargetTurnID:   resolveTarget(text, recentTurns),
		RawText:        text,
		Types:          types,
		Severity:       severity(lower, types),
		TimeNotes:      timeNotes(lower),
	}
	if hasType(types, TypeCorrectionFact) {
		event.CorrectedFact = extractFact(text)
	}
	if hasType(types, TypeCorrectionToolUse) {
		event.PreferredTools = extractTools(lower)
	}
	if hasType(types, TypePreferenceStyle) {
		event.StylePrefs = stylePrefs(lower)
	}
	return event, true
}

func severity(lower string, types []string) string {
	for _, w := range []string{"wrong", "false", "incorrect", "broken", "terrible", "awful"} {
		if strings.Contains(lower, w) {
			return SeverityMajor
		}
	}
	if hasType(types, TypeMetaSystem) {
		return SeverityModerate
	}
	for _, t := range types {
		if strings.HasPrefix(t, "CORRECTION") {
			return SeverityModerate
		}
	}
	return SeverityMinor
}

// resolveTarget picks the turn the feedback refers to. Explicit "that/you
// said" phrasing and the default both point at the last assistant turn;
// quoted text is fuzzy matched against recent assistant turns.
func resolveTarget(text string, turns []storage.Turn) string {
	var assistant []storage.Turn
	for _, t := range turns {
		if t.Role == "assistant" {
			assistant = append(assistant, t)
		}
	}
	if len(assistant) > 5 {
		assistant = assistant[len(assistant)-5:]
	}
	if len(assistant) == 0 {
		return ""
	}

	lower := strings.ToLower(text)
	for _, phrase := range []string{"that's", "that is", "last answer", "your answer", "you said"} {
		if strings.Contains(lower, phrase) {
			return assistant[len(assistant)-1].ID
		}
	}

	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		quote := strings.ToLower(m[1])
		for i := len(assistant) - 1; i >= 0; i-- {
			if strings.Contains(strings.ToLower(assistant[i].Content), quote) {
				return assistant[i].ID
			}
		}
	}
	return assistant[len(assistant)-1].ID
}

func extractFact(text string) string {
	if m := factValueRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func extractTools(lower string) []string {
	ids := make([]string, 0, len(toolVocab))
	for id := range toolVocab {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var tools []string
	for _, id := range ids {
		for _, mention := range toolVocab[id] {
			if strings.Contains(lower, mention) {
				tools = append(tools, id)
				break
			}
		}
	}
	return tools
}

func stylePrefs(lower string) string {
	var prefs []string
	if containsWord(lower, "short", "brief", "concise", "terse") {
		prefs = append(prefs, "prefer shorter responses")
	}
	if containsWord(lower, "detailed", "verbose", "elaborate") {
		prefs = append(prefs, "prefer detailed responses")
	}
	if strings.Contains(lower, "bullet") {
		if strings.Contains(lower, "don't") || strings.Contains(lower, "avoid") {
			prefs = append(prefs, "avoid bullet points")
		} else {
			prefs = append(prefs, "use bullet points")
		}
	}
	if strings.Contains(lower, "simple") {
		prefs = append(prefs, "use simple language")
	}
	return strings.Join(prefs, "; ")
}

func timeNotes(lower string) string {
	if !matchesAny(timeSensitivityRes, lower) {
		return ""
	}
	var notes []string
	if containsWord(lower, "real-time", "live") {
		notes = append(notes, "requires live data")
	}
	if containsWord(lower, "cached", "stale", "outdated", "old") {
		notes = append(notes, "rejects cached data")
	}
	if len(notes) == 0 {
		notes = append(notes, "mentioned time-sensitive data")
	}
	return strings.Join(notes, "; ")
}

func compileAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}

func matchesAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func hasType(types []string, t string) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func containsWord(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
