package orchestrator

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/sidecar/pkg/model"
)

// injectionPatterns are page-derived phrasings that try to redirect the
// planner, the prompt-injection hardening spec §4.6 requires the
// Orchestrator to watch for before trusting an observation's content.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all|the) (previous|above) instructions`),
	regexp.MustCompile(`(?i)you are now (in|a) (developer|admin|root|unrestricted) mode`),
	regexp.MustCompile(`(?i)disregard (your|the) (system|prior) prompt`),
	regexp.MustCompile(`(?i)\bsystem\s*:\s*override`),
}

// detectInjectionSignals reports whether obs contains a likely prompt
// injection attempt or a suspicious overlay condition, either of which
// spec §4.6 treats as grounds for an autonomy downgrade and an explicit
// audit event.
func detectInjectionSignals(obs *model.Observation) (bool, string) {
	if obs == nil {
		return false, ""
	}
	for _, sig := range obs.AccessSignals {
		if sig == model.AccessSignalOverlay || sig == model.AccessSignalCaptcha {
			return true, "access_signal:" + string(sig)
		}
	}
	for _, text := range obs.VisibleText {
		for _, pat := range injectionPatterns {
			if pat.MatchString(text) {
				return true, "pattern_match"
			}
		}
	}
	return false, ""
}

// groundingRatioThreshold is the minimum fraction of a document's
// significant words that must also appear in the observation's visible
// text for the document to be considered grounded in what was actually
// observed, rather than invented.
const groundingRatioThreshold = 0.3

// checkGrounding reports whether document is adequately supported by obs,
// and if not, returns an extractive fallback built only from obs's own
// visible text, per spec §4.6: "the output is replaced by an extractive
// fallback derived from the observation."
func checkGrounding(document string, obs *model.Observation) (grounded bool, fallback string) {
	if strings.TrimSpace(document) == "" {
		return false, extractiveFallback(obs)
	}
	if obs == nil || len(obs.VisibleText) == 0 {
		// Nothing to ground against; an empty observation can't refute a
		// document, so there's nothing more conservative to fall back to.
		return true, ""
	}

	corpus := strings.ToLower(strings.Join(obs.VisibleText, " "))
	words := significantWords(document)
	if len(words) == 0 {
		return true, ""
	}
	supported := 0
	for w := range words {
		if strings.Contains(corpus, w) {
			supported++
		}
	}
	ratio := float64(supported) / float64(len(words))
	if ratio >= groundingRatioThreshold {
		return true, ""
	}
	return false, extractiveFallback(obs)
}

// significantWords returns the set of lowercase words in s at least 4
// characters long, a cheap stand-in for a real claim extractor: short
// function words carry no grounding signal either way.
func significantWords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()[]{}")
		if len(w) >= 4 {
			out[w] = true
		}
	}
	return out
}

// extractiveFallback builds a document-shaped answer directly out of the
// observation's own visible text, so an ungrounded model claim is never
// surfaced to the user verbatim.
func extractiveFallback(obs *model.Observation) string {
	if obs == nil || len(obs.VisibleText) == 0 {
		return "The page did not contain enough visible text to summarize."
	}
	const maxSegments = 5
	segs := obs.VisibleText
	if len(segs) > maxSegments {
		segs = segs[:maxSegments]
	}
	return "Observed on the page:\n- " + strings.Join(segs, "\n- ")
}
