package contextpack

import "regexp"

// credentialLike flags substrings that look like a password, API key, or
// bearer token so they never make it into a model prompt even if an
// upstream component forgot to redact them first. This is a second,
// defensive screen in addition to the Observation's own redaction (spec
// §4.4: "re-screened for sensitive content before inclusion").
var credentialLike = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bpassword\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)\bapi[_-]?key\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._-]+`),
	regexp.MustCompile(`(?i)\bauthorization\s*[:=]\s*\S+`),
}

const redactedPlaceholder = "[redacted]"

// ScreenText replaces any credential-looking substring in s with a fixed
// placeholder. It never lengthens s beyond a trivial constant factor, so
// it cannot itself blow a tight token budget.
func ScreenText(s string) string {
	for _, re := range credentialLike {
		s = re.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// ScreenAll applies ScreenText to every item and returns the results in a
// new slice; items itself is left unchanged.
func ScreenAll(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = ScreenText(s)
	}
	return out
}
