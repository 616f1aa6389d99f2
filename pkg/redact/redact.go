// Package redact masks secrets in agent output before it leaves the server.
package redact

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Mode represents the redaction mode.
type Mode string

const (
	// ModeOff disables redaction.
	ModeOff Mode = "off"
	// ModeBasic masks assignments, headers, query parameters and well-known
	// token formats.
	ModeBasic Mode = "basic"
	// ModeAggressive also masks high-entropy strings.
	ModeAggressive Mode = "aggressive"

	// Replacement is substituted for every masked value.
	Replacement = "***REDACTED***"

	// minEntropyCandidateLen is the minimum token length considered for entropy-based redaction.
	minEntropyCandidateLen = 20
)

// ParseMode validates a mode name. The empty string selects ModeBasic.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeBasic, nil
	case ModeOff, ModeBasic, ModeAggressive:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown redaction mode %q", s)
	}
}

type rule struct {
	re   *regexp.Regexp
	repl string
}

var (
	headerRule = rule{
		re:   regexp.MustCompile(`(?i)^(\s*)(authorization|proxy-authorization|authentication|x-api-key|x-auth-token|x-github-token|cookie|set-cookie)\s*:\s*\S.*$`),
		repl: "$1$2: " + Replacement,
	}
	assignmentRule = rule{
		re:   regexp.MustCompile(`\b([A-Za-z0-9_]*(?:TOKEN|KEY|SECRET|PASSWORD|PASSWD|APIKEY|AUTHORIZATION))\s*=\s*['"]?[^'"\s]+['"]?`),
		repl: "$1=" + Replacement,
	}
	queryRule = rule{
		re:   regexp.MustCompile(`([?&])(token|key|secret|password|api_key|apikey|access_token|refresh_token|auth_token|authorization)=[^&\s#'"]+`),
		repl: "$1$2=" + Replacement,
	}
	// Known token formats keep their prefix so the kind of secret stays visible.
	prefixRules = []rule{
		{regexp.MustCompile(`\b(gh[pousr]_)[A-Za-z0-9_]{32,36}`), "${1}" + Replacement},
		{regexp.MustCompile(`\b(github_pat_)[A-Za-z0-9_]{40,90}`), "${1}" + Replacement},
		{regexp.MustCompile(`\b(sk_live_|sk_test_)[A-Za-z0-9_]{24,40}`), "${1}" + Replacement},
		{regexp.MustCompile(`\b(sk-ant-|sk-)[A-Za-z0-9_\-]{26,100}`), "${1}" + Replacement},
		{regexp.MustCompile(`\b(hf_)[A-Za-z0-9_]{26,46}`), "${1}" + Replacement},
		{regexp.MustCompile(`\b(AKIA)[A-Z0-9]{16}\b`), "${1}" + Replacement},
		{regexp.MustCompile(`\b(xox[bp]-)[A-Za-z0-9\-]{26,46}`), "${1}" + Replacement},
		{regexp.MustCompile(`\b(ya29\.)[A-Za-z0-9_\-]{46,196}`), "${1}" + Replacement},
	}
	entropyCandidate = regexp.MustCompile(fmt.Sprintf(`\b[A-Za-z0-9_\-\.]{%d,}\b`, minEntropyCandidateLen))
)

// Redactor masks secrets in single lines of text.
type Redactor struct {
	mode  Mode
	rules []rule
}

// New creates a Redactor. customKeys names additional variables whose
// assigned values are masked.
func New(mode Mode, customKeys ...string) *Redactor {
	r := &Redactor{mode: mode}
	if mode == ModeOff {
		return r
	}
	r.rules = append(r.rules, headerRule, assignmentRule, queryRule)
	for _, key := range customKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		r.rules = append(r.rules, rule{
			re:   regexp.MustCompile(`\b(` + regexp.QuoteMeta(key) + `)\s*=\s*['"]?[^'"\s]+['"]?`),
			repl: "$1=" + Replacement,
		})
	}
	r.rules = append(r.rules, prefixRules...)
	return r
}

// Mode returns the redaction mode.
func (r *Redactor) Mode() Mode {
	return r.mode
}

// Line returns line with secrets masked.
func (r *Redactor) Line(line string) string {
	if r == nil || r.mode == ModeOff {
		return line
	}
	for _, rl := range r.rules {
		line = rl.re.ReplaceAllString(line, rl.repl)
	}
	if r.mode == ModeAggressive {
		line = redactHighEntropyStrings(line)
	}
	return line
}

func redactHighEntropyStrings(line string) string {
	for _, match := range entropyCandidate.FindAllString(line, -1) {
		if strings.Contains(match, Replacement) || isLikelyFalsePositive(match) {
			continue
		}
		if isHighEntropy(match) {
			line = strings.ReplaceAll(line, match, Replacement)
		}
	}
	return line
}

// isHighEntropy calculates Shannon entropy of a string to determine if it looks like a secret.
func isHighEntropy(s string) bool {
	if len(s) < minEntropyCandidateLen {
		return false
	}

	freq := make(map[rune]float64)
	for _, ch := range s {
		freq[ch]++
	}

	entropy := 0.0
	for _, count := range freq {
		p := count / float64(len(s))
		entropy -= p * math.Log2(p)
	}

	// Natural language stays below 3.5.
	return entropy > 4.0
}

// isLikelyFalsePositive filters words, identifiers and acronyms.
func isLikelyFalsePositive(s string) bool {
	if s == strings.ToLower(s) && len(s) < 30 {
		return true
	}
	if s == strings.ToUpper(s) && len(s) < 20 {
		return true
	}

	lowerCount := 0
	for _, ch := range s {
		if ch >= 'a' && ch <= 'z' {
			lowerCount++
		}
	}
	return float64(lowerCount)/float64(len(s)) > 0.7
}
