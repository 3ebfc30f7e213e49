// Package redact strips credential material from captured session content
// before it is persisted. Prompts, responses, and tool output routinely
// contain pasted .env files, connection strings, and provider tokens; the
// event log and knowledge graph live unencrypted on disk and outlive the
// session, so secrets are cut at the capture boundary.
//
// Detection is pattern-based and intentionally biased toward
// self-identifying token shapes (provider prefixes, PEM armor) to keep
// false positives out of the recalled context.
package redact

import "regexp"

// rule pairs a name with a compiled detection pattern.
type rule struct {
	name    string
	pattern *regexp.Regexp
}

// rules is the fixed detection set, compiled once at init. Ordering
// matters only for overlapping matches: earlier rules win.
var rules = []rule{
	{"aws-access-key", regexp.MustCompile(`\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|ASIA)[A-Z0-9]{16}\b`)},
	{"github-token", regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36}\b`)},
	{"github-pat", regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{22,}\b`)},
	{"gitlab-token", regexp.MustCompile(`\bglpat-[A-Za-z0-9\-]{20,}\b`)},
	{"slack-token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`)},
	{"stripe-key", regexp.MustCompile(`\b(?:sk|pk|rk)_(?:live|test)_[A-Za-z0-9]{24,}\b`)},
	{"anthropic-key", regexp.MustCompile(`\bsk-ant-[A-Za-z0-9\-_]{24,}\b`)},
	{"openai-key", regexp.MustCompile(`\bsk-[A-Za-z0-9]{48}\b`)},
	{"google-api-key", regexp.MustCompile(`\bAIza[A-Za-z0-9_\-]{35}\b`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{8,}\.eyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]+\b`)},
	{"private-key", regexp.MustCompile(`-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----(?s:.*?)(?:-----END (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----|\z)`)},
	{"database-url", regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:/\s]+:[^@\s]+@\S+`)},
	{"assignment", regexp.MustCompile(`(?i)\b(?:api[_-]?key|auth[_-]?token|secret[_-]?key|access[_-]?token|password|passwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`)},
}

// String redacts all detected secrets in s. Each match is replaced with a
// placeholder naming the rule so a recalled observation still says what
// kind of value stood there. Returns s unchanged when nothing matched.
func String(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		if !r.pattern.MatchString(s) {
			continue
		}
		s = r.pattern.ReplaceAllString(s, "[REDACTED:"+r.name+"]")
	}
	return s
}

// Detected reports whether s contains at least one recognizable secret.
func Detected(s string) bool {
	for _, r := range rules {
		if r.pattern.MatchString(s) {
			return true
		}
	}
	return false
}
