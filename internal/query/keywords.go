package query

import "strings"

// stopwords is the fixed set dropped by local tokenization.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "do": true, "for": true,
	"from": true, "has": true, "have": true, "how": true, "i": true,
	"in": true, "is": true, "it": true, "its": true, "me": true, "my": true,
	"not": true, "of": true, "on": true, "or": true, "our": true,
	"please": true, "so": true, "that": true, "the": true, "then": true,
	"this": true, "to": true, "use": true, "was": true, "we": true,
	"what": true, "when": true, "where": true, "which": true, "why": true,
	"will": true, "with": true, "you": true, "your": true,
}

// tokenize extracts deduplicated lowercase keywords from free text,
// dropping tokens shorter than 2 characters and stopwords.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_', r == '/':
			return false
		default:
			return true
		}
	})

	seen := make(map[string]bool, len(fields))
	var keywords []string
	for _, tok := range fields {
		tok = strings.Trim(tok, "._-/")
		if len(tok) < 2 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		keywords = append(keywords, tok)
	}
	return keywords
}
