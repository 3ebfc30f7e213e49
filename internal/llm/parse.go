package llm

// extractBalanced returns the first balanced region of text delimited by
// open/close, or "" when none exists. Delimiters inside JSON string
// literals are ignored so brace characters in model prose or code snippets
// do not unbalance the scan.
func extractBalanced(text string, open, closing byte) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if start >= 0 {
				inString = true
			}
		case open:
			if start < 0 {
				start = i
			}
			depth++
		case closing:
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// extractObject returns the first balanced {...} region of text.
func extractObject(text string) string {
	return extractBalanced(text, '{', '}')
}

// extractArray returns the first balanced [...] region of text.
func extractArray(text string) string {
	return extractBalanced(text, '[', ']')
}
