package fts

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Snippet extracts a context window around the first match of query inside
// text, wrapping the match in preTag/postTag, falling back to a leading
// truncation when nothing matches (spec §4.7 "Snippet"), grounded on
// original_source/src/fts/snippet.rs.
func Snippet(text, query, preTag, postTag string, contextChars int) string {
	normText := norm.NFKC.String(text)
	normQuery := norm.NFKC.String(query)

	clean := cleanQueryString(normQuery)
	if clean == "" {
		return truncateText(normText, contextChars*2)
	}

	if pos := strings.Index(normText, clean); pos >= 0 {
		return buildSnippet(normText, pos, len(clean), preTag, postTag, contextChars)
	}

	cleanRunes := []rune(clean)
	if len(cleanRunes) >= 2 {
		firstBigram := string(cleanRunes[:2])
		if pos := strings.Index(normText, firstBigram); pos >= 0 {
			matchLen := len(firstBigram)
			for end := len(cleanRunes); end >= 3; end-- {
				substr := string(cleanRunes[:end])
				if strings.HasPrefix(normText[pos:], substr) {
					matchLen = len(substr)
					break
				}
			}
			return buildSnippet(normText, pos, matchLen, preTag, postTag, contextChars)
		}
	}

	return truncateText(normText, contextChars*2)
}

func buildSnippet(text string, matchStartByte, matchLenBytes int, preTag, postTag string, contextChars int) string {
	runes := []rune(text)

	charStart := 0
	byteCount := 0
	for i, r := range runes {
		if byteCount >= matchStartByte {
			charStart = i
			break
		}
		byteCount += len(string(r))
		charStart = i + 1
	}

	charEnd := charStart
	byteCount = 0
	for i, r := range runes[charStart:] {
		byteCount += len(string(r))
		if byteCount >= matchLenBytes {
			charEnd = charStart + i + 1
			break
		}
	}

	snippetStart := charStart - contextChars
	if snippetStart < 0 {
		snippetStart = 0
	}
	snippetEnd := charEnd + contextChars
	if snippetEnd > len(runes) {
		snippetEnd = len(runes)
	}

	var b strings.Builder
	if snippetStart > 0 {
		b.WriteString("...")
	}
	b.WriteString(string(runes[snippetStart:charStart]))
	b.WriteString(preTag)
	b.WriteString(string(runes[charStart:charEnd]))
	b.WriteString(postTag)
	b.WriteString(string(runes[charEnd:snippetEnd]))
	if snippetEnd < len(runes) {
		b.WriteString("...")
	}
	return b.String()
}

// cleanQueryString strips boolean-query syntax ("+term -term \"phrase\"")
// down to plain text, for use as a literal snippet search string.
func cleanQueryString(query string) string {
	var b strings.Builder
	inQuote := false
	atTermStart := true

	for _, ch := range query {
		switch {
		case ch == '"':
			inQuote = !inQuote
		case (ch == '+' || ch == '-') && !inQuote && atTermStart:
			// drop boolean operator at the start of a term
		case ch == ' ':
			s := b.String()
			if s != "" && !strings.HasSuffix(s, " ") {
				b.WriteByte(' ')
			}
			atTermStart = true
		default:
			b.WriteRune(ch)
			atTermStart = false
		}
	}
	return strings.TrimSpace(b.String())
}

func truncateText(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + "..."
}
