package fts

import "strings"

// ParseQuery splits a boolean query string ("+required -excluded \"a
// phrase\" ranked") into its three clauses (spec §4.7 "boolean query"):
// must (prefixed '+'), mustNot (prefixed '-'), and rank (everything else,
// used only for BM25 scoring). A double-quoted run is treated as a single
// multi-rune term rather than being split on whitespace.
func ParseQuery(raw string) (must, mustNot, rank []string) {
	for _, tok := range splitQueryTokens(raw) {
		switch {
		case strings.HasPrefix(tok, "+") && len(tok) > 1:
			must = append(must, strings.Trim(tok[1:], `"`))
		case strings.HasPrefix(tok, "-") && len(tok) > 1:
			mustNot = append(mustNot, strings.Trim(tok[1:], `"`))
		default:
			rank = append(rank, strings.Trim(tok, `"`))
		}
	}
	return must, mustNot, rank
}

// splitQueryTokens splits on ASCII spaces (not tabs or other whitespace), keeping a double-quoted phrase
// (with its leading +/- operator, if any) as a single token.
func splitQueryTokens(raw string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, ch := range raw {
		switch {
		case ch == '"':
			inQuote = !inQuote
			cur.WriteRune(ch)
		case ch == ' ' && !inQuote:
			flush()
		default:
			cur.WriteRune(ch)
		}
	}
	flush()
	return tokens
}
