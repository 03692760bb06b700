// Package fts implements the blinded full-text search index: NFKC+bigram
// tokenization, varint-delta posting lists stored in a btree.BTree keyed by
// HMAC term ids, BM25 ranking, and snippet extraction (spec §4.7). It is
// grounded in original_source/src/fts/{tokenizer,postings,scoring,snippet}.rs,
// translated into the teacher's idiom (plain structs and functions, no
// trait objects) and wired to golang.org/x/text/unicode/norm for the
// normalization step original_source performs with unicode_normalization.
package fts

import "golang.org/x/text/unicode/norm"

// Token is one bigram extracted from a document, with its ordinal position
// and byte offset in the NFKC-normalized text (spec §4.7 "Token").
type Token struct {
	Text       string
	Position   int
	ByteOffset int // UTF-8 byte offset of the bigram's first rune in the normalized text
}

// TokenizeBigram NFKC-normalizes text and emits overlapping 2-rune windows.
// Text shorter than 2 runes yields no tokens.
func TokenizeBigram(text string) []Token {
	normalized := norm.NFKC.String(text)
	runes := []rune(normalized)
	if len(runes) < 2 {
		return nil
	}

	tokens := make([]Token, 0, len(runes)-1)
	offset := 0
	for i := 0; i+1 < len(runes); i++ {
		tokens = append(tokens, Token{
			Text:       string(runes[i : i+2]),
			Position:   i,
			ByteOffset: offset,
		})
		offset += len(string(runes[i]))
	}
	return tokens
}

// TokenizeQuery tokenizes a raw query string the same way as a document,
// returning just the bigram text (spec §4.7 "natural language query").
func TokenizeQuery(query string) []string {
	tokens := TokenizeBigram(query)
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}
