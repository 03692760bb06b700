package fts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/murodb/murodb/internal/muro/btree"
)

// pageSource/writableSource mirror btree's own interfaces so this package
// doesn't need to import package store.
type pageSource interface {
	ReadPage(id uint64) ([]byte, error)
}

type writableSource interface {
	pageSource
	WritePage(id uint64, data []byte)
	AllocatePage() uint64
}

// Index is the blinded full-text search index: a postings tree keyed by
// HMAC(term) rather than the term itself, so an attacker who gains read
// access to the page cache (but not the key) cannot learn the vocabulary
// (spec §4.7 "blinded"), plus a small per-document length tree used for
// BM25's length normalization. Package crypto has no HMAC helper of its
// own — its AEAD envelope is for whole pages/frames, not for blinding
// short strings — so this uses crypto/hmac and crypto/sha256 directly; no
// library in the example pack offers a blinded-index primitive to wire in
// here instead.
type Index struct {
	postings *btree.BTree
	stats    *btree.BTree
	hmacKey  []byte
}

// Create allocates empty postings and stats trees for a new index.
func Create(tx writableSource, hmacKey []byte) (*Index, error) {
	postings, err := btree.Create(tx)
	if err != nil {
		return nil, err
	}
	stats, err := btree.Create(tx)
	if err != nil {
		return nil, err
	}
	return &Index{postings: postings, stats: stats, hmacKey: hmacKey}, nil
}

// Open wraps an existing index from its two root page ids.
func Open(postingsRoot, statsRoot uint64, hmacKey []byte) *Index {
	return &Index{
		postings: btree.Open(postingsRoot),
		stats:    btree.Open(statsRoot),
		hmacKey:  hmacKey,
	}
}

// PostingsRoot and StatsRoot return the index's two tree roots, for the
// caller (the catalog's IndexDef) to persist.
func (ix *Index) PostingsRoot() uint64 { return ix.postings.Root() }
func (ix *Index) StatsRoot() uint64    { return ix.stats.Root() }

func (ix *Index) termID(term string) []byte {
	mac := hmac.New(sha256.New, ix.hmacKey)
	mac.Write([]byte(term))
	return mac.Sum(nil)
}

func (ix *Index) loadPostings(src pageSource, termKey []byte) (*PostingList, error) {
	buf, found, err := ix.postings.Search(src, termKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return NewPostingList(), nil
	}
	pl, ok := DeserializePostingList(buf)
	if !ok {
		return NewPostingList(), nil
	}
	return pl, nil
}

func docIDKey(docID uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, docID)
	return buf
}

func (ix *Index) docLen(src pageSource, docID uint64) (uint32, bool, error) {
	buf, found, err := ix.stats.Search(src, docIDKey(docID))
	if err != nil || !found {
		return 0, found, err
	}
	return binary.LittleEndian.Uint32(buf), true, nil
}

func (ix *Index) setDocLen(tx writableSource, docID uint64, length uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, length)
	return ix.stats.Insert(tx, docIDKey(docID), buf)
}

// IndexDocument tokenizes text into bigrams and merges each bigram's
// occurrence into its posting list, then records the document's token
// count for BM25 length normalization.
func (ix *Index) IndexDocument(tx writableSource, docID uint64, text string) error {
	tokens := TokenizeBigram(text)
	byTerm := map[string][]uint32{}
	for _, t := range tokens {
		byTerm[t.Text] = append(byTerm[t.Text], uint32(t.Position))
	}
	for term, positions := range byTerm {
		key := ix.termID(term)
		pl, err := ix.loadPostings(tx, key)
		if err != nil {
			return err
		}
		pl.Add(docID, positions)
		if err := ix.postings.Insert(tx, key, pl.Serialize()); err != nil {
			return err
		}
	}
	return ix.setDocLen(tx, docID, uint32(len(tokens)))
}

// RemoveDocument removes docID's occurrences given the same text it was
// indexed with (the index stores no plaintext to re-derive its terms from).
func (ix *Index) RemoveDocument(tx writableSource, docID uint64, text string) error {
	tokens := TokenizeBigram(text)
	seen := map[string]bool{}
	for _, t := range tokens {
		if seen[t.Text] {
			continue
		}
		seen[t.Text] = true
		key := ix.termID(t.Text)
		pl, err := ix.loadPostings(tx, key)
		if err != nil {
			return err
		}
		pl.Remove(docID)
		if pl.DF() == 0 {
			if _, err := ix.postings.Delete(tx, key); err != nil {
				return err
			}
			continue
		}
		if err := ix.postings.Insert(tx, key, pl.Serialize()); err != nil {
			return err
		}
	}
	if _, err := ix.stats.Delete(tx, docIDKey(docID)); err != nil {
		return err
	}
	return nil
}

// corpusStats scans the stats tree for the total document count and
// average document length BM25 needs. This is a full scan rather than a
// maintained running total, which is the simplest correct approach for
// this core's scale; a hot path would cache it instead.
func (ix *Index) corpusStats(src pageSource) (totalDocs uint64, avgLen float64, err error) {
	var sum uint64
	err = ix.stats.Scan(src, func(key, value []byte) error {
		totalDocs++
		sum += uint64(binary.LittleEndian.Uint32(value))
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if totalDocs == 0 {
		return 0, 0, nil
	}
	return totalDocs, float64(sum) / float64(totalDocs), nil
}

// ScoredDoc is one ranked search result.
type ScoredDoc struct {
	DocID uint64
	Score float64
}

// Search executes raw against the index: a boolean query ("+required
// -excluded \"phrase\"") filters the candidate set, and the remaining
// (non-prefixed) terms rank the survivors by BM25 (spec §4.7 "Query").
func (ix *Index) Search(src pageSource, raw string, limit int) ([]ScoredDoc, error) {
	must, mustNot, rank := ParseQuery(raw)

	var candidate map[uint64]bool
	haveCandidate := false
	for _, term := range must {
		docs, err := ix.docsContainingTerm(src, term)
		if err != nil {
			return nil, err
		}
		candidate = intersectDocSets(candidate, docs, haveCandidate)
		haveCandidate = true
	}

	rankTerms := rank
	if len(rankTerms) == 0 {
		rankTerms = must
	}

	if !haveCandidate {
		// Without required terms, any document sharing a bigram with the
		// rank terms is a candidate.
		candidate = map[uint64]bool{}
		for _, term := range uniqueBigrams(rankTerms) {
			docs, err := ix.docsContainingTerm(src, term)
			if err != nil {
				return nil, err
			}
			for id := range docs {
				candidate[id] = true
			}
		}
	}

	for _, term := range mustNot {
		docs, err := ix.docsContainingTerm(src, term)
		if err != nil {
			return nil, err
		}
		for id := range docs {
			delete(candidate, id)
		}
	}

	totalDocs, avgLen, err := ix.corpusStats(src)
	if err != nil {
		return nil, err
	}

	// BM25 scores per indexed unit, and the index stores postings per
	// bigram (IndexDocument), not per whole query string — so a rank term
	// longer than one bigram (e.g. a 3+ rune word) must itself be
	// decomposed into bigrams before its frequencies mean anything; the
	// same decomposition docsContainingTerm already applies for boolean
	// filtering (spec §4.7 "tokenize the query to bigrams").
	bigramTerms := uniqueBigrams(rankTerms)

	postingsByTerm := make([]*PostingList, len(bigramTerms))
	docFreqs := make([]uint64, len(bigramTerms))
	for i, bg := range bigramTerms {
		key := ix.termID(bg)
		pl, err := ix.loadPostings(src, key)
		if err != nil {
			return nil, err
		}
		postingsByTerm[i] = pl
		docFreqs[i] = uint64(pl.DF())
	}

	results := make([]ScoredDoc, 0, len(candidate))
	for docID := range candidate {
		length, _, err := ix.docLen(src, docID)
		if err != nil {
			return nil, err
		}
		termFreqs := make([]uint32, len(bigramTerms))
		for i, pl := range postingsByTerm {
			if p, ok := pl.Get(docID); ok {
				termFreqs[i] = uint32(len(p.Positions))
			}
		}
		score := BM25Score(termFreqs, length, avgLen, totalDocs, docFreqs)
		results = append(results, ScoredDoc{DocID: docID, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// uniqueBigrams tokenizes every term into bigrams and returns the distinct
// bigrams across all of them, in first-seen order, so BM25 scores each
// indexed unit once even when a rank term repeats a bigram or two rank
// terms share one.
func uniqueBigrams(terms []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, term := range terms {
		for _, bg := range TokenizeQuery(term) {
			if !seen[bg] {
				seen[bg] = true
				out = append(out, bg)
			}
		}
	}
	return out
}

// docsContainingTerm returns the set of document ids where term occurs
// verbatim: every constituent bigram's posting list contains the document,
// and (for terms spanning more than one bigram) their stored positions are
// successive — position p of bigram i is followed by some position p+1 of
// bigram i+1 — which is exactly the adjacency spec §4.7 requires for a
// "phrase" to match, verified from the positions postings already carry
// without ever consulting plaintext.
func (ix *Index) docsContainingTerm(src pageSource, term string) (map[uint64]bool, error) {
	bigrams := TokenizeQuery(term)
	if len(bigrams) == 0 {
		return map[uint64]bool{}, nil
	}
	lists := make([]*PostingList, len(bigrams))
	for i, bg := range bigrams {
		pl, err := ix.loadPostings(src, ix.termID(bg))
		if err != nil {
			return nil, err
		}
		lists[i] = pl
	}

	var candidate map[uint64]bool
	for i, pl := range lists {
		set := make(map[uint64]bool, pl.DF())
		for _, p := range pl.Postings {
			set[p.DocID] = true
		}
		candidate = intersectDocSets(candidate, set, i > 0)
	}

	result := make(map[uint64]bool, len(candidate))
	for docID := range candidate {
		if bigramsAreSuccessive(lists, docID) {
			result[docID] = true
		}
	}
	return result, nil
}

// bigramsAreSuccessive reports whether docID has a run of positions
// p, p+1, p+2, ... covering lists[0], lists[1], lists[2], ... in order —
// i.e. the multi-bigram string the lists were tokenized from actually
// occurs contiguously in docID, not just its bigrams somewhere in it.
func bigramsAreSuccessive(lists []*PostingList, docID uint64) bool {
	first, ok := lists[0].Get(docID)
	if !ok {
		return false
	}
	live := make(map[uint32]bool, len(first.Positions))
	for _, p := range first.Positions {
		live[p] = true
	}
	for i := 1; i < len(lists); i++ {
		posting, ok := lists[i].Get(docID)
		if !ok {
			return false
		}
		at := make(map[uint32]bool, len(posting.Positions))
		for _, p := range posting.Positions {
			at[p] = true
		}
		next := make(map[uint32]bool)
		for p := range live {
			if at[p+1] {
				next[p+1] = true
			}
		}
		if len(next) == 0 {
			return false
		}
		live = next
	}
	return len(live) > 0
}

func intersectDocSets(existing, next map[uint64]bool, hasExisting bool) map[uint64]bool {
	if !hasExisting {
		return next
	}
	out := make(map[uint64]bool)
	for id := range existing {
		if next[id] {
			out[id] = true
		}
	}
	return out
}
