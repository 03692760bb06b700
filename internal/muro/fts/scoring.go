package fts

import "math"

// BM25 tuning constants (spec §4.7), grounded on
// original_source/src/fts/scoring.rs.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// IDF computes the inverse document frequency of a term that appears in
// docFreq of totalDocs documents.
func IDF(totalDocs, docFreq uint64) float64 {
	n := float64(totalDocs)
	nq := float64(docFreq)
	return math.Log((n-nq+0.5)/(nq+0.5) + 1.0)
}

// BM25Score ranks a document against a query's terms. termFreqs[i] is how
// often query term i occurs in the document; docFreqs[i] is how many
// documents contain query term i at all.
func BM25Score(termFreqs []uint32, docLen uint32, avgDocLen float64, totalDocs uint64, docFreqs []uint64) float64 {
	dl := float64(docLen)
	var score float64
	for i, tf := range termFreqs {
		if tf == 0 || i >= len(docFreqs) {
			continue
		}
		tfF := float64(tf)
		idf := IDF(totalDocs, docFreqs[i])
		numerator := tfF * (bm25K1 + 1.0)
		denominator := tfF + bm25K1*(1.0-bm25B+bm25B*dl/avgDocLen)
		score += idf * numerator / denominator
	}
	return score
}
