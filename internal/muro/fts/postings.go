package fts

import "sort"

// Posting is one document's occurrences of a term.
type Posting struct {
	DocID     uint64
	Positions []uint32
}

// PostingList is the per-term postings, kept sorted by DocID (spec §4.7
// "Posting List"), grounded on original_source/src/fts/postings.rs.
type PostingList struct {
	Postings []Posting
}

// NewPostingList returns an empty posting list.
func NewPostingList() *PostingList { return &PostingList{} }

func (pl *PostingList) search(docID uint64) (int, bool) {
	i := sort.Search(len(pl.Postings), func(i int) bool { return pl.Postings[i].DocID >= docID })
	if i < len(pl.Postings) && pl.Postings[i].DocID == docID {
		return i, true
	}
	return i, false
}

// Add records an occurrence of the term in docID at the given positions,
// merging with and deduplicating against any existing entry.
func (pl *PostingList) Add(docID uint64, positions []uint32) {
	idx, found := pl.search(docID)
	if found {
		merged := append(pl.Postings[idx].Positions, positions...)
		sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
		pl.Postings[idx].Positions = dedupUint32(merged)
		return
	}
	pl.Postings = append(pl.Postings, Posting{})
	copy(pl.Postings[idx+1:], pl.Postings[idx:])
	pl.Postings[idx] = Posting{DocID: docID, Positions: positions}
}

func dedupUint32(sorted []uint32) []uint32 {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// Remove drops docID's posting entirely.
func (pl *PostingList) Remove(docID uint64) {
	if idx, found := pl.search(docID); found {
		pl.Postings = append(pl.Postings[:idx], pl.Postings[idx+1:]...)
	}
}

// Get returns docID's posting, if present.
func (pl *PostingList) Get(docID uint64) (Posting, bool) {
	if idx, found := pl.search(docID); found {
		return pl.Postings[idx], true
	}
	return Posting{}, false
}

// DF is the document frequency: how many documents contain this term.
func (pl *PostingList) DF() int { return len(pl.Postings) }

// Merge folds other's postings into pl.
func (pl *PostingList) Merge(other *PostingList) {
	for _, p := range other.Postings {
		pl.Add(p.DocID, append([]uint32(nil), p.Positions...))
	}
}

// EncodeVarint appends val to buf as a LEB128 varint.
func EncodeVarint(buf []byte, val uint64) []byte {
	for {
		b := byte(val & 0x7F)
		val >>= 7
		if val != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if val == 0 {
			return buf
		}
	}
}

// DecodeVarint reads a LEB128 varint from data starting at *offset,
// advancing it. ok is false on truncated or overlong input.
func DecodeVarint(data []byte, offset *int) (val uint64, ok bool) {
	var shift uint
	for {
		if *offset >= len(data) {
			return 0, false
		}
		b := data[*offset]
		*offset++
		val |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return val, true
		}
		shift += 7
		if shift >= 64 {
			return 0, false
		}
	}
}

// Serialize encodes the posting list with delta + varint compression:
// count, then for each posting a delta-encoded doc id, a position count,
// and delta-encoded positions.
func (pl *PostingList) Serialize() []byte {
	buf := EncodeVarint(nil, uint64(len(pl.Postings)))
	var prevDoc uint64
	for _, p := range pl.Postings {
		buf = EncodeVarint(buf, p.DocID-prevDoc)
		prevDoc = p.DocID
		buf = EncodeVarint(buf, uint64(len(p.Positions)))
		var prevPos uint32
		for _, pos := range p.Positions {
			buf = EncodeVarint(buf, uint64(pos-prevPos))
			prevPos = pos
		}
	}
	return buf
}

// DeserializePostingList decodes a buffer produced by Serialize.
func DeserializePostingList(data []byte) (*PostingList, bool) {
	offset := 0
	count, ok := DecodeVarint(data, &offset)
	if !ok {
		return nil, false
	}
	pl := &PostingList{Postings: make([]Posting, 0, count)}
	var prevDoc uint64
	for i := uint64(0); i < count; i++ {
		delta, ok := DecodeVarint(data, &offset)
		if !ok {
			return nil, false
		}
		docID := prevDoc + delta
		prevDoc = docID

		posCount, ok := DecodeVarint(data, &offset)
		if !ok {
			return nil, false
		}
		positions := make([]uint32, 0, posCount)
		var prevPos uint32
		for j := uint64(0); j < posCount; j++ {
			d, ok := DecodeVarint(data, &offset)
			if !ok {
				return nil, false
			}
			pos := prevPos + uint32(d)
			positions = append(positions, pos)
			prevPos = pos
		}
		pl.Postings = append(pl.Postings, Posting{DocID: docID, Positions: positions})
	}
	return pl, true
}
