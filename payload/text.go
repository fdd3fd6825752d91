package payload

import (
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// tokenize lowercases and splits on whitespace/punctuation. It is
// deliberately simple: token membership, not full-text relevance ranking.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

func (ix *Index) addText(field, value string, id uint32) {
	vals, ok := ix.text[field]
	if !ok {
		vals = make(map[string]*roaring.Bitmap)
		ix.text[field] = vals
	}
	for _, tok := range tokenize(value) {
		bm, ok := vals[tok]
		if !ok {
			bm = roaring.New()
			vals[tok] = bm
		}
		bm.Add(id)
	}
}

// matchText intersects the postings of every token in query: a document
// matches only if it carries all of them. A query with no tokens, or any
// token with no postings, matches nothing.
func (ix *Index) matchText(field, query string) *roaring.Bitmap {
	vals, ok := ix.text[field]
	if !ok {
		return roaring.New()
	}
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return roaring.New()
	}
	var out *roaring.Bitmap
	for _, tok := range tokens {
		bm, ok := vals[tok]
		if !ok {
			return roaring.New()
		}
		if out == nil {
			out = bm.Clone()
		} else {
			out.And(bm)
		}
	}
	return out
}
