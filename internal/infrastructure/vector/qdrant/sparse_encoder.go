package qdrant

import (
	"hash/fnv"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// sparseVector is the Qdrant wire shape of a named sparse vector.
type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	// saturation is the BM25 k1 applied to query term frequencies.
	saturation     = 1.2
	maxSparseTerms = 256
)

// italianStopwords are dropped from keyword queries. The evidence indexer applies
// the same list, so term ids line up on both sides.
var italianStopwords = map[string]struct{}{
	"il": {}, "lo": {}, "la": {}, "i": {}, "gli": {}, "le": {}, "un": {}, "uno": {}, "una": {},
	"di": {}, "a": {}, "da": {}, "in": {}, "con": {}, "su": {}, "per": {}, "tra": {}, "fra": {},
	"del": {}, "dello": {}, "della": {}, "dei": {}, "degli": {}, "delle": {},
	"al": {}, "allo": {}, "alla": {}, "ai": {}, "agli": {}, "alle": {},
	"nel": {}, "nello": {}, "nella": {}, "nei": {}, "negli": {}, "nelle": {},
	"e": {}, "o": {}, "ed": {}, "che": {}, "non": {}, "si": {}, "è": {},
}

// encodeSparseQuery turns free text into a BM25-weighted sparse query vector.
// Indices are FNV-1a hashes of the normalized terms, sorted ascending.
func encodeSparseQuery(query string) sparseVector {
	tf := map[uint32]float64{}
	for _, term := range queryTerms(query) {
		tf[termID(term)]++
	}
	if len(tf) == 0 {
		return sparseVector{}
	}

	ids := make([]uint32, 0, len(tf))
	for id := range tf {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ids = ids[:min(len(ids), maxSparseTerms)]

	out := sparseVector{Indices: ids, Values: make([]float32, len(ids))}
	for i, id := range ids {
		f := tf[id]
		out.Values[i] = float32(f * (saturation + 1) / (f + saturation))
	}
	return out
}

// termID never returns 0, which the indexer reserves.
func termID(term string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	if id := h.Sum32(); id != 0 {
		return id
	}
	return 1
}

// queryTerms lowercases s, splits it on anything that is not a letter or digit,
// strips elided articles (dell'avviso -> avviso) and drops stopwords.
func queryTerms(s string) []string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !isApostrophe(r)
	})
	terms := words[:0]
	for _, w := range words {
		if i := strings.LastIndexFunc(w, isApostrophe); i >= 0 {
			_, size := utf8.DecodeRuneInString(w[i:])
			w = w[i+size:]
		}
		if w == "" {
			continue
		}
		if _, stop := italianStopwords[w]; stop {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

func isApostrophe(r rune) bool { return r == '\'' || r == '’' }
