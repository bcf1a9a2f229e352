package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
)

// TFIDF generates TF-IDF bag-of-words embeddings over a vocabulary learned
// from the atom corpus. The vector always has exactly the configured number
// of dimensions; unused trailing slots stay zero when the corpus is small.
type TFIDF struct {
	vocab []string
	index map[string]int
	idf   map[string]float64
	dims  int

	// fingerprint identifies the fitted vocabulary; refits over a different
	// corpus get a different model name.
	fingerprint string
}

// NewTFIDF builds the vocabulary from docs: the dims terms with the highest
// document frequency, ties broken alphabetically so the layout is stable
// across runs over the same corpus.
func NewTFIDF(docs []string, dims int) (*TFIDF, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("tfidf: dimensions must be positive, got %d", dims)
	}

	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, term := range tokenize(doc) {
			if !seen[term] {
				df[term]++
				seen[term] = true
			}
		}
	}

	type termFreq struct {
		term string
		freq int
	}
	terms := make([]termFreq, 0, len(df))
	for t, f := range df {
		terms = append(terms, termFreq{t, f})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].freq != terms[j].freq {
			return terms[i].freq > terms[j].freq
		}
		return terms[i].term < terms[j].term
	})
	if len(terms) > dims {
		terms = terms[:dims]
	}

	numDocs := float64(len(docs))
	if numDocs == 0 {
		numDocs = 1
	}
	t := &TFIDF{
		vocab: make([]string, len(terms)),
		index: make(map[string]int, len(terms)),
		idf:   make(map[string]float64, len(terms)),
		dims:  dims,
	}
	for i, tf := range terms {
		t.vocab[i] = tf.term
		t.index[tf.term] = i
		// smoothed
		t.idf[tf.term] = math.Log(numDocs/float64(tf.freq)) + 1.0
	}
	t.fingerprint = vocabularyFingerprint(t.vocab, t.idf)
	return t, nil
}

func vocabularyFingerprint(vocab []string, idf map[string]float64) string {
	h := sha256.New()
	var buf [8]byte
	for _, term := range vocab {
		h.Write([]byte(term))
		h.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(idf[term]))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func (t *TFIDF) Model() string   { return fmt.Sprintf("tfidf-%d-%s", t.dims, t.fingerprint) }
func (t *TFIDF) Dimensions() int { return t.dims }

// VocabularySize is the number of learned terms, at most Dimensions().
func (t *TFIDF) VocabularySize() int { return len(t.vocab) }

// Embed generates a normalized TF-IDF vector for the given text.
func (t *TFIDF) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, t.dims)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}

	tf := make(map[string]int)
	maxTF := 0
	for _, tok := range tokens {
		tf[tok]++
		if tf[tok] > maxTF {
			maxTF = tf[tok]
		}
	}

	for term, count := range tf {
		i, ok := t.index[term]
		if !ok {
			continue
		}
		// augmented TF keeps long summaries from dominating
		augTF := 0.5 + 0.5*float64(count)/float64(maxTF)
		vec[i] = augTF * t.idf[term]
	}

	normalize(vec)
	return vec, nil
}
