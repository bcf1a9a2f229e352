package tensor

import (
	"context"
	"strings"
	"unicode"
)

// Encoder turns free text into a tensor-space query vector.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float64, error)
}

// Cue is the profile value a lexicon term implies for one component.
type Cue struct {
	Component string
	Value     float64
}

// Baseline is the value of a component the query text says nothing about.
const Baseline = 0.5

// DefaultLexicon maps query terms onto DefaultComponents.
var DefaultLexicon = map[string][]Cue{
	"hydrating":        {{"hydration_index", 1}},
	"hydration":        {{"hydration_index", 1}},
	"moisturizing":     {{"hydration_index", 0.9}, {"barrier_repair", 0.7}},
	"humectant":        {{"hydration_index", 1}},
	"dry":              {{"hydration_index", 0.9}, {"barrier_repair", 0.8}},
	"barrier":          {{"barrier_repair", 1}},
	"repair":           {{"barrier_repair", 0.9}},
	"ceramide":         {{"barrier_repair", 1}},
	"sensitive":        {{"sensitivity_risk", 0}, {"irritation_potential", 0}},
	"gentle":           {{"irritation_potential", 0.1}, {"sensitivity_risk", 0.1}},
	"soothing":         {{"irritation_potential", 0}, {"barrier_repair", 0.7}},
	"calming":          {{"irritation_potential", 0}},
	"exfoliating":      {{"exfoliation_strength", 1}},
	"exfoliant":        {{"exfoliation_strength", 1}},
	"peel":             {{"exfoliation_strength", 1}, {"irritation_potential", 0.7}},
	"aha":              {{"exfoliation_strength", 0.9}, {"ph_dependency", 0.9}},
	"bha":              {{"exfoliation_strength", 0.8}, {"ph_dependency", 0.8}},
	"acid":             {{"exfoliation_strength", 0.7}, {"ph_dependency", 0.8}},
	"antioxidant":      {{"antioxidant_capacity", 1}},
	"vitamin":          {{"antioxidant_capacity", 0.8}},
	"brightening":      {{"antioxidant_capacity", 0.8}},
	"non-comedogenic":  {{"comedogenicity", 0}},
	"acne":             {{"comedogenicity", 0}, {"exfoliation_strength", 0.6}},
	"oily":             {{"comedogenicity", 0.1}},
	"sunscreen":        {{"photosensitivity", 0}},
	"spf":              {{"photosensitivity", 0}},
	"retinoid":         {{"photosensitivity", 0.9}, {"irritation_potential", 0.7}},
	"retinol":          {{"photosensitivity", 0.8}, {"irritation_potential", 0.6}},
	"stable":           {{"formulation_stability", 1}},
	"stabilized":       {{"formulation_stability", 1}},
	"serum":            {{"hydration_index", 0.6}},
	"ph":               {{"ph_dependency", 1}},
}

// LexiconEncoder projects text onto the schema through keyword cues. When
// several terms cue the same component their values are averaged.
type LexiconEncoder struct {
	schema  *Schema
	lexicon map[string][]Cue
}

// NewLexiconEncoder drops cues whose component is not in schema.
func NewLexiconEncoder(schema *Schema, lexicon map[string][]Cue) *LexiconEncoder {
	filtered := make(map[string][]Cue, len(lexicon))
	for term, cues := range lexicon {
		for _, c := range cues {
			if schema.Has(c.Component) {
				filtered[strings.ToLower(term)] = append(filtered[strings.ToLower(term)], c)
			}
		}
	}
	return &LexiconEncoder{schema: schema, lexicon: filtered}
}

// Encode never fails; ctx is accepted for interface symmetry with remote
// encoders.
func (e *LexiconEncoder) Encode(_ context.Context, text string) ([]float64, error) {
	dim := e.schema.Dim()
	sums := make([]float64, dim)
	counts := make([]int, dim)

	for _, term := range terms(text) {
		for _, c := range e.lexicon[term] {
			i, _ := e.schema.Index(c.Component)
			sums[i] += c.Value
			counts[i]++
		}
	}

	vec := make([]float64, dim)
	for i := range vec {
		if counts[i] == 0 {
			vec[i] = Baseline
			continue
		}
		vec[i] = sums[i] / float64(counts[i])
	}
	return vec, nil
}

func terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}
