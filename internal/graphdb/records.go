package graphdb

import (
	"encoding/json"
	"fmt"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/atom"
)

// Node and edge property maps. Neo4j has no map-valued properties, so
// tensor components are stored as a JSON string.

func atomProps(a *atom.Atom) (map[string]any, error) {
	components := ""
	if len(a.TensorComponents) > 0 {
		b, err := json.Marshal(a.TensorComponents)
		if err != nil {
			return nil, fmt.Errorf("atom %s: encode tensor components: %w", a.ID, err)
		}
		components = string(b)
	}
	return map[string]any{
		"id":                 a.ID,
		"atom_type":          string(a.Type),
		"title":              a.Title,
		"summary":            a.Summary,
		"threshold":          int64(a.Threshold),
		"semantic_embedding": a.SemanticEmbedding,
		"tensor_embedding":   a.TensorEmbedding,
		"tensor_components":  components,
		"created_at":         a.CreatedAt,
		"updated_at":         a.UpdatedAt,
	}, nil
}

func atomFromProps(v any) (*atom.Atom, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("atom record is %T, want map", v)
	}
	a := &atom.Atom{
		ID:        str(m, "id"),
		Type:      atom.Type(str(m, "atom_type")),
		Title:     str(m, "title"),
		Summary:   str(m, "summary"),
		Threshold: access.Threshold(integer(m, "threshold")),
		CreatedAt: integer(m, "created_at"),
		UpdatedAt: integer(m, "updated_at"),
	}
	if a.ID == "" {
		return nil, fmt.Errorf("atom record has no id")
	}
	var err error
	if a.SemanticEmbedding, err = floats(m, "semantic_embedding"); err != nil {
		return nil, fmt.Errorf("atom %s: %w", a.ID, err)
	}
	if a.TensorEmbedding, err = floats(m, "tensor_embedding"); err != nil {
		return nil, fmt.Errorf("atom %s: %w", a.ID, err)
	}
	if s := str(m, "tensor_components"); s != "" {
		if err := json.Unmarshal([]byte(s), &a.TensorComponents); err != nil {
			return nil, fmt.Errorf("atom %s: decode tensor components: %w", a.ID, err)
		}
	}
	return a, nil
}

func relationshipProps(r *atom.Relationship) map[string]any {
	return map[string]any{
		"id":                   r.ID,
		"from_id":              r.FromID,
		"to_id":                r.ToID,
		"type":                 string(r.Type),
		"strength":             r.Strength,
		"evidence_description": r.EvidenceDescription,
		"threshold":            int64(r.Threshold),
	}
}

func relationshipFromProps(v any) (atom.Relationship, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return atom.Relationship{}, fmt.Errorf("relationship record is %T, want map", v)
	}
	r := atom.Relationship{
		ID:                  str(m, "id"),
		FromID:              str(m, "from_id"),
		ToID:                str(m, "to_id"),
		Type:                atom.RelationshipType(str(m, "type")),
		Strength:            number(m, "strength"),
		EvidenceDescription: str(m, "evidence_description"),
		Threshold:           access.Threshold(integer(m, "threshold")),
	}
	if err := r.Validate(); err != nil {
		return atom.Relationship{}, err
	}
	return r, nil
}

func evidenceProps(e *atom.Evidence) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"atom_id":     e.AtomID,
		"claim":       e.Claim,
		"level":       int64(e.Level),
		"sample_size": int64(e.SampleSize),
		"source":      e.Source,
		"year":        int64(e.Year),
	}
}

func evidenceFromProps(v any) (atom.Evidence, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return atom.Evidence{}, fmt.Errorf("evidence record is %T, want map", v)
	}
	return atom.Evidence{
		ID:         str(m, "id"),
		AtomID:     str(m, "atom_id"),
		Claim:      str(m, "claim"),
		Level:      atom.EvidenceLevel(integer(m, "level")),
		SampleSize: int(integer(m, "sample_size")),
		Source:     str(m, "source"),
		Year:       int(integer(m, "year")),
	}, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func integer(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func number(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func floats(m map[string]any, key string) ([]float64, error) {
	switch v := m[key].(type) {
	case nil:
		return nil, nil
	case []float64:
		return v, nil
	case []any:
		out := make([]float64, len(v))
		for i, x := range v {
			switch f := x.(type) {
			case float64:
				out[i] = f
			case int64:
				out[i] = float64(f)
			default:
				return nil, fmt.Errorf("%s[%d] is %T, want number", key, i, x)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s is %T, want list", key, v)
	}
}
