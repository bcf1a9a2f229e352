package atom

import (
	"fmt"
	"strings"

	"github.com/lazypower/dermagraph/internal/access"
)

// RelationshipType names the meaning of a directed edge.
type RelationshipType string

const (
	Enables                RelationshipType = "ENABLES"
	Inhibits               RelationshipType = "INHIBITS"
	PrerequisiteOf         RelationshipType = "PREREQUISITE_OF"
	ConsequenceOf          RelationshipType = "CONSEQUENCE_OF"
	Causes                 RelationshipType = "CAUSES"
	SynergizesWith         RelationshipType = "SYNERGIZES_WITH"
	ConflictsWith          RelationshipType = "CONFLICTS_WITH"
	Caution                RelationshipType = "CAUTION"
	SequenceDependent      RelationshipType = "SEQUENCE_DEPENDENT"
	ConcentrationDependent RelationshipType = "CONCENTRATION_DEPENDENT"
	Neutral                RelationshipType = "NEUTRAL"
	Contains               RelationshipType = "CONTAINS"
	ManufacturedBy         RelationshipType = "MANUFACTURED_BY"
	RegulatedBy            RelationshipType = "REGULATED_BY"
	RelatedTo              RelationshipType = "RELATED_TO"
)

var validRelationshipTypes = map[RelationshipType]bool{
	Enables: true, Inhibits: true, PrerequisiteOf: true, ConsequenceOf: true,
	Causes: true, SynergizesWith: true, ConflictsWith: true, Caution: true,
	SequenceDependent: true, ConcentrationDependent: true, Neutral: true,
	Contains: true, ManufacturedBy: true, RegulatedBy: true, RelatedTo: true,
}

func (t RelationshipType) Valid() bool { return validRelationshipTypes[t] }

// ParseRelationshipType parses a relationship type name, case-insensitive.
func ParseRelationshipType(s string) (RelationshipType, error) {
	t := RelationshipType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid relationship type %q", s)
	}
	return t, nil
}

// Relationship is a directed edge FromID -> ToID.
type Relationship struct {
	ID                  string           `json:"id"`
	FromID              string           `json:"from_atom_id"`
	ToID                string           `json:"to_atom_id"`
	Type                RelationshipType `json:"relationship_type"`
	Strength            float64          `json:"strength"`
	EvidenceDescription string           `json:"evidence_description,omitempty"`
	Threshold           access.Threshold `json:"knowledge_threshold"`
}

// Validate checks identity, type and that strength is within [0,1].
func (r *Relationship) Validate() error {
	if strings.TrimSpace(r.FromID) == "" || strings.TrimSpace(r.ToID) == "" {
		return fmt.Errorf("relationship endpoints required")
	}
	if r.FromID == r.ToID {
		return fmt.Errorf("relationship %s -> %s: self loop", r.FromID, r.ToID)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("relationship %s -> %s: invalid type %q", r.FromID, r.ToID, r.Type)
	}
	if r.Strength < 0 || r.Strength > 1 {
		return fmt.Errorf("relationship %s -> %s: strength %v outside [0,1]", r.FromID, r.ToID, r.Strength)
	}
	if !r.Threshold.Valid() {
		return fmt.Errorf("relationship %s -> %s: invalid knowledge threshold %d", r.FromID, r.ToID, int(r.Threshold))
	}
	return nil
}

// Other returns the endpoint that is not id.
func (r *Relationship) Other(id string) string {
	if r.FromID == id {
		return r.ToID
	}
	return r.FromID
}

// EdgeDirection selects edges relative to one atom.
type EdgeDirection int

const (
	Outbound EdgeDirection = iota + 1
	Inbound
	AnyDirection
)

func (d EdgeDirection) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	case AnyDirection:
		return "any"
	default:
		return fmt.Sprintf("EdgeDirection(%d)", int(d))
	}
}

// Class groups relationship types by their effect on compatibility.
type Class int

const (
	ClassNone Class = iota
	ClassNeutral
	ClassSynergy
	ClassCaution
	ClassConflict
)

// Class returns the compatibility class of t. Types with no compatibility
// meaning map to ClassNone.
func (t RelationshipType) Class() Class {
	switch t {
	case ConflictsWith:
		return ClassConflict
	case Caution, SequenceDependent, ConcentrationDependent:
		return ClassCaution
	case SynergizesWith:
		return ClassSynergy
	case Neutral:
		return ClassNeutral
	default:
		return ClassNone
	}
}
