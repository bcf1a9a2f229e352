package atom

import (
	"fmt"
	"sort"
	"strings"
)

// EvidenceLevel ranks the strength of a study design. Higher is stronger.
type EvidenceLevel int

const (
	Anecdotal EvidenceLevel = iota + 1
	InVitro
	Animal
	HumanPilot
	HumanControlled
	MetaAnalysis
	GoldStandard
)

var evidenceLevelNames = []string{
	"", "ANECDOTAL", "IN_VITRO", "ANIMAL", "HUMAN_PILOT",
	"HUMAN_CONTROLLED", "META_ANALYSIS", "GOLD_STANDARD",
}

func (l EvidenceLevel) Valid() bool { return l >= Anecdotal && l <= GoldStandard }

func (l EvidenceLevel) String() string {
	if !l.Valid() {
		return fmt.Sprintf("EvidenceLevel(%d)", int(l))
	}
	return evidenceLevelNames[l]
}

func (l EvidenceLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid evidence level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *EvidenceLevel) UnmarshalText(b []byte) error {
	parsed, err := ParseEvidenceLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseEvidenceLevel parses an evidence level name, case-insensitive.
func ParseEvidenceLevel(s string) (EvidenceLevel, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i := int(Anecdotal); i <= int(GoldStandard); i++ {
		if evidenceLevelNames[i] == s {
			return EvidenceLevel(i), nil
		}
	}
	return 0, fmt.Errorf("invalid evidence level %q", s)
}

// Evidence is a claim about an atom and the study backing it.
type Evidence struct {
	ID         string        `json:"id"`
	AtomID     string        `json:"atom_id"`
	Claim      string        `json:"claim"`
	Level      EvidenceLevel `json:"evidence_level"`
	SampleSize int           `json:"sample_size,omitempty"`
	Source     string        `json:"source,omitempty"`
	Year       int           `json:"year,omitempty"`
}

// SortEvidence orders strongest evidence first, then most recent, then id.
func SortEvidence(ev []Evidence) {
	sort.SliceStable(ev, func(i, j int) bool {
		if ev[i].Level != ev[j].Level {
			return ev[i].Level > ev[j].Level
		}
		if ev[i].Year != ev[j].Year {
			return ev[i].Year > ev[j].Year
		}
		return ev[i].ID < ev[j].ID
	})
}
