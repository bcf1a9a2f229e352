// Package seed loads a curated YAML dataset of atoms, relationships and
// evidence into the store.
package seed

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/embedding"
)

//go:embed dataset.yaml
var builtin []byte

// Dataset is the on-disk seed format.
type Dataset struct {
	Atoms         []AtomSpec         `yaml:"atoms" validate:"dive"`
	Relationships []RelationshipSpec `yaml:"relationships" validate:"dive"`
}

// AtomSpec describes one atom. Tensor gives named profile components
// directly; when it is empty the profile is derived from Profile text, or
// from the title and summary.
type AtomSpec struct {
	ID        string             `yaml:"id" validate:"required"`
	Type      atom.Type          `yaml:"type" validate:"required"`
	Title     string             `yaml:"title" validate:"required"`
	Summary   string             `yaml:"summary"`
	Threshold access.Threshold   `yaml:"threshold" validate:"required"`
	Tensor    map[string]float64 `yaml:"tensor"`
	Profile   string             `yaml:"profile"`
	Evidence  []EvidenceSpec     `yaml:"evidence" validate:"dive"`
}

type EvidenceSpec struct {
	Claim      string             `yaml:"claim" validate:"required"`
	Level      atom.EvidenceLevel `yaml:"level" validate:"required"`
	SampleSize int                `yaml:"sample_size" validate:"gte=0"`
	Source     string             `yaml:"source"`
	Year       int                `yaml:"year" validate:"omitempty,gte=1900,lte=2100"`
}

// RelationshipSpec describes one directed edge. Threshold defaults to the
// stricter of the two endpoint thresholds.
type RelationshipSpec struct {
	From      string                `yaml:"from" validate:"required"`
	To        string                `yaml:"to" validate:"required,nefield=From"`
	Type      atom.RelationshipType `yaml:"type" validate:"required"`
	Strength  float64               `yaml:"strength" validate:"gte=0,lte=1"`
	Threshold access.Threshold      `yaml:"threshold"`
	Evidence  string                `yaml:"evidence"`
}

// Builtin returns the dataset shipped with the binary.
func Builtin() (*Dataset, error) {
	return Parse(bytes.NewReader(builtin))
}

// LoadFile reads a dataset from path.
func LoadFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

var validate = validator.New()

// Parse decodes and validates a dataset. Unknown fields are rejected.
func Parse(r io.Reader) (*Dataset, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var ds Dataset
	if err := dec.Decode(&ds); err != nil {
		if errors.Is(err, io.EOF) {
			return &ds, nil
		}
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks field ranges, value sets and referential integrity.
func (ds *Dataset) Validate() error {
	if err := validate.Struct(ds); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid dataset: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	ids := make(map[string]access.Threshold, len(ds.Atoms))
	for _, a := range ds.Atoms {
		if _, dup := ids[a.ID]; dup {
			return fmt.Errorf("invalid dataset: duplicate atom %q", a.ID)
		}
		if !a.Type.Valid() {
			return fmt.Errorf("invalid dataset: atom %q: unknown type %q", a.ID, a.Type)
		}
		ids[a.ID] = a.Threshold
	}
	for _, r := range ds.Relationships {
		if _, ok := ids[r.From]; !ok {
			return fmt.Errorf("invalid dataset: relationship %s -> %s: unknown atom %q", r.From, r.To, r.From)
		}
		if _, ok := ids[r.To]; !ok {
			return fmt.Errorf("invalid dataset: relationship %s -> %s: unknown atom %q", r.From, r.To, r.To)
		}
		if !r.Type.Valid() {
			return fmt.Errorf("invalid dataset: relationship %s -> %s: unknown type %q", r.From, r.To, r.Type)
		}
	}
	return nil
}

// Documents returns the text each atom's semantic embedding is built from,
// in dataset order.
func (ds *Dataset) Documents() []string {
	docs := make([]string, len(ds.Atoms))
	for i, a := range ds.Atoms {
		docs[i] = embedding.AtomText(a.Title, a.Summary)
	}
	return docs
}
