// Package extract turns chunk text into validated entities and
// relationships. The provider contract is strict JSON; anything that does
// not parse or validate is a failed extraction, never a silent partial
// result, so the chunk ledger can retry it.
package extract

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Caps on a single chunk's output. Providers occasionally ramble; output
// beyond the cap fails validation rather than being silently truncated.
const (
	MaxEntities      = 25
	MaxRelationships = 30
)

var entityTypes = []interface{}{
	"PERSON", "ORGANIZATION", "FINANCIAL", "GOVERNANCE",
	"RISK", "CONCEPT", "EVENT", "OTHER",
}

var salienceLevels = []interface{}{"CORE", "IMPORTANT", "SUPPORTING"}

var relTypes = []interface{}{"DEFINES", "DETAILS", "REFERS_TO", "ASSOCIATED_WITH"}

// Entity is one extracted entity as emitted by the provider.
type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Salience    string `json:"salience"`
}

// Validate checks a single entity against the contract.
func (e Entity) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&e.Type, validation.Required, validation.In(entityTypes...)),
		validation.Field(&e.Salience, validation.Required, validation.In(salienceLevels...)),
		validation.Field(&e.Description, validation.Length(0, 2000)),
	)
}

// Relationship is one extracted relationship between two entity names.
type Relationship struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Validate checks a single relationship against the contract.
func (r Relationship) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Source, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Target, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Type, validation.Required, validation.In(relTypes...)),
		validation.Field(&r.Description, validation.Length(0, 2000)),
	)
}

// Result is a validated extraction for one chunk.
type Result struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// Validate checks the whole payload including the size caps.
func (res Result) Validate() error {
	return validation.ValidateStruct(&res,
		validation.Field(&res.Entities, validation.Length(0, MaxEntities)),
		validation.Field(&res.Relationships, validation.Length(0, MaxRelationships)),
	)
}

// Extractor produces entities and relationships from one chunk of text.
// Implementations must be safe for concurrent use; the coordinator calls
// Extract from multiple workers.
type Extractor interface {
	Extract(ctx context.Context, chunkText, subject string) (*Result, error)
}

// NormalizeName canonicalises an entity name for merging: surrounding and
// internal whitespace collapsed. Case is preserved; "the Board" and "The
// Board" are distinct on purpose, matching how charters define terms.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// Clean normalizes names, drops empty and duplicate entities, and removes
// self-referencing or dangling-name relationships. It mutates the result
// in place and returns it for chaining.
func Clean(res *Result) *Result {
	seen := make(map[string]bool, len(res.Entities))
	entities := res.Entities[:0]
	for _, e := range res.Entities {
		e.Name = NormalizeName(e.Name)
		if e.Name == "" {
			continue
		}
		key := strings.ToLower(e.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, e)
	}
	res.Entities = entities

	rels := res.Relationships[:0]
	for _, r := range res.Relationships {
		r.Source = NormalizeName(r.Source)
		r.Target = NormalizeName(r.Target)
		if r.Source == "" || r.Target == "" {
			continue
		}
		if strings.EqualFold(r.Source, r.Target) {
			continue
		}
		rels = append(rels, r)
	}
	res.Relationships = rels
	return res
}
