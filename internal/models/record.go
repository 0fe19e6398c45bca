// Package models defines the domain types for Raido.
package models

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// EntityType distinguishes the record collections.
type EntityType string

// Entity types.
const (
	TypeContact EntityType = "contact"
	TypeLead    EntityType = "lead"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	return t == TypeContact || t == TypeLead
}

// Pipeline stages. Probability is derived from the stage unless a caller
// sets it explicitly.
const (
	StageNew       = "new"
	StageContacted = "contacted"
	StageQualified = "qualified"
	StageProposal  = "proposal"
	StageWon       = "won"
	StageLost      = "lost"
)

// stageProbability maps each pipeline stage to its default win probability.
var stageProbability = map[string]int{
	StageNew:       20,
	StageContacted: 40,
	StageQualified: 60,
	StageProposal:  80,
	StageWon:       100,
	StageLost:      0,
}

// StageProbability returns the default probability for stage and whether the
// stage is known.
func StageProbability(stage string) (int, bool) {
	p, ok := stageProbability[strings.ToLower(stage)]
	return p, ok
}

// Record is a CRM document (contact or lead). Records are owned by the store;
// services operate on copies and persist changes through the store's update
// path only.
type Record struct {
	ID          string     `json:"id"`
	Type        EntityType `json:"type"`
	Email       string     `json:"email,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	Name        string     `json:"name,omitempty"`
	Company     string     `json:"company,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Stage       string     `json:"stage,omitempty"`
	Source      string     `json:"source,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	Amount      float64    `json:"amount"`
	Probability int        `json:"probability"`
	Tags        []string   `json:"tags,omitempty"`
	// CustomFields holds scalar values only (string, bool, or number).
	CustomFields map[string]any `json:"custom_fields,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Validate checks the record's fields. It does not touch the store.
func (r *Record) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("unknown entity type %q", r.Type)
	}
	if err := validation.ValidateStruct(r,
		validation.Field(&r.Email, is.EmailFormat),
		validation.Field(&r.Amount, validation.Min(0.0)),
		validation.Field(&r.Probability, validation.Min(0), validation.Max(100)),
	); err != nil {
		return err
	}
	if r.Email == "" && r.Phone == "" && r.Name == "" {
		return fmt.Errorf("at least one of email, phone or name is required")
	}
	for k, v := range r.CustomFields {
		switch v.(type) {
		case string, bool, float64, int, int64, nil:
		default:
			return fmt.Errorf("custom field %q is not a scalar", k)
		}
	}
	return nil
}

// Normalize trims identity fields, lowercases email, dedupes tags, and derives
// probability from the stage when it was not set explicitly.
func (r *Record) Normalize(probabilitySet bool) {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Phone = strings.TrimSpace(r.Phone)
	r.Name = strings.TrimSpace(r.Name)
	r.Company = strings.TrimSpace(r.Company)
	r.Stage = strings.ToLower(strings.TrimSpace(r.Stage))
	r.Tags = DedupeTags(r.Tags)
	if !probabilitySet {
		if p, ok := StageProbability(r.Stage); ok {
			r.Probability = p
		}
	}
}

// DedupeTags returns tags with duplicates and blanks removed, preserving the
// first occurrence order.
func DedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
