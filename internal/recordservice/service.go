// Package recordservice implements the CRM core: duplicate detection and
// merge, and the cached filtered/paginated query layer, over an abstract
// store and cache.
package recordservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/audit"
	"github.com/starford/raido/internal/cache"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/notify"
	"github.com/starford/raido/internal/store"
)

// Record event kinds passed to the events hook.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
	EventMerged  = "merged"
)

// EventFunc is called after each successful mutation, once per affected
// record lifecycle event.
type EventFunc func(kind string, typ models.EntityType, id string)

// Service coordinates the store, cache, and sinks.
type Service struct {
	store    store.Store
	cache    cache.Cache
	audit    audit.Sink
	notifier notify.Notifier
	events   EventFunc
	cacheTTL time.Duration
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithAudit sets the audit sink.
func WithAudit(sink audit.Sink) Option {
	return func(s *Service) { s.audit = sink }
}

// WithNotifier sets the notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithEvents sets the mutation event hook.
func WithEvents(fn EventFunc) Option {
	return func(s *Service) { s.events = fn }
}

// WithCacheTTL overrides the TTL for list and detail cache entries.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.cacheTTL = ttl }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a record service. Audit, notifier and events default to
// no-ops; the cache TTL defaults to five minutes.
func NewService(st store.Store, c cache.Cache, opts ...Option) *Service {
	s := &Service{
		store:    st,
		cache:    c,
		audit:    audit.Discard{},
		notifier: notify.Discard{},
		events:   func(string, models.EntityType, string) {},
		cacheTTL: 5 * time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput carries the caller-supplied fields for a new record.
type CreateInput struct {
	Type         models.EntityType `json:"type"`
	Email        string            `json:"email"`
	Phone        string            `json:"phone"`
	Name         string            `json:"name"`
	Company      string            `json:"company"`
	Notes        string            `json:"notes"`
	Stage        string            `json:"stage"`
	Source       string            `json:"source"`
	AssignedTo   string            `json:"assigned_to"`
	Amount       float64           `json:"amount"`
	Probability  *int              `json:"probability"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]any    `json:"custom_fields"`
}

// Create validates the input, rejects it when a duplicate exists, and inserts
// a new record. The duplicate check and the insert are not atomic against
// concurrent creates; two interleaved creates can both pass the check. That
// window is accepted (the fleet-wide duplicate scan surfaces and heals it).
func (s *Service) Create(ctx context.Context, in CreateInput, actorID string) (*models.Record, error) {
	rec := &models.Record{
		Type:         in.Type,
		Email:        in.Email,
		Phone:        in.Phone,
		Name:         in.Name,
		Company:      in.Company,
		Notes:        in.Notes,
		Stage:        in.Stage,
		Source:       in.Source,
		AssignedTo:   in.AssignedTo,
		Amount:       in.Amount,
		Tags:         in.Tags,
		CustomFields: in.CustomFields,
	}
	if in.Probability != nil {
		rec.Probability = *in.Probability
	}
	rec.Normalize(in.Probability != nil)
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	dupes, err := s.FindDuplicates(ctx, rec.Type, DuplicateQuery{
		Email:   rec.Email,
		Phone:   rec.Phone,
		Name:    rec.Name,
		Company: rec.Company,
	})
	if err != nil {
		return nil, err
	}
	if len(dupes) > 0 {
		return nil, fmt.Errorf("%w: duplicate of record %s", apperr.ErrConflict, dupes[0].ID)
	}

	now := time.Now().UTC()
	rec.ID = uuid.NewString()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, err
	}

	s.invalidateLists(rec.Type)
	s.audit.Record(ctx, audit.EventCreate, rec.ID, rec.Type, actorID, nil)
	s.events(EventCreated, rec.Type, rec.ID)
	return rec, nil
}

// Get returns a single record, read through the detail cache.
func (s *Service) Get(ctx context.Context, typ models.EntityType, id string) (*models.Record, error) {
	key := detailKey(typ, id)
	if payload, ok := s.cache.Get(key); ok {
		var rec models.Record
		if err := json.Unmarshal(payload, &rec); err == nil {
			return &rec, nil
		}
		// Corrupt entry: drop it and fall through to the store.
		s.cache.Delete(key)
	}

	rec, err := s.store.FindByID(ctx, typ, id)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(rec); err == nil {
		s.cache.Set(key, payload, s.cacheTTL)
	}
	return rec, nil
}

// Patch carries a partial update; nil fields are left untouched. CustomFields
// keys are shallow-merged onto the existing map; Tags replace wholesale.
type Patch struct {
	Email        *string        `json:"email"`
	Phone        *string        `json:"phone"`
	Name         *string        `json:"name"`
	Company      *string        `json:"company"`
	Notes        *string        `json:"notes"`
	Stage        *string        `json:"stage"`
	Source       *string        `json:"source"`
	AssignedTo   *string        `json:"assigned_to"`
	Amount       *float64       `json:"amount"`
	Probability  *int           `json:"probability"`
	Tags         *[]string      `json:"tags"`
	CustomFields map[string]any `json:"custom_fields"`
}

// Update applies a partial patch. A stage change without an explicit
// probability re-derives the probability from the stage table.
func (s *Service) Update(ctx context.Context, typ models.EntityType, id string, p Patch, actorID string) (*models.Record, error) {
	rec, err := s.store.FindByID(ctx, typ, id)
	if err != nil {
		return nil, err
	}

	assignee := rec.AssignedTo
	stageChanged := applyPatch(rec, p)
	rec.Normalize(p.Probability != nil || !stageChanged)
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	if p.Email != nil || p.Phone != nil || p.Name != nil || p.Company != nil {
		dupes, err := s.FindDuplicates(ctx, typ, DuplicateQuery{
			Email:     rec.Email,
			Phone:     rec.Phone,
			Name:      rec.Name,
			Company:   rec.Company,
			ExcludeID: rec.ID,
		})
		if err != nil {
			return nil, err
		}
		if len(dupes) > 0 {
			return nil, fmt.Errorf("%w: identity fields collide with record %s", apperr.ErrConflict, dupes[0].ID)
		}
	}

	rec.UpdatedAt = time.Now().UTC()
	updated, err := s.store.UpdateByID(ctx, id, rec)
	if err != nil {
		return nil, err
	}

	s.invalidateDetail(typ, id)
	s.invalidateLists(typ)
	s.audit.Record(ctx, audit.EventUpdate, id, typ, actorID, nil)
	s.events(EventUpdated, typ, id)
	if p.AssignedTo != nil && updated.AssignedTo != "" && updated.AssignedTo != assignee {
		s.notifier.Notify(ctx, updated.AssignedTo, notify.TemplateAssignment, map[string]any{
			"record_id": id,
			"type":      string(typ),
		})
	}
	return updated, nil
}

// applyPatch mutates rec in place and reports whether the stage changed.
func applyPatch(rec *models.Record, p Patch) bool {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	oldStage := rec.Stage
	setString(&rec.Email, p.Email)
	setString(&rec.Phone, p.Phone)
	setString(&rec.Name, p.Name)
	setString(&rec.Company, p.Company)
	setString(&rec.Notes, p.Notes)
	setString(&rec.Stage, p.Stage)
	setString(&rec.Source, p.Source)
	setString(&rec.AssignedTo, p.AssignedTo)
	if p.Amount != nil {
		rec.Amount = *p.Amount
	}
	if p.Probability != nil {
		rec.Probability = *p.Probability
	}
	if p.Tags != nil {
		rec.Tags = *p.Tags
	}
	if len(p.CustomFields) > 0 {
		if rec.CustomFields == nil {
			rec.CustomFields = make(map[string]any, len(p.CustomFields))
		}
		for k, v := range p.CustomFields {
			rec.CustomFields[k] = v
		}
	}
	return p.Stage != nil && *p.Stage != oldStage
}

// Delete removes a record. Deletion is immediate and terminal.
func (s *Service) Delete(ctx context.Context, typ models.EntityType, id string, actorID string) error {
	deleted, err := s.store.DeleteByID(ctx, typ, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("record %s: %w", id, apperr.ErrNotFound)
	}

	s.invalidateDetail(typ, id)
	s.invalidateLists(typ)
	s.audit.Record(ctx, audit.EventDelete, id, typ, actorID, nil)
	s.events(EventDeleted, typ, id)
	return nil
}

// Cache key layout: records:<type>:detail:<id> for single records, and
// records:<type>:list:<signature> for paginated views. Invalidation deletes
// the whole list namespace because it is not cheaply knowable which pages
// contain a mutated record.

func detailKey(typ models.EntityType, id string) string {
	return fmt.Sprintf("records:%s:detail:%s", typ, id)
}

func listPrefix(typ models.EntityType) string {
	return fmt.Sprintf("records:%s:list:", typ)
}

func (s *Service) invalidateDetail(typ models.EntityType, id string) {
	s.cache.Delete(detailKey(typ, id))
}

func (s *Service) invalidateLists(typ models.EntityType) {
	s.cache.DeleteByPrefix(listPrefix(typ))
}
