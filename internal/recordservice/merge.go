package recordservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/audit"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/notify"
)

// notesSeparator joins the surviving record's notes with each folded-in
// duplicate's notes.
const notesSeparator = "\n---\n"

// Merge folds the given duplicates into the primary record and deletes them.
// Duplicate IDs that no longer resolve are silently skipped; an unknown
// primary is an error. The primary is persisted before the duplicates are
// deleted, so a crash between the two steps leaves at most a re-mergeable
// duplicate behind (the duplicate scan surfaces it again).
func (s *Service) Merge(ctx context.Context, typ models.EntityType, primaryID string, duplicateIDs []string, actorID string) (*models.Record, error) {
	primary, err := s.store.FindByID(ctx, typ, primaryID)
	if err != nil {
		return nil, err
	}

	// Keys the primary already owns keep precedence over every duplicate.
	ownedKeys := make(map[string]struct{}, len(primary.CustomFields))
	for k := range primary.CustomFields {
		ownedKeys[k] = struct{}{}
	}

	var folded []string
	for _, dupID := range duplicateIDs {
		if dupID == primaryID {
			continue
		}
		dup, err := s.store.FindByID(ctx, typ, dupID)
		if errors.Is(err, apperr.ErrNotFound) {
			continue // already deleted, nothing to fold
		}
		if err != nil {
			return nil, err
		}
		foldRecord(primary, dup, ownedKeys)
		folded = append(folded, dupID)
	}

	if len(folded) == 0 {
		return primary, nil
	}

	primary.Tags = models.DedupeTags(primary.Tags)
	primary.UpdatedAt = time.Now().UTC()
	merged, err := s.store.UpdateByID(ctx, primaryID, primary)
	if err != nil {
		return nil, err
	}
	// The primary is persisted; its cached state is stale from here on even
	// if the duplicate deletion below fails.
	s.invalidateDetail(typ, primaryID)
	s.invalidateLists(typ)

	if _, err := s.store.DeleteMany(ctx, typ, folded); err != nil {
		// The primary already carries the folded data; the leftover
		// duplicates will surface in the next duplicate scan.
		s.logger.Error("merge: duplicate deletion failed",
			slog.String("primary_id", primaryID),
			slog.String("duplicate_ids", strings.Join(folded, ",")),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("merge %s: deleting duplicates: %w", primaryID, err)
	}

	for _, dupID := range duplicateIDs {
		s.invalidateDetail(typ, dupID)
	}

	s.audit.Record(ctx, audit.EventMerge, primaryID, typ, actorID, map[string]any{
		"merged_ids": folded,
	})
	s.events(EventMerged, typ, primaryID)
	for _, dupID := range folded {
		s.events(EventDeleted, typ, dupID)
	}
	if merged.AssignedTo != "" {
		s.notifier.Notify(ctx, merged.AssignedTo, notify.TemplateMergeCompleted, map[string]any{
			"record_id":  primaryID,
			"type":       string(typ),
			"merged_ids": folded,
		})
	}
	return merged, nil
}

// foldRecord applies one duplicate onto the primary's in-memory state.
// The rules never lose information and prefer explicit primary data:
//
//   - numeric fields keep the maximum (ties keep the primary's value)
//   - tags are unioned (deduplicated by the caller after all folds)
//   - custom fields: keys the primary owns are never overwritten; for the
//     rest, later-processed duplicates overwrite earlier ones
//   - non-empty notes are appended behind a separator line
//
// Identity and classification fields stay the primary's.
func foldRecord(primary, dup *models.Record, ownedKeys map[string]struct{}) {
	if dup.Amount > primary.Amount {
		primary.Amount = dup.Amount
	}
	if dup.Probability > primary.Probability {
		primary.Probability = dup.Probability
	}

	primary.Tags = append(primary.Tags, dup.Tags...)

	for k, v := range dup.CustomFields {
		if _, owned := ownedKeys[k]; owned {
			continue
		}
		if primary.CustomFields == nil {
			primary.CustomFields = make(map[string]any)
		}
		primary.CustomFields[k] = v
	}

	if notes := strings.TrimSpace(dup.Notes); notes != "" {
		if strings.TrimSpace(primary.Notes) == "" {
			primary.Notes = dup.Notes
		} else {
			primary.Notes += notesSeparator + dup.Notes
		}
	}
}
