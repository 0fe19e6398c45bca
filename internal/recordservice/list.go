package recordservice

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/store"
)

// Paging bounds. Limits outside [1, MaxLimit] are clamped silently.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ListQuery describes one paginated view: a sparse filter, paging, and sort.
type ListQuery struct {
	Filter store.Filter
	Page   int
	Limit  int
	Sort   store.Sort
}

// normalize clamps paging and applies the default sort. The normalized form
// is also what the cache key is derived from, so two queries meaning the same
// thing share an entry.
func (q *ListQuery) normalize(typ models.EntityType) {
	q.Filter.Type = typ
	if q.Page < 1 {
		q.Page = 1
	}
	// An absent limit arrives as zero, so non-positive values take the
	// default rather than clamping to 1; only oversized limits clamp.
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Sort.Field == "" {
		q.Sort = store.Sort{Field: store.SortCreatedAt, Asc: false}
	}
}

// ListResult is the assembled page payload. It is cached verbatim.
type ListResult struct {
	Items      []models.Record `json:"items"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	Total      int             `json:"total"`
	TotalPages int             `json:"total_pages"`
}

// listKeyTuple is the deterministic shape digested into the cache key.
type listKeyTuple struct {
	Stage          string     `json:"stage,omitempty"`
	Source         string     `json:"source,omitempty"`
	AssignedTo     string     `json:"assigned_to,omitempty"`
	MinAmount      *float64   `json:"min_amount,omitempty"`
	MaxAmount      *float64   `json:"max_amount,omitempty"`
	MinProbability *int       `json:"min_probability,omitempty"`
	Search         string     `json:"search,omitempty"`
	CreatedAfter   *time.Time `json:"created_after,omitempty"`
	CreatedBefore  *time.Time `json:"created_before,omitempty"`
	SortField      string     `json:"sort_field"`
	SortAsc        bool       `json:"sort_asc"`
	Page           int        `json:"page"`
	Limit          int        `json:"limit"`
}

func listKey(typ models.EntityType, q ListQuery) string {
	tuple := listKeyTuple{
		Stage:          q.Filter.Stage,
		Source:         q.Filter.Source,
		AssignedTo:     q.Filter.AssignedTo,
		MinAmount:      q.Filter.MinAmount,
		MaxAmount:      q.Filter.MaxAmount,
		MinProbability: q.Filter.MinProbability,
		Search:         q.Filter.Search,
		CreatedAfter:   q.Filter.CreatedAfter,
		CreatedBefore:  q.Filter.CreatedBefore,
		SortField:      q.Sort.Field,
		SortAsc:        q.Sort.Asc,
		Page:           q.Page,
		Limit:          q.Limit,
	}
	payload, _ := json.Marshal(tuple)
	return listPrefix(typ) + checksum.Sum(payload)
}

// List returns one filtered, sorted page of records, read through the cache.
// A cache hit is returned verbatim; entries are time-bounded and are only
// invalidated eagerly by writes, not by reads. On a miss, the page query and
// the total count run concurrently against the store.
func (s *Service) List(ctx context.Context, typ models.EntityType, q ListQuery) (*ListResult, error) {
	q.normalize(typ)
	key := listKey(typ, q)

	if payload, ok := s.cache.Get(key); ok {
		var res ListResult
		if err := json.Unmarshal(payload, &res); err == nil {
			return &res, nil
		}
		s.cache.Delete(key)
	}

	var items []models.Record
	var total int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.store.Find(gctx, q.Filter, q.Sort, (q.Page-1)*q.Limit, q.Limit)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.store.Count(gctx, q.Filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if items == nil {
		items = []models.Record{}
	}
	res := &ListResult{
		Items:      items,
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}

	if payload, err := json.Marshal(res); err == nil {
		s.cache.Set(key, payload, s.cacheTTL)
	}
	return res, nil
}
