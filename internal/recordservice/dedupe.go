package recordservice

import (
	"context"
	"strings"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/store"
)

// DuplicateQuery is the candidate identity to match against stored records.
type DuplicateQuery struct {
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Name      string `json:"name"`
	Company   string `json:"company"`
	ExcludeID string `json:"-"`
}

// FindDuplicates returns every stored record that collides with the candidate
// on email, OR on phone, OR on the (name, company) pair. Any one condition
// qualifies a record as a duplicate.
func (s *Service) FindDuplicates(ctx context.Context, typ models.EntityType, q DuplicateQuery) ([]models.Record, error) {
	ident := &store.Identity{
		Email:     strings.ToLower(strings.TrimSpace(q.Email)),
		Phone:     strings.TrimSpace(q.Phone),
		Name:      strings.TrimSpace(q.Name),
		Company:   strings.TrimSpace(q.Company),
		ExcludeID: q.ExcludeID,
	}
	return s.store.Find(ctx, store.Filter{Type: typ, Identity: ident},
		store.Sort{Field: store.SortCreatedAt, Asc: true}, 0, 0)
}

// DuplicateGroups scans the full collection and groups records that collide
// on any identity field. Only groups with more than one member are returned;
// each group is ordered oldest first, the conventional merge primary. The
// scan runs to completion and never returns partial results.
func (s *Service) DuplicateGroups(ctx context.Context, typ models.EntityType) ([][]models.Record, error) {
	records, err := s.store.Find(ctx, store.Filter{Type: typ},
		store.Sort{Field: store.SortCreatedAt, Asc: true}, 0, 0)
	if err != nil {
		return nil, err
	}

	// Union-find over record indices, keyed by each identity bucket.
	parent := make([]int, len(records))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	buckets := make(map[string]int)
	link := func(key string, i int) {
		if key == "" {
			return
		}
		if j, ok := buckets[key]; ok {
			union(j, i)
		} else {
			buckets[key] = i
		}
	}
	for i, r := range records {
		if r.Email != "" {
			link("e:"+r.Email, i)
		}
		if r.Phone != "" {
			link("p:"+r.Phone, i)
		}
		if r.Name != "" && r.Company != "" {
			link("nc:"+strings.ToLower(r.Name)+"\x00"+strings.ToLower(r.Company), i)
		}
	}

	grouped := make(map[int][]models.Record)
	for i, r := range records {
		root := find(i)
		grouped[root] = append(grouped[root], r)
	}

	var out [][]models.Record
	// Iterate in record order so output is deterministic (oldest group first).
	for i := range records {
		if find(i) != i {
			continue
		}
		if g := grouped[i]; len(g) > 1 {
			out = append(out, g)
		}
	}
	return out, nil
}
