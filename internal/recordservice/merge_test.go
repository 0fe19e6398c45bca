package recordservice

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/cache"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/store"
)

func TestMergeKeepsMaxNumericFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := 30
	primary := mustCreate(t, svc, 1, func(in *CreateInput) {
		in.Amount = 1000
		in.Probability = &p
	})
	d := 80
	dup := mustCreate(t, svc, 2, func(in *CreateInput) {
		in.Amount = 500
		in.Probability = &d
	})

	merged, err := svc.Merge(ctx, models.TypeLead, primary.ID, []string{dup.ID}, "tester")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Amount != 1000 {
		t.Errorf("amount = %v, want primary's larger 1000", merged.Amount)
	}
	if merged.Probability != 80 {
		t.Errorf("probability = %d, want duplicate's larger 80", merged.Probability)
	}

	// Identity stays the primary's.
	if merged.Email != primary.Email {
		t.Errorf("email = %q, want %q", merged.Email, primary.Email)
	}
}

func TestMergeUnionsTags(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	primary := mustCreate(t, svc, 1, func(in *CreateInput) { in.Tags = []string{"vip", "q3"} })
	dup1 := mustCreate(t, svc, 2, func(in *CreateInput) { in.Tags = []string{"q3", "inbound"} })
	dup2 := mustCreate(t, svc, 3, func(in *CreateInput) { in.Tags = []string{"vip", "emea"} })

	merged, err := svc.Merge(ctx, models.TypeLead, primary.ID, []string{dup1.ID, dup2.ID}, "tester")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	want := map[string]bool{"vip": true, "q3": true, "inbound": true, "emea": true}
	if len(merged.Tags) != len(want) {
		t.Fatalf("tags = %v, want union of 4", merged.Tags)
	}
	for _, tag := range merged.Tags {
		if !want[tag] {
			t.Errorf("unexpected tag %q", tag)
		}
	}
}

func TestMergeCustomFieldPrecedence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	primary := mustCreate(t, svc, 1, func(in *CreateInput) {
		in.CustomFields = map[string]any{"tier": "gold"}
	})
	dup1 := mustCreate(t, svc, 2, func(in *CreateInput) {
		in.CustomFields = map[string]any{"tier": "silver", "region": "apac"}
	})
	dup2 := mustCreate(t, svc, 3, func(in *CreateInput) {
		in.CustomFields = map[string]any{"region": "emea", "score": 7.0}
	})

	merged, err := svc.Merge(ctx, models.TypeLead, primary.ID, []string{dup1.ID, dup2.ID}, "tester")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if merged.CustomFields["tier"] != "gold" {
		t.Errorf("tier = %v, primary's value must win", merged.CustomFields["tier"])
	}
	if merged.CustomFields["region"] != "emea" {
		t.Errorf("region = %v, later duplicate must win", merged.CustomFields["region"])
	}
	if merged.CustomFields["score"] != 7.0 {
		t.Errorf("score = %v, want 7", merged.CustomFields["score"])
	}
}

func TestMergeConcatenatesNotes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	primary := mustCreate(t, svc, 1, func(in *CreateInput) { in.Notes = "N1" })
	dup1 := mustCreate(t, svc, 2, func(in *CreateInput) { in.Notes = "N2" })
	dup2 := mustCreate(t, svc, 3, nil) // empty notes contribute nothing

	merged, err := svc.Merge(ctx, models.TypeLead, primary.ID, []string{dup1.ID, dup2.ID}, "tester")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Notes != "N1\n---\nN2" {
		t.Errorf("notes = %q, want %q", merged.Notes, "N1\n---\nN2")
	}

	if strings.Count(merged.Notes, "---") != 1 {
		t.Errorf("empty duplicate notes added a separator: %q", merged.Notes)
	}
}

func TestMergeDeletesDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	primary := mustCreate(t, svc, 1, nil)
	dup := mustCreate(t, svc, 2, nil)

	if _, err := svc.Merge(ctx, models.TypeLead, primary.ID, []string{dup.ID}, "tester"); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if _, err := svc.Get(ctx, models.TypeLead, primary.ID); err != nil {
		t.Errorf("primary should survive: %v", err)
	}
	if _, err := svc.Get(ctx, models.TypeLead, dup.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("duplicate err = %v, want ErrNotFound", err)
	}

	res, err := svc.List(ctx, models.TypeLead, ListQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 1 {
		t.Errorf("total after merge = %d, want 1", res.Total)
	}
}

func TestMergeSkipsMissingAndSelf(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	primary := mustCreate(t, svc, 1, func(in *CreateInput) { in.Amount = 10 })
	dup := mustCreate(t, svc, 2, func(in *CreateInput) { in.Amount = 50 })

	merged, err := svc.Merge(ctx, models.TypeLead, primary.ID,
		[]string{"ghost", primary.ID, dup.ID}, "tester")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Amount != 50 {
		t.Errorf("amount = %v, want folded 50", merged.Amount)
	}

	// Nothing resolvable to fold: the primary comes back unchanged.
	merged, err = svc.Merge(ctx, models.TypeLead, primary.ID, []string{"ghost"}, "tester")
	if err != nil {
		t.Fatalf("Merge with no resolvable duplicates: %v", err)
	}
	if merged.ID != primary.ID {
		t.Errorf("merged = %+v", merged)
	}
}

func TestMergeUnknownPrimary(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Merge(context.Background(), models.TypeLead, "ghost", []string{"x"}, "tester")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMergeEmitsEvents(t *testing.T) {
	var kinds []string
	svc, _ := newTestService(t, WithEvents(func(kind string, _ models.EntityType, _ string) {
		kinds = append(kinds, kind)
	}))
	ctx := context.Background()

	primary := mustCreate(t, svc, 1, nil)
	dup := mustCreate(t, svc, 2, nil)

	if _, err := svc.Merge(ctx, models.TypeLead, primary.ID, []string{dup.ID}, "tester"); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	// Two creates, then the merge and the duplicate's deletion.
	want := []string{EventCreated, EventCreated, EventMerged, EventDeleted}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
}

// brokenDeleteStore fails bulk deletes so the merge aborts after the primary
// was already updated.
type brokenDeleteStore struct {
	store.Store
}

func (b brokenDeleteStore) DeleteMany(context.Context, models.EntityType, []string) (int, error) {
	return 0, errors.New("delete unavailable")
}

func TestMergeInvalidatesCacheWhenDeleteFails(t *testing.T) {
	dbFile, err := os.CreateTemp("", "raido-svc-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	st, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	c := cache.NewMemory()
	t.Cleanup(func() { c.Close() })
	svc := NewService(brokenDeleteStore{Store: st}, c)
	ctx := context.Background()

	primary := mustCreate(t, svc, 1, func(in *CreateInput) { in.Amount = 100 })
	dup := mustCreate(t, svc, 2, func(in *CreateInput) { in.Amount = 500 })

	// Warm the detail cache with the pre-merge primary.
	if _, err := svc.Get(ctx, models.TypeLead, primary.ID); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if _, err := svc.Merge(ctx, models.TypeLead, primary.ID, []string{dup.ID}, "tester"); err == nil {
		t.Fatal("Merge succeeded, want delete failure")
	}

	// The primary was persisted with the folded amount before the delete
	// failed; reads must not serve the stale cached copy.
	got, err := svc.Get(ctx, models.TypeLead, primary.ID)
	if err != nil {
		t.Fatalf("Get after failed merge: %v", err)
	}
	if got.Amount != 500 {
		t.Errorf("amount = %v, want folded 500", got.Amount)
	}
}
