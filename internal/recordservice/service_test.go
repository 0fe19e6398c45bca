package recordservice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/cache"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/store"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *cache.Memory) {
	t.Helper()
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
	return NewService(st, c, opts...), c
}

// mustCreate seeds a lead with a distinct email so seeds never collide.
func mustCreate(t *testing.T, svc *Service, n int, mut func(*CreateInput)) *models.Record {
	t.Helper()
	in := CreateInput{
		Type:  models.TypeLead,
		Name:  fmt.Sprintf("Lead %d", n),
		Email: fmt.Sprintf("lead%d@example.com", n),
		Stage: models.StageNew,
	}
	if mut != nil {
		mut(&in)
	}
	rec, err := svc.Create(context.Background(), in, "tester")
	if err != nil {
		t.Fatalf("Create(%d): %v", n, err)
	}
	return rec
}

func TestCreateDerivesProbability(t *testing.T) {
	svc, _ := newTestService(t)

	rec := mustCreate(t, svc, 1, func(in *CreateInput) { in.Stage = models.StageNew })
	if rec.ID == "" {
		t.Error("created record has no ID")
	}
	if rec.Probability != 20 {
		t.Errorf("probability = %d, want 20 for stage new", rec.Probability)
	}

	// Explicit probability wins over the stage default.
	p := 55
	rec = mustCreate(t, svc, 2, func(in *CreateInput) {
		in.Stage = models.StageWon
		in.Probability = &p
	})
	if rec.Probability != 55 {
		t.Errorf("probability = %d, want explicit 55", rec.Probability)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateInput{Type: models.TypeLead}, "tester")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}

	_, err = svc.Create(context.Background(), CreateInput{Type: "deal", Name: "x"}, "tester")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown type err = %v, want ErrValidation", err)
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	svc, _ := newTestService(t)

	mustCreate(t, svc, 1, func(in *CreateInput) { in.Email = "same@example.com" })

	_, err := svc.Create(context.Background(), CreateInput{
		Type:  models.TypeLead,
		Name:  "Different Name",
		Email: "Same@Example.com", // matches after normalization
	}, "tester")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestCreateAllowsSameIdentityAcrossTypes(t *testing.T) {
	svc, _ := newTestService(t)

	mustCreate(t, svc, 1, func(in *CreateInput) { in.Email = "both@example.com" })

	_, err := svc.Create(context.Background(), CreateInput{
		Type:  models.TypeContact,
		Name:  "Contact",
		Email: "both@example.com",
	}, "tester")
	if err != nil {
		t.Errorf("same email in the other collection should not conflict: %v", err)
	}
}

func TestGetUsesDetailCache(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	rec := mustCreate(t, svc, 1, nil)

	first, err := svc.Get(ctx, models.TypeLead, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := c.Get(detailKey(models.TypeLead, rec.ID)); !ok {
		t.Error("detail entry not cached after read")
	}

	again, err := svc.Get(ctx, models.TypeLead, rec.ID)
	if err != nil {
		t.Fatalf("cached Get: %v", err)
	}
	if again.ID != first.ID || again.Email != first.Email {
		t.Errorf("cached read = %+v, want %+v", again, first)
	}
}

func TestGetDropsCorruptCacheEntry(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	rec := mustCreate(t, svc, 1, nil)
	c.Set(detailKey(models.TypeLead, rec.ID), []byte("{not json"), time.Minute)

	got, err := svc.Get(ctx, models.TypeLead, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("got %+v, want record %s", got, rec.ID)
	}
}

func TestUpdateStageRederivesProbability(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec := mustCreate(t, svc, 1, func(in *CreateInput) { in.Stage = models.StageNew })

	stage := models.StageWon
	updated, err := svc.Update(ctx, models.TypeLead, rec.ID, Patch{Stage: &stage}, "tester")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Probability != 100 {
		t.Errorf("probability = %d, want 100 after moving to won", updated.Probability)
	}

	// Explicit probability alongside the stage change is kept.
	stage = models.StageProposal
	p := 33
	updated, err = svc.Update(ctx, models.TypeLead, rec.ID, Patch{Stage: &stage, Probability: &p}, "tester")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Probability != 33 {
		t.Errorf("probability = %d, want explicit 33", updated.Probability)
	}

	// A non-stage patch leaves the probability alone.
	amount := 999.0
	updated, err = svc.Update(ctx, models.TypeLead, rec.ID, Patch{Amount: &amount}, "tester")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Probability != 33 {
		t.Errorf("probability = %d, want untouched 33", updated.Probability)
	}
}

func TestUpdateMergesCustomFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec := mustCreate(t, svc, 1, func(in *CreateInput) {
		in.CustomFields = map[string]any{"region": "emea", "tier": "gold"}
	})

	updated, err := svc.Update(ctx, models.TypeLead, rec.ID, Patch{
		CustomFields: map[string]any{"tier": "platinum", "score": 9},
	}, "tester")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.CustomFields["region"] != "emea" {
		t.Errorf("untouched key lost: %v", updated.CustomFields)
	}
	if updated.CustomFields["tier"] != "platinum" {
		t.Errorf("patched key = %v, want platinum", updated.CustomFields["tier"])
	}
}

func TestUpdateIdentityConflict(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustCreate(t, svc, 1, func(in *CreateInput) { in.Email = "a@example.com" })
	mustCreate(t, svc, 2, func(in *CreateInput) { in.Email = "b@example.com" })

	email := "b@example.com"
	_, err := svc.Update(ctx, models.TypeLead, a.ID, Patch{Email: &email}, "tester")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}

	// Re-saving the record's own identity is not a self-conflict.
	email = "a@example.com"
	if _, err := svc.Update(ctx, models.TypeLead, a.ID, Patch{Email: &email}, "tester"); err != nil {
		t.Errorf("self identity update: %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec := mustCreate(t, svc, 1, nil)

	if err := svc.Delete(ctx, models.TypeLead, rec.ID, "tester"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, models.TypeLead, rec.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
	if err := svc.Delete(ctx, models.TypeLead, rec.ID, "tester"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestMutationEvents(t *testing.T) {
	var kinds []string
	svc, _ := newTestService(t, WithEvents(func(kind string, _ models.EntityType, _ string) {
		kinds = append(kinds, kind)
	}))
	ctx := context.Background()

	rec := mustCreate(t, svc, 1, nil)
	stage := models.StageContacted
	if _, err := svc.Update(ctx, models.TypeLead, rec.ID, Patch{Stage: &stage}, "tester"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := svc.Delete(ctx, models.TypeLead, rec.ID, "tester"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	want := []string{EventCreated, EventUpdated, EventDeleted}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestLifecycleStageProgression(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec := mustCreate(t, svc, 1, func(in *CreateInput) { in.Stage = models.StageNew })
	if rec.Probability != 20 {
		t.Fatalf("new lead probability = %d, want 20", rec.Probability)
	}

	for _, step := range []struct {
		stage string
		want  int
	}{
		{models.StageContacted, 40},
		{models.StageQualified, 60},
		{models.StageProposal, 80},
		{models.StageWon, 100},
	} {
		stage := step.stage
		updated, err := svc.Update(ctx, models.TypeLead, rec.ID, Patch{Stage: &stage}, "tester")
		if err != nil {
			t.Fatalf("Update to %s: %v", stage, err)
		}
		if updated.Probability != step.want {
			t.Errorf("stage %s probability = %d, want %d", stage, updated.Probability, step.want)
		}
	}

	// The won lead shows up in a stage-filtered list.
	res, err := svc.List(ctx, models.TypeLead, ListQuery{Filter: store.Filter{Stage: models.StageWon}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 1 || len(res.Items) != 1 || res.Items[0].ID != rec.ID {
		t.Errorf("won list = %+v", res)
	}
}
