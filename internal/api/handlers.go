package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/audit"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/recordservice"
	"github.com/starford/raido/internal/store"
)

const maxBodyBytes = 1 << 20

// HistoryFunc returns recent audit events for a record.
type HistoryFunc func(ctx context.Context, typ models.EntityType, id string, limit int) ([]audit.Event, error)

// Handler holds API route handlers. One handler serves both collections; the
// entity type is bound per route when mounting.
type Handler struct {
	svc     *recordservice.Service
	history HistoryFunc
}

// NewHandler creates a new Handler. history may be nil, which disables the
// per-record history endpoint.
func NewHandler(svc *recordservice.Service, history HistoryFunc) *Handler {
	return &Handler{svc: svc, history: history}
}

// List handles GET /{collection}.
func (h *Handler) List(typ models.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseListQuery(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		res, err := h.svc.List(r.Context(), typ, q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// Create handles POST /{collection}.
func (h *Handler) Create(typ models.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
		rec, err := h.svc.Create(r.Context(), req.input(typ), actorID(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

// Get handles GET /{collection}/{id}.
func (h *Handler) Get(typ models.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := h.svc.Get(r.Context(), typ, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// Update handles PUT /{collection}/{id}.
func (h *Handler) Update(typ models.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req UpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
		rec, err := h.svc.Update(r.Context(), typ, chi.URLParam(r, "id"), req, actorID(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// Delete handles DELETE /{collection}/{id}.
func (h *Handler) Delete(typ models.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.svc.Delete(r.Context(), typ, chi.URLParam(r, "id"), actorID(r)); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Duplicates handles GET /{collection}/duplicates: the fleet-wide scan.
func (h *Handler) Duplicates(typ models.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := h.svc.DuplicateGroups(r.Context(), typ)
		if err != nil {
			writeError(w, err)
			return
		}
		if groups == nil {
			groups = [][]models.Record{}
		}
		writeJSON(w, http.StatusOK, DuplicatesResponse{Groups: groups})
	}
}

// CheckDuplicates handles POST /{collection}/duplicates/check.
func (h *Handler) CheckDuplicates(typ models.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req DuplicateCheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
		dupes, err := h.svc.FindDuplicates(r.Context(), typ, req)
		if err != nil {
			writeError(w, err)
			return
		}
		if dupes == nil {
			dupes = []models.Record{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"duplicates": dupes})
	}
}

// Merge handles POST /{collection}/merge.
func (h *Handler) Merge(typ models.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req MergeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
		if req.PrimaryID == "" || len(req.DuplicateIDs) == 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("primary_id and duplicate_ids are required"))
			return
		}
		rec, err := h.svc.Merge(r.Context(), typ, req.PrimaryID, req.DuplicateIDs, actorID(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// History handles GET /{collection}/{id}/history.
func (h *Handler) History(typ models.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		events, err := h.history(r.Context(), typ, chi.URLParam(r, "id"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if events == nil {
			events = []audit.Event{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}

// parseListQuery reads the filter, paging, and sort query parameters. Unknown
// sort fields fall back to the default; malformed numbers and dates are
// rejected.
func parseListQuery(r *http.Request) (recordservice.ListQuery, error) {
	var q recordservice.ListQuery
	vals := r.URL.Query()

	q.Filter.Stage = vals.Get("stage")
	q.Filter.Source = vals.Get("source")
	q.Filter.AssignedTo = vals.Get("assigned_to")
	q.Filter.Search = vals.Get("q")

	var err error
	if q.Filter.MinAmount, err = parseFloatParam(vals.Get("min_amount"), "min_amount"); err != nil {
		return q, err
	}
	if q.Filter.MaxAmount, err = parseFloatParam(vals.Get("max_amount"), "max_amount"); err != nil {
		return q, err
	}
	if q.Filter.MinProbability, err = parseIntParam(vals.Get("min_probability"), "min_probability"); err != nil {
		return q, err
	}
	if q.Filter.CreatedAfter, err = parseTimeParam(vals.Get("created_after"), "created_after"); err != nil {
		return q, err
	}
	if q.Filter.CreatedBefore, err = parseTimeParam(vals.Get("created_before"), "created_before"); err != nil {
		return q, err
	}

	q.Page, _ = strconv.Atoi(vals.Get("page"))
	q.Limit, _ = strconv.Atoi(vals.Get("limit"))
	q.Sort = store.Sort{Field: vals.Get("sort"), Asc: vals.Get("dir") == "asc"}
	return q, nil
}

func parseFloatParam(raw, name string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &paramError{name}
	}
	return &v, nil
}

func parseIntParam(raw, name string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &paramError{name}
	}
	return &v, nil
}

func parseTimeParam(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Date-only form is accepted as midnight UTC.
		t, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, &paramError{name}
		}
	}
	return &t, nil
}

type paramError struct {
	name string
}

func (e *paramError) Error() string {
	return "invalid query parameter: " + e.name
}
