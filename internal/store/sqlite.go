package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	id            TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL DEFAULT '',
	company       TEXT NOT NULL DEFAULT '',
	notes         TEXT NOT NULL DEFAULT '',
	stage         TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	assigned_to   TEXT NOT NULL DEFAULT '',
	amount        REAL NOT NULL DEFAULT 0,
	probability   INTEGER NOT NULL DEFAULT 0,
	tags          TEXT NOT NULL DEFAULT '[]',
	custom_fields TEXT NOT NULL DEFAULT '{}',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

-- Identity indexes are non-unique: uniqueness of email/phone is enforced by
-- the create-time duplicate check, and historical duplicates must remain
-- loadable so the merge workflow can fold them in.
CREATE INDEX IF NOT EXISTS idx_records_type_email   ON records(type, email);
CREATE INDEX IF NOT EXISTS idx_records_type_phone   ON records(type, phone);
CREATE INDEX IF NOT EXISTS idx_records_type_stage   ON records(type, stage);
CREATE INDEX IF NOT EXISTS idx_records_type_created ON records(type, created_at);
`

const recordColumns = `id, type, email, phone, name, company, notes, stage, source,
	assigned_to, amount, probability, tags, custom_fields, created_at, updated_at`

// SQLite implements Store backed by a SQLite database.
type SQLite struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Verify *SQLite satisfies Store at compile time.
var _ Store = (*SQLite)(nil)

// infraErr tags an infrastructure failure as retryable for the caller.
func infraErr(op string, err error) error {
	return fmt.Errorf("store: %s: %w (%v)", op, apperr.ErrStoreUnavailable, err)
}

// buildWhere renders the filter into a WHERE clause and its arguments.
func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any

	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Stage != "" {
		conds = append(conds, "stage = ?")
		args = append(args, strings.ToLower(f.Stage))
	}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if f.AssignedTo != "" {
		conds = append(conds, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	if f.MinAmount != nil {
		conds = append(conds, "amount >= ?")
		args = append(args, *f.MinAmount)
	}
	if f.MaxAmount != nil {
		conds = append(conds, "amount <= ?")
		args = append(args, *f.MaxAmount)
	}
	if f.MinProbability != nil {
		conds = append(conds, "probability >= ?")
		args = append(args, *f.MinProbability)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		conds = append(conds, `(name LIKE ? COLLATE NOCASE
			OR email LIKE ? COLLATE NOCASE
			OR company LIKE ? COLLATE NOCASE)`)
		args = append(args, like, like, like)
	}
	if f.CreatedAfter != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, *f.CreatedBefore)
	}
	if f.Identity != nil {
		cond, identArgs := identityClause(f.Identity)
		conds = append(conds, cond)
		args = append(args, identArgs...)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// identityClause renders the disjunctive duplicate predicate. With every leg
// empty it matches nothing, so a blank candidate never collides with blank
// stored fields.
func identityClause(id *Identity) (string, []any) {
	var legs []string
	var args []any
	if id.Email != "" {
		legs = append(legs, "email = ?")
		args = append(args, id.Email)
	}
	if id.Phone != "" {
		legs = append(legs, "phone = ?")
		args = append(args, id.Phone)
	}
	if id.Name != "" && id.Company != "" {
		legs = append(legs, "(name = ? COLLATE NOCASE AND company = ? COLLATE NOCASE)")
		args = append(args, id.Name, id.Company)
	}
	cond := "0 = 1"
	if len(legs) > 0 {
		cond = "(" + strings.Join(legs, " OR ") + ")"
	}
	if id.ExcludeID != "" {
		cond += " AND id != ?"
		args = append(args, id.ExcludeID)
	}
	return cond, args
}

// sortColumns whitelists sortable fields against injection.
var sortColumns = map[string]string{
	SortCreatedAt:   "created_at",
	SortUpdatedAt:   "updated_at",
	SortName:        "name",
	SortAmount:      "amount",
	SortProbability: "probability",
	SortStage:       "stage",
}

func orderClause(s Sort) string {
	col, ok := sortColumns[s.Field]
	if !ok {
		return " ORDER BY created_at DESC"
	}
	dir := "DESC"
	if s.Asc {
		dir = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", col, dir)
}

// Find returns records matching the filter, ordered and paginated.
func (s *SQLite) Find(ctx context.Context, f Filter, srt Sort, skip, limit int) ([]models.Record, error) {
	where, args := buildWhere(f)
	if limit <= 0 {
		limit = -1 // no limit
	}
	if skip < 0 {
		skip = 0
	}
	q := "SELECT " + recordColumns + " FROM records" + where + orderClause(srt) + " LIMIT ? OFFSET ?"
	args = append(args, limit, skip)

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, infraErr("find", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, infraErr("find scan", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, infraErr("find", err)
	}
	return out, nil
}

// Count returns the number of records matching the filter, ignoring paging.
func (s *SQLite) Count(ctx context.Context, f Filter) (int, error) {
	where, args := buildWhere(f)
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM records"+where, args...).Scan(&n); err != nil {
		return 0, infraErr("count", err)
	}
	return n, nil
}

// FindByID returns the record with the given ID within the entity type, or
// apperr.ErrNotFound.
func (s *SQLite) FindByID(ctx context.Context, typ models.EntityType, id string) (*models.Record, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM records WHERE type = ? AND id = ?", string(typ), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: record %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, infraErr("find by id", err)
	}
	return rec, nil
}

// Insert stores a new record.
func (s *SQLite) Insert(ctx context.Context, rec *models.Record) error {
	tagsJSON, customJSON, err := marshalCollections(rec)
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Type), rec.Email, rec.Phone, rec.Name, rec.Company,
		rec.Notes, rec.Stage, rec.Source, rec.AssignedTo, rec.Amount,
		rec.Probability, tagsJSON, customJSON, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return infraErr("insert", err)
	}
	return nil
}

// UpdateByID replaces the stored document and returns the stored copy.
func (s *SQLite) UpdateByID(ctx context.Context, id string, rec *models.Record) (*models.Record, error) {
	tagsJSON, customJSON, err := marshalCollections(rec)
	if err != nil {
		return nil, fmt.Errorf("store: update: %w", err)
	}
	res, err := s.conn.ExecContext(ctx, `
		UPDATE records SET
			email = ?, phone = ?, name = ?, company = ?, notes = ?,
			stage = ?, source = ?, assigned_to = ?, amount = ?, probability = ?,
			tags = ?, custom_fields = ?, updated_at = ?
		WHERE type = ? AND id = ?`,
		rec.Email, rec.Phone, rec.Name, rec.Company, rec.Notes,
		rec.Stage, rec.Source, rec.AssignedTo, rec.Amount, rec.Probability,
		tagsJSON, customJSON, rec.UpdatedAt, string(rec.Type), id)
	if err != nil {
		return nil, infraErr("update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, infraErr("update", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("store: record %s: %w", id, apperr.ErrNotFound)
	}
	return s.FindByID(ctx, rec.Type, id)
}

// DeleteByID removes a record; it reports whether a row was deleted.
func (s *SQLite) DeleteByID(ctx context.Context, typ models.EntityType, id string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM records WHERE type = ? AND id = ?", string(typ), id)
	if err != nil {
		return false, infraErr("delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, infraErr("delete", err)
	}
	return affected > 0, nil
}

// DeleteMany removes the given record IDs as one statement and returns the
// number of rows deleted.
func (s *SQLite) DeleteMany(ctx context.Context, typ models.EntityType, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ph := strings.Repeat("?,", len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(typ))
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM records WHERE type = ? AND id IN ("+ph[:len(ph)-1]+")", args...)
	if err != nil {
		return 0, infraErr("delete many", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, infraErr("delete many", err)
	}
	return int(affected), nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*models.Record, error) {
	var rec models.Record
	var typ, tagsJSON, customJSON string
	err := sc.Scan(&rec.ID, &typ, &rec.Email, &rec.Phone, &rec.Name, &rec.Company,
		&rec.Notes, &rec.Stage, &rec.Source, &rec.AssignedTo, &rec.Amount,
		&rec.Probability, &tagsJSON, &customJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Type = models.EntityType(typ)
	if tagsJSON != "" && tagsJSON != "[]" {
		if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	if customJSON != "" && customJSON != "{}" {
		if err := json.Unmarshal([]byte(customJSON), &rec.CustomFields); err != nil {
			return nil, fmt.Errorf("decode custom fields: %w", err)
		}
	}
	return &rec, nil
}

func marshalCollections(rec *models.Record) (string, string, error) {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("encode tags: %w", err)
	}
	custom := rec.CustomFields
	if custom == nil {
		custom = map[string]any{}
	}
	customJSON, err := json.Marshal(custom)
	if err != nil {
		return "", "", fmt.Errorf("encode custom fields: %w", err)
	}
	return string(tagsJSON), string(customJSON), nil
}
