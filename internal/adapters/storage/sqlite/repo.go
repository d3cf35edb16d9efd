package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/evanschultz/funnel/internal/app"
	"github.com/evanschultz/funnel/internal/domain"
	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver registered by modernc.org/sqlite.
const driverName = "sqlite"

// defaultEventLimit caps change-event listings when the caller passes no limit.
const defaultEventLimit = 50

// Repository stores funnels and their change ledger in SQLite.
type Repository struct {
	db *sql.DB
}

var _ app.Repository = (*Repository)(nil)

// Open opens or creates the database at path and migrates it.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Each connection to :memory: is its own database.
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate creates tables and indexes. It is safe to run repeatedly.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS funnels (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'draft',
			theme_json TEXT NOT NULL DEFAULT '{}',
			steps_json TEXT NOT NULL DEFAULT '[]',
			settings_json TEXT NOT NULL DEFAULT '{}',
			created_by_actor TEXT NOT NULL DEFAULT 'funnel-user',
			updated_by_actor TEXT NOT NULL DEFAULT 'funnel-user',
			updated_by_type TEXT NOT NULL DEFAULT 'user',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			archived_at TEXT
		);`,
		// change_events keeps delete records, so funnel_id is not a foreign key.
		`CREATE TABLE IF NOT EXISTS change_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			funnel_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_funnels_archived_created_at ON funnels(archived_at, created_at ASC);`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_funnel_created_at ON change_events(funnel_id, created_at DESC, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// CreateFunnel inserts a funnel and records a create event.
func (r *Repository) CreateFunnel(ctx context.Context, f domain.Funnel, actor app.MutationActor) (err error) {
	cols, err := encodeFunnelColumns(f)
	if err != nil {
		return err
	}
	actorID := chooseActorID(actor.ActorID)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO funnels(
			id, slug, name, description, status, theme_json, steps_json, settings_json,
			created_by_actor, updated_by_actor, updated_by_type, created_at, updated_at, archived_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ID,
		f.Slug,
		f.Name,
		f.Description,
		string(f.Status),
		cols.theme,
		cols.steps,
		cols.settings,
		actorID,
		actorID,
		string(normalizeActorType(actor.ActorType)),
		ts(f.CreatedAt),
		ts(f.UpdatedAt),
		nullableTS(f.ArchivedAt),
	)
	if err != nil {
		return fmt.Errorf("insert funnel: %w", err)
	}

	err = insertChangeEvent(ctx, tx, domain.ChangeEvent{
		FunnelID:  f.ID,
		Operation: domain.ChangeOperationCreate,
		ActorID:   actorID,
		ActorType: actor.ActorType,
		Metadata: map[string]string{
			"name":       f.Name,
			"step_count": strconv.Itoa(len(f.Steps)),
		},
		OccurredAt: f.CreatedAt,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateFunnel replaces a stored funnel and records the transition.
func (r *Repository) UpdateFunnel(ctx context.Context, f domain.Funnel, actor app.MutationActor) (err error) {
	cols, err := encodeFunnelColumns(f)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	prev, err := getFunnelByID(ctx, tx, f.ID)
	if err != nil {
		return err
	}
	actorID := chooseActorID(actor.ActorID)

	res, err := tx.ExecContext(ctx, `
		UPDATE funnels
		SET slug = ?, name = ?, description = ?, status = ?, theme_json = ?, steps_json = ?, settings_json = ?,
		    updated_by_actor = ?, updated_by_type = ?, updated_at = ?, archived_at = ?
		WHERE id = ?
	`,
		f.Slug,
		f.Name,
		f.Description,
		string(f.Status),
		cols.theme,
		cols.steps,
		cols.settings,
		actorID,
		string(normalizeActorType(actor.ActorType)),
		ts(f.UpdatedAt),
		nullableTS(f.ArchivedAt),
		f.ID,
	)
	if err != nil {
		return fmt.Errorf("update funnel: %w", err)
	}
	if err = translateNoRows(res); err != nil {
		return err
	}

	op, metadata := classifyFunnelTransition(prev, f)
	err = insertChangeEvent(ctx, tx, domain.ChangeEvent{
		FunnelID:   f.ID,
		Operation:  op,
		ActorID:    actorID,
		ActorType:  actor.ActorType,
		Metadata:   metadata,
		OccurredAt: f.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetFunnel returns one funnel.
func (r *Repository) GetFunnel(ctx context.Context, id string) (domain.Funnel, error) {
	return getFunnelByID(ctx, r.db, id)
}

// ListFunnels lists funnels in creation order.
func (r *Repository) ListFunnels(ctx context.Context, includeArchived bool) ([]domain.Funnel, error) {
	query := `SELECT ` + funnelColumns + ` FROM funnels`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Funnel{}
	for rows.Next() {
		funnel, err := scanFunnel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, funnel)
	}
	return out, rows.Err()
}

// DeleteFunnel removes a funnel and records a delete event.
func (r *Repository) DeleteFunnel(ctx context.Context, id string, actor app.MutationActor) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	funnel, err := getFunnelByID(ctx, tx, id)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM funnels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete funnel: %w", err)
	}
	if err = translateNoRows(res); err != nil {
		return err
	}

	err = insertChangeEvent(ctx, tx, domain.ChangeEvent{
		FunnelID:  funnel.ID,
		Operation: domain.ChangeOperationDelete,
		ActorID:   chooseActorID(actor.ActorID),
		ActorType: actor.ActorType,
		Metadata: map[string]string{
			"name": funnel.Name,
			"slug": funnel.Slug,
		},
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ListFunnelChangeEvents lists the most recent events for a funnel, newest first.
func (r *Repository) ListFunnelChangeEvents(ctx context.Context, funnelID string, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, funnel_id, operation, actor_id, actor_type, metadata_json, created_at
		FROM change_events
		WHERE funnel_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, funnelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ChangeEvent, 0)
	for rows.Next() {
		var (
			event       domain.ChangeEvent
			opRaw       string
			actorType   string
			metadataRaw string
			createdRaw  string
		)
		if err := rows.Scan(&event.ID, &event.FunnelID, &opRaw, &event.ActorID, &actorType, &metadataRaw, &createdRaw); err != nil {
			return nil, err
		}
		event.Operation = normalizeChangeOperation(opRaw)
		event.ActorType = normalizeActorType(domain.ActorType(actorType))
		event.OccurredAt = parseTS(createdRaw)
		if strings.TrimSpace(metadataRaw) == "" {
			metadataRaw = "{}"
		}
		if err := json.Unmarshal([]byte(metadataRaw), &event.Metadata); err != nil {
			return nil, fmt.Errorf("decode change_events.metadata_json: %w", err)
		}
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// funnelColumns is the select list scanFunnel expects.
const funnelColumns = `id, slug, name, description, status, theme_json, steps_json, settings_json, created_at, updated_at, archived_at`

// queryRower is the read contract shared by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func getFunnelByID(ctx context.Context, q queryRower, id string) (domain.Funnel, error) {
	row := q.QueryRowContext(ctx, `SELECT `+funnelColumns+` FROM funnels WHERE id = ?`, id)
	return scanFunnel(row)
}

// execerContext is the write contract shared by *sql.DB and *sql.Tx.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// insertChangeEvent appends a record to the change ledger.
func insertChangeEvent(ctx context.Context, execer execerContext, event domain.ChangeEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode change event metadata: %w", err)
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO change_events(funnel_id, operation, actor_id, actor_type, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.FunnelID,
		string(event.Operation),
		chooseActorID(event.ActorID),
		string(normalizeActorType(event.ActorType)),
		string(metadataJSON),
		ts(normalizeEventTS(event.OccurredAt)),
	)
	if err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}
	return nil
}

// classifyFunnelTransition picks the ledger operation and metadata for an update.
func classifyFunnelTransition(prev, next domain.Funnel) (domain.ChangeOperation, map[string]string) {
	if prev.ArchivedAt == nil && next.ArchivedAt != nil {
		return domain.ChangeOperationArchive, map[string]string{"name": next.Name}
	}
	if prev.ArchivedAt != nil && next.ArchivedAt == nil {
		return domain.ChangeOperationRestore, map[string]string{"name": next.Name}
	}
	metadata := map[string]string{}
	if fields := domain.ChangedFunnelFields(prev, next); len(fields) > 0 {
		metadata["changed_fields"] = strings.Join(fields, ",")
	}
	if prev.Status != next.Status {
		metadata["from_status"] = string(prev.Status)
		metadata["to_status"] = string(next.Status)
	}
	return domain.ChangeOperationUpdate, metadata
}

// chooseActorID returns the first non-empty actor id or the default local actor.
func chooseActorID(candidates ...string) string {
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate != "" {
			return candidate
		}
	}
	return app.DefaultActorID
}

// normalizeActorType applies a default when actor type is unset or unsupported.
func normalizeActorType(actorType domain.ActorType) domain.ActorType {
	actorType = domain.NormalizeActorType(actorType)
	if !domain.IsValidActorType(actorType) {
		return domain.ActorTypeUser
	}
	return actorType
}

// normalizeChangeOperation canonicalizes persisted operation values.
func normalizeChangeOperation(raw string) domain.ChangeOperation {
	switch op := domain.ChangeOperation(strings.TrimSpace(strings.ToLower(raw))); op {
	case domain.ChangeOperationCreate,
		domain.ChangeOperationUpdate,
		domain.ChangeOperationArchive,
		domain.ChangeOperationRestore,
		domain.ChangeOperationDelete:
		return op
	default:
		return domain.ChangeOperationUpdate
	}
}

// normalizeEventTS ensures event timestamps are always populated and UTC-normalized.
func normalizeEventTS(in time.Time) time.Time {
	if in.IsZero() {
		return time.Now().UTC()
	}
	return in.UTC()
}

// funnelJSONColumns holds the JSON-encoded composite columns of a funnel row.
type funnelJSONColumns struct {
	theme    string
	steps    string
	settings string
}

func encodeFunnelColumns(f domain.Funnel) (funnelJSONColumns, error) {
	theme, err := json.Marshal(f.Theme)
	if err != nil {
		return funnelJSONColumns{}, fmt.Errorf("encode funnel theme: %w", err)
	}
	stepsValue := f.Steps
	if stepsValue == nil {
		stepsValue = []domain.Step{}
	}
	steps, err := json.Marshal(stepsValue)
	if err != nil {
		return funnelJSONColumns{}, fmt.Errorf("encode funnel steps: %w", err)
	}
	settingsValue := f.Settings
	if settingsValue == nil {
		settingsValue = map[string]string{}
	}
	settings, err := json.Marshal(settingsValue)
	if err != nil {
		return funnelJSONColumns{}, fmt.Errorf("encode funnel settings: %w", err)
	}
	return funnelJSONColumns{theme: string(theme), steps: string(steps), settings: string(settings)}, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanFunnel(s scanner) (domain.Funnel, error) {
	var (
		f           domain.Funnel
		statusRaw   string
		themeRaw    string
		stepsRaw    string
		settingsRaw string
		createdRaw  string
		updatedRaw  string
		archived    sql.NullString
	)
	err := s.Scan(&f.ID, &f.Slug, &f.Name, &f.Description, &statusRaw, &themeRaw, &stepsRaw, &settingsRaw, &createdRaw, &updatedRaw, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Funnel{}, app.ErrNotFound
	}
	if err != nil {
		return domain.Funnel{}, err
	}
	f.Status = domain.FunnelStatus(statusRaw)
	if err := decodeJSONColumn(themeRaw, "{}", &f.Theme); err != nil {
		return domain.Funnel{}, fmt.Errorf("decode funnels.theme_json: %w", err)
	}
	if err := decodeJSONColumn(stepsRaw, "[]", &f.Steps); err != nil {
		return domain.Funnel{}, fmt.Errorf("decode funnels.steps_json: %w", err)
	}
	if f.Steps == nil {
		f.Steps = []domain.Step{}
	}
	if err := decodeJSONColumn(settingsRaw, "{}", &f.Settings); err != nil {
		return domain.Funnel{}, fmt.Errorf("decode funnels.settings_json: %w", err)
	}
	if len(f.Settings) == 0 {
		f.Settings = nil
	}
	f.CreatedAt = parseTS(createdRaw)
	f.UpdatedAt = parseTS(updatedRaw)
	f.ArchivedAt = parseNullTS(archived)
	return f, nil
}

func decodeJSONColumn(raw, empty string, dst any) error {
	if strings.TrimSpace(raw) == "" {
		raw = empty
	}
	return json.Unmarshal([]byte(raw), dst)
}

// translateNoRows maps a zero-row write to app.ErrNotFound.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	return &ts
}
