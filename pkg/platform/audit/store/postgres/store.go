package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	audit "portalquejas/pkg/platform/audit"
	"portalquejas/pkg/platform/sentinel"
	txcontext "portalquejas/pkg/platform/tx"
)

// Store implements audit.Store on the historial_acciones table.
// Rows are immutable: the store only inserts and reads.
type Store struct {
	db *sql.DB
}

// New creates a history store over db. Call Migrate first.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Insert writes one history row and returns its id. A row for the same
// (topic, partition, offset) already present yields sentinel.ErrConflict.
func (s *Store) Insert(ctx context.Context, record audit.HistoryRecord) (int64, error) {
	query := `
		INSERT INTO historial_acciones (
			tipo_accion, entidad_afectada, registro_id,
			datos_anteriores, datos_nuevos, usuario, ip_address, user_agent,
			kafka_topic, kafka_partition, kafka_offset, occurred_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (kafka_topic, kafka_partition, kafka_offset) DO NOTHING
		RETURNING id
	`
	e := record.Event
	recordedAt := record.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	occurredAt := e.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = recordedAt
	}

	var id int64
	err := s.execer(ctx).QueryRowContext(ctx, query,
		string(e.Action),
		string(e.Entity),
		e.RecordID,
		nullableDocument(e.PreviousState),
		nullableDocument(e.NewState),
		e.ActorOrDefault(),
		e.OriginAddress,
		e.ClientAgent,
		record.SourceTopic,
		record.SourcePartition,
		record.SourceOffset,
		occurredAt,
		recordedAt,
	).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("history row %s[%d]@%d: %w",
			record.SourceTopic, record.SourcePartition, record.SourceOffset, sentinel.ErrConflict)
	case err != nil && isUniqueViolation(err):
		return 0, fmt.Errorf("insert history row: %w", sentinel.ErrConflict)
	case err != nil:
		return 0, fmt.Errorf("%w: insert history row: %w", audit.ErrStorage, err)
	}
	return id, nil
}

const selectColumns = `
	SELECT id, tipo_accion, entidad_afectada, registro_id,
		   datos_anteriores, datos_nuevos, usuario, ip_address, user_agent,
		   kafka_topic, kafka_partition, kafka_offset, occurred_at, created_at
	FROM historial_acciones
`

// List returns one page of rows matching filter, newest first, and the
// total number of matching rows.
func (s *Store) List(ctx context.Context, filter audit.Filter, page audit.Page) ([]audit.HistoryRecord, int64, error) {
	page = page.Normalize()
	where, args := whereClause(filter)

	var total int64
	if err := s.execer(ctx).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM historial_acciones"+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count history rows: %w", audit.ErrStorage, err)
	}
	if total == 0 {
		return []audit.HistoryRecord{}, 0, nil
	}

	n := len(args)
	query := selectColumns + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	rows, err := s.execer(ctx).QueryContext(ctx, query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: query history rows: %w", audit.ErrStorage, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Summary aggregates the table inside one read snapshot so the counts agree
// with each other.
func (s *Store) Summary(ctx context.Context, recent int) (audit.Summary, error) {
	summary := audit.Summary{
		ByAction:   make(map[audit.ActionKind]int64),
		ByEntity:   make(map[audit.Entity]int64),
		MostRecent: []audit.HistoryRecord{},
	}
	err := txcontext.ReadSnapshot(ctx, s.db, func(ctx context.Context) error {
		if err := s.execer(ctx).QueryRowContext(ctx,
			"SELECT COUNT(*) FROM historial_acciones",
		).Scan(&summary.TotalRecords); err != nil {
			return fmt.Errorf("%w: count history rows: %w", audit.ErrStorage, err)
		}

		byAction, err := s.countBy(ctx, "tipo_accion")
		if err != nil {
			return err
		}
		for k, v := range byAction {
			summary.ByAction[audit.ActionKind(k)] = v
		}
		byEntity, err := s.countBy(ctx, "entidad_afectada")
		if err != nil {
			return err
		}
		for k, v := range byEntity {
			summary.ByEntity[audit.Entity(k)] = v
		}

		if recent <= 0 {
			return nil
		}
		rows, err := s.execer(ctx).QueryContext(ctx,
			selectColumns+" ORDER BY created_at DESC, id DESC LIMIT $1", recent)
		if err != nil {
			return fmt.Errorf("%w: query recent history: %w", audit.ErrStorage, err)
		}
		defer rows.Close()
		summary.MostRecent, err = scanRecords(rows)
		return err
	})
	switch {
	case err == nil:
		return summary, nil
	case errors.Is(err, audit.ErrStorage):
		return audit.Summary{}, err
	default:
		return audit.Summary{}, fmt.Errorf("%w: summary: %w", audit.ErrStorage, err)
	}
}

// countBy groups by a fixed column name; column is never user input.
func (s *Store) countBy(ctx context.Context, column string) (map[string]int64, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM historial_acciones GROUP BY "+column)
	if err != nil {
		return nil, fmt.Errorf("%w: group history by %s: %w", audit.ErrStorage, column, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			key   string
			count int64
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("%w: scan group: %w", audit.ErrStorage, err)
		}
		out[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate groups: %w", audit.ErrStorage, err)
	}
	return out, nil
}

func whereClause(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Action != "" {
		add("tipo_accion = $%d", string(f.Action))
	}
	if f.Entity != "" {
		add("entidad_afectada = $%d", string(f.Entity))
	}
	if f.RecordID != 0 {
		add("registro_id = $%d", f.RecordID)
	}
	if actor := strings.TrimSpace(f.Actor); actor != "" {
		add("usuario ILIKE $%d", "%"+escapeLike(actor)+"%")
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// nullableDocument maps an absent snapshot to SQL NULL. The text form is
// cast to jsonb by the column type.
func nullableDocument(d audit.Document) any {
	if audit.IsEmptyDocument(d) {
		return nil
	}
	return string(d)
}

// scanRecords scans multiple rows into audit.HistoryRecord values.
func scanRecords(rows *sql.Rows) ([]audit.HistoryRecord, error) {
	records := []audit.HistoryRecord{}

	for rows.Next() {
		var (
			r        audit.HistoryRecord
			action   string
			entity   string
			previous sql.NullString
			current  sql.NullString
		)
		err := rows.Scan(
			&r.ID,
			&action,
			&entity,
			&r.Event.RecordID,
			&previous,
			&current,
			&r.Event.Actor,
			&r.Event.OriginAddress,
			&r.Event.ClientAgent,
			&r.SourceTopic,
			&r.SourcePartition,
			&r.SourceOffset,
			&r.Event.OccurredAt,
			&r.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan history row: %w", audit.ErrStorage, err)
		}
		r.Event.Action = audit.ActionKind(action)
		r.Event.Entity = audit.Entity(entity)
		if previous.Valid {
			r.Event.PreviousState = audit.Document(previous.String)
		}
		if current.Valid {
			r.Event.NewState = audit.Document(current.String)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate history rows: %w", audit.ErrStorage, err)
	}
	return records, nil
}
