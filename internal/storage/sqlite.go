package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/tazhate/taskseries/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Storage struct {
	db   *sql.DB
	q    querier
	inTx bool
	log  zerolog.Logger
}

func New(dbPath string, log zerolog.Logger) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db, q: db, log: log.With().Str("component", "storage").Logger()}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		// Series, instances and standalone tasks share one table.
		// Series rows carry the recurrence columns, instance rows carry series_id.
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			description TEXT DEFAULT '',
			assignees TEXT DEFAULT '[]',
			start_at DATETIME NOT NULL,
			end_at DATETIME,
			status TEXT NOT NULL DEFAULT 'pending',
			is_recurring INTEGER NOT NULL DEFAULT 0,
			frequency TEXT DEFAULT '',
			weekdays TEXT DEFAULT '',
			month_days TEXT DEFAULT '',
			series_end DATETIME,
			is_instance INTEGER NOT NULL DEFAULT 0,
			series_id INTEGER REFERENCES tasks(id) ON DELETE CASCADE,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_series_start ON tasks(series_id, start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_recurring_active ON tasks(is_recurring, active)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// InTx runs fn against a Storage bound to a single transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
// Nested calls reuse the outer transaction.
func (s *Storage) InTx(ctx context.Context, fn func(tx *Storage) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txs := &Storage{db: s.db, q: tx, inTx: true, log: s.log}
	if err := fn(txs); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// === Series ===

const seriesColumns = `id, title, description, assignees, start_at, end_at, status,
	frequency, weekdays, month_days, series_end, active, created_at, updated_at`

func (s *Storage) CreateSeries(ctx context.Context, sr *domain.Series) error {
	rule := sr.Rule
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO tasks (title, description, assignees, start_at, end_at, status,
			is_recurring, frequency, weekdays, month_days, series_end, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?)`,
		sr.Title, sr.Description, sr.AssigneesJSON(), sr.StartAt.UTC(), nullTime(sr.EndAt), sr.Status,
		rule.Frequency(), domain.FormatWeekdays(rule.Weekdays()), domain.FormatMonthDays(rule.MonthDays()),
		rule.SeriesEnd().UTC(), sr.Active, now, now,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	sr.ID = id
	sr.CreatedAt = now
	sr.UpdatedAt = now
	return nil
}

func (s *Storage) GetSeries(ctx context.Context, id int64) (*domain.Series, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+seriesColumns+` FROM tasks WHERE id = ? AND is_recurring = 1`, id)
	sr, err := scanSeries(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sr, err
}

// ListSeries returns series ordered by id, optionally only active ones.
func (s *Storage) ListSeries(ctx context.Context, activeOnly bool) ([]*domain.Series, error) {
	query := `SELECT ` + seriesColumns + ` FROM tasks WHERE is_recurring = 1`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*domain.Series
	for rows.Next() {
		sr, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, sr)
	}
	return list, rows.Err()
}

// UpdateSeries replaces the template, rule and active flag of a series.
func (s *Storage) UpdateSeries(ctx context.Context, sr *domain.Series) error {
	rule := sr.Rule
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, assignees = ?, start_at = ?, end_at = ?,
			frequency = ?, weekdays = ?, month_days = ?, series_end = ?, active = ?, updated_at = ?
		 WHERE id = ? AND is_recurring = 1`,
		sr.Title, sr.Description, sr.AssigneesJSON(), sr.StartAt.UTC(), nullTime(sr.EndAt),
		rule.Frequency(), domain.FormatWeekdays(rule.Weekdays()), domain.FormatMonthDays(rule.MonthDays()),
		rule.SeriesEnd().UTC(), sr.Active, now, sr.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	sr.UpdatedAt = now
	return nil
}

func (s *Storage) SetSeriesActive(ctx context.Context, id int64, active bool) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE tasks SET active = ?, updated_at = ? WHERE id = ? AND is_recurring = 1`,
		active, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeries(row rowScanner) (*domain.Series, error) {
	sr := &domain.Series{}
	var (
		assignees, weekdays, monthDays, freq string
		endAt, seriesEnd                     sql.NullTime
	)
	if err := row.Scan(&sr.ID, &sr.Title, &sr.Description, &assignees, &sr.StartAt, &endAt, &sr.Status,
		&freq, &weekdays, &monthDays, &seriesEnd, &sr.Active, &sr.CreatedAt, &sr.UpdatedAt); err != nil {
		return nil, err
	}
	sr.EndAt = endAt.Time

	var err error
	if sr.Assignees, err = domain.ParseAssigneesJSON(assignees); err != nil {
		return nil, fmt.Errorf("series %d: assignees: %w", sr.ID, err)
	}
	days, err := domain.ParseMonthDays(monthDays)
	if err != nil {
		return nil, fmt.Errorf("series %d: %w", sr.ID, err)
	}
	sr.Rule, err = domain.NewRecurrenceRule(domain.RuleSpec{
		Frequency: domain.Frequency(freq),
		Weekdays:  domain.SplitList(weekdays),
		MonthDays: days,
		SeriesEnd: seriesEnd.Time,
	}, sr.StartAt)
	if err != nil {
		return nil, fmt.Errorf("series %d: stored rule: %w", sr.ID, err)
	}
	return sr, nil
}

// === Instances ===

const instanceColumns = `id, series_id, title, description, assignees, start_at, end_at, status, active, created_at`

// FindInstance returns the instance of a series starting at start, or nil.
func (s *Storage) FindInstance(ctx context.Context, seriesID int64, start time.Time) (*domain.Instance, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM tasks WHERE series_id = ? AND start_at = ?`,
		seriesID, start.UTC())
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

// CreateInstance inserts an instance. A row with the same (series_id, start_at)
// yields domain.ErrDuplicate.
func (s *Storage) CreateInstance(ctx context.Context, inst *domain.Instance) error {
	now := time.Now().UTC()
	assignees := domain.Template{Assignees: inst.Assignees}.AssigneesJSON()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO tasks (title, description, assignees, start_at, end_at, status,
			is_instance, series_id, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		inst.Title, inst.Description, assignees, inst.StartAt.UTC(), nullTime(inst.EndAt), inst.Status,
		inst.SeriesID, inst.Active, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("series %d at %s: %w", inst.SeriesID, inst.StartAt.Format(time.RFC3339), domain.ErrDuplicate)
		}
		return err
	}
	id, _ := res.LastInsertId()
	inst.ID = id
	inst.CreatedAt = now
	return nil
}

// ListInstances returns a series' instances ordered by start ascending.
func (s *Storage) ListInstances(ctx context.Context, seriesID int64) ([]*domain.Instance, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM tasks WHERE series_id = ? ORDER BY start_at, id`, seriesID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, inst)
	}
	return list, rows.Err()
}

// UpdateInstanceStatus sets the status of a single instance.
func (s *Storage) UpdateInstanceStatus(ctx context.Context, id int64, status domain.TaskStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND is_instance = 1`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteInstancesBySeries removes every instance of a series and returns the count.
func (s *Storage) DeleteInstancesBySeries(ctx context.Context, seriesID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM tasks WHERE series_id = ?`, seriesID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanInstance(row rowScanner) (*domain.Instance, error) {
	inst := &domain.Instance{}
	var (
		assignees string
		endAt     sql.NullTime
	)
	if err := row.Scan(&inst.ID, &inst.SeriesID, &inst.Title, &inst.Description, &assignees,
		&inst.StartAt, &endAt, &inst.Status, &inst.Active, &inst.CreatedAt); err != nil {
		return nil, err
	}
	inst.EndAt = endAt.Time
	var err error
	if inst.Assignees, err = domain.ParseAssigneesJSON(assignees); err != nil {
		return nil, fmt.Errorf("instance %d: assignees: %w", inst.ID, err)
	}
	return inst, nil
}

// === Tasks ===

// GetTask returns the read view of any row. Instances carry the frequency of
// their series.
func (s *Storage) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	t := &domain.Task{}
	var (
		endAt    sql.NullTime
		seriesID sql.NullInt64
		freq     string
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT t.id, t.title, t.status, t.start_at, t.end_at, t.is_recurring, t.is_instance, t.series_id,
			COALESCE(NULLIF(t.frequency, ''), p.frequency, '')
		 FROM tasks t LEFT JOIN tasks p ON p.id = t.series_id
		 WHERE t.id = ?`, id,
	).Scan(&t.ID, &t.Title, &t.Status, &t.StartAt, &endAt, &t.IsRecurring, &t.IsInstance, &seriesID, &freq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.EndAt = endAt.Time
	t.SeriesID = seriesID.Int64
	t.Frequency = domain.Frequency(freq)
	return t, nil
}

// DeleteTask removes a single row by id.
func (s *Storage) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateTask inserts a standalone, non-recurring task.
func (s *Storage) CreateTask(ctx context.Context, t *domain.Task) error {
	title := strings.TrimSpace(t.Title)
	if title == "" {
		return fmt.Errorf("task title cannot be empty")
	}
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO tasks (title, start_at, end_at, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		title, t.StartAt.UTC(), nullTime(t.EndAt), t.Status, now, now,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	t.ID = id
	t.Title = title
	return nil
}

// UpdateTaskStatus changes the status of a standalone task.
func (s *Storage) UpdateTaskStatus(ctx context.Context, id int64, status domain.TaskStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND is_recurring = 0 AND is_instance = 0`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
