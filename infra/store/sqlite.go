// Package store provides the SQLite-backed persistence driver. Records are
// stored as JSON documents with indexed key columns, and the two multi-record
// commit operations run inside transactions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kidlift/kidlift/core/model"
)

// SQLiteStore implements core/store.Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `
CREATE TABLE IF NOT EXISTS preferences (
    user_id TEXT NOT NULL,
    group_id TEXT NOT NULL,
    week TEXT NOT NULL,
    record TEXT NOT NULL,
    PRIMARY KEY(user_id, group_id, week)
);
CREATE TABLE IF NOT EXISTS assignments (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    week TEXT NOT NULL,
    slot_id TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    record TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS swap_requests (
    id TEXT PRIMARY KEY,
    assignment_id TEXT NOT NULL,
    status TEXT NOT NULL,
    auto_accept_at INTEGER,
    record TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS week_loads (
    family_id TEXT NOT NULL,
    group_id TEXT NOT NULL,
    week TEXT NOT NULL,
    trips REAL NOT NULL DEFAULT 0,
    fair_share REAL NOT NULL DEFAULT 0,
    PRIMARY KEY(family_id, group_id, week)
);`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func weekText(t time.Time) string { return model.NormalizeWeek(t).Format("2006-01-02") }

// SavePreference implements PreferenceStore.
func (s *SQLiteStore) SavePreference(ctx context.Context, p model.WeeklyPreference) error {
	p.WeekStart = model.NormalizeWeek(p.WeekStart)
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO preferences (user_id, group_id, week, record)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(user_id, group_id, week) DO UPDATE SET record = excluded.record`,
		p.UserID, p.GroupID, weekText(p.WeekStart), string(b))
	return err
}

// PreferencesForWeek implements PreferenceStore.
func (s *SQLiteStore) PreferencesForWeek(ctx context.Context, groupID string, weekStart time.Time) ([]model.WeeklyPreference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM preferences WHERE group_id = ? AND week = ? ORDER BY user_id`,
		groupID, weekText(weekStart))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.WeeklyPreference
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var p model.WeeklyPreference
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// Assignment implements AssignmentStore.
func (s *SQLiteStore) Assignment(ctx context.Context, id string) (model.Assignment, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM assignments WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Assignment{}, model.ErrNotFound
	}
	if err != nil {
		return model.Assignment{}, err
	}
	var a model.Assignment
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return model.Assignment{}, err
	}
	return a, nil
}

// AssignmentsForWeek implements AssignmentStore.
func (s *SQLiteStore) AssignmentsForWeek(ctx context.Context, groupID string, weekStart time.Time) ([]model.Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM assignments WHERE group_id = ? AND week = ? ORDER BY slot_id`,
		groupID, weekText(weekStart))
	if err != nil {
		return nil, err
	}
	return scanAssignments(rows)
}

// PendingBefore implements AssignmentStore.
func (s *SQLiteStore) PendingBefore(ctx context.Context, cutoff time.Time) ([]model.Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM assignments WHERE status = ? AND created_at <= ? ORDER BY id`,
		string(model.ConfirmationPending), cutoff.Unix())
	if err != nil {
		return nil, err
	}
	return scanAssignments(rows)
}

func scanAssignments(rows *sql.Rows) ([]model.Assignment, error) {
	defer func() { _ = rows.Close() }()
	var res []model.Assignment
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a model.Assignment
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// UpdateAssignment implements AssignmentStore.
func (s *SQLiteStore) UpdateAssignment(ctx context.Context, a model.Assignment) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE assignments SET status = ?, record = ? WHERE id = ?`,
		string(a.Status), string(b), a.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// SwapRequest implements SwapStore.
func (s *SQLiteStore) SwapRequest(ctx context.Context, id string) (model.SwapRequest, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM swap_requests WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SwapRequest{}, model.ErrNotFound
	}
	if err != nil {
		return model.SwapRequest{}, err
	}
	var r model.SwapRequest
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return model.SwapRequest{}, err
	}
	return r, nil
}

// ActiveSwapForAssignment implements SwapStore.
func (s *SQLiteStore) ActiveSwapForAssignment(ctx context.Context, assignmentID string) (model.SwapRequest, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM swap_requests WHERE assignment_id = ? AND status = ? LIMIT 1`,
		assignmentID, string(model.SwapPending)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SwapRequest{}, false, nil
	}
	if err != nil {
		return model.SwapRequest{}, false, err
	}
	var r model.SwapRequest
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return model.SwapRequest{}, false, err
	}
	return r, true, nil
}

// SaveSwapRequest implements SwapStore.
func (s *SQLiteStore) SaveSwapRequest(ctx context.Context, r model.SwapRequest) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO swap_requests (id, assignment_id, status, auto_accept_at, record) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.AssignmentID, string(r.Status), autoAcceptUnix(r), string(b))
	return err
}

// UpdateSwapRequest implements SwapStore.
func (s *SQLiteStore) UpdateSwapRequest(ctx context.Context, r model.SwapRequest) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE swap_requests SET status = ?, auto_accept_at = ?, record = ? WHERE id = ?`,
		string(r.Status), autoAcceptUnix(r), string(b), r.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func autoAcceptUnix(r model.SwapRequest) int64 {
	if r.AutoAcceptAt.IsZero() {
		return 0
	}
	return r.AutoAcceptAt.Unix()
}

// PendingSwapsDue implements SwapStore.
func (s *SQLiteStore) PendingSwapsDue(ctx context.Context, now time.Time) ([]model.SwapRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM swap_requests WHERE status = ? AND auto_accept_at > 0 AND auto_accept_at <= ? ORDER BY id`,
		string(model.SwapPending), now.Unix())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.SwapRequest
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r model.SwapRequest
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// WeekLoads implements FairnessStore.
func (s *SQLiteStore) WeekLoads(ctx context.Context, groupID string, from, to time.Time) ([]model.WeekLoad, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT family_id, group_id, week, trips, fair_share FROM week_loads
         WHERE group_id = ? AND week >= ? AND week <= ? ORDER BY week, family_id`,
		groupID, weekText(from), weekText(to))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.WeekLoad
	for rows.Next() {
		var l model.WeekLoad
		var week string
		if err := rows.Scan(&l.FamilyID, &l.GroupID, &week, &l.Trips, &l.FairShare); err != nil {
			return nil, err
		}
		l.WeekStart, err = time.ParseInLocation("2006-01-02", week, time.UTC)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// ApplyLoadDeltas implements FairnessStore. All deltas apply in one
// transaction.
func (s *SQLiteStore) ApplyLoadDeltas(ctx context.Context, deltas []model.LoadDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := applyDeltasTx(ctx, tx, deltas); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func applyDeltasTx(ctx context.Context, tx *sql.Tx, deltas []model.LoadDelta) error {
	for _, d := range deltas {
		_, err := tx.ExecContext(ctx, `INSERT INTO week_loads (family_id, group_id, week, trips, fair_share)
            VALUES (?, ?, ?, ?, ?)
            ON CONFLICT(family_id, group_id, week) DO UPDATE SET
                trips = trips + excluded.trips,
                fair_share = fair_share + excluded.fair_share`,
			d.FamilyID, d.GroupID, weekText(d.WeekStart), d.Trips, d.FairShare)
		if err != nil {
			return err
		}
	}
	return nil
}

// CommitSchedule implements Store. The whole write is one transaction; a
// taken slot aborts it with ErrConflict.
func (s *SQLiteStore) CommitSchedule(ctx context.Context, assignments []model.Assignment, deltas []model.LoadDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM assignments WHERE slot_id = ?`, a.SlotID()).Scan(&n); err != nil {
			_ = tx.Rollback()
			return err
		}
		if n > 0 {
			_ = tx.Rollback()
			return fmt.Errorf("slot %s already assigned: %w", a.SlotID(), model.ErrConflict)
		}
		b, err := json.Marshal(a)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO assignments (id, group_id, week, slot_id, status, created_at, record) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.GroupID, weekText(a.WeekStart), a.SlotID(), string(a.Status), a.CreatedAt.Unix(), string(b))
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := applyDeltasTx(ctx, tx, deltas); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ApplySwap implements Store as a single transaction. The swap request row
// is upserted so requests resolving at creation time need no prior insert.
func (s *SQLiteStore) ApplySwap(ctx context.Context, a model.Assignment, r model.SwapRequest, deltas []model.LoadDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	ab, err := json.Marshal(a)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE assignments SET status = ?, record = ? WHERE id = ?`,
		string(a.Status), string(ab), a.ID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return model.ErrNotFound
	}
	rb, err := json.Marshal(r)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO swap_requests (id, assignment_id, status, auto_accept_at, record)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            auto_accept_at = excluded.auto_accept_at,
            record = excluded.record`,
		r.ID, r.AssignmentID, string(r.Status), autoAcceptUnix(r), string(rb))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := applyDeltasTx(ctx, tx, deltas); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ResolveAssignment implements Store as a single transaction.
func (s *SQLiteStore) ResolveAssignment(ctx context.Context, a model.Assignment, deltas []model.LoadDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	b, err := json.Marshal(a)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE assignments SET status = ?, record = ? WHERE id = ?`,
		string(a.Status), string(b), a.ID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return model.ErrNotFound
	}
	if err := applyDeltasTx(ctx, tx, deltas); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
