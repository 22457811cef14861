package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/theopensystemslab/planx-new-sub014/internal/sanitize"
)

const duplicateEntryErr = 1062

// Snapshot is the materialized state of a flow: the version and the full
// JSON document it corresponds to. Version 0 with nil Data means the flow
// has never been committed to.
type Snapshot struct {
	ID      string          `json:"id"`
	Version uint64          `json:"version"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// FlowStore persists flows and their operation logs. All writes go through
// Commit; reads observe whatever has already been durably committed, so they
// take no locks.
type FlowStore struct {
	db *sql.DB
}

func NewFlowStore(db *sql.DB) *FlowStore {
	return &FlowStore{db: db}
}

// GetSnapshot returns the current snapshot of a flow. A flow that was never
// committed to is a valid state, reported as version 0 with no data rather
// than an error.
func (s *FlowStore) GetSnapshot(ctx context.Context, flowID string) (Snapshot, error) {
	var (
		version sql.NullInt64
		data    []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, data FROM flows WHERE id = ? LIMIT 1`,
		flowID,
	).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{ID: flowID, Version: 0}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot %s: %w", flowID, err)
	}
	if !version.Valid {
		// row exists but nothing was ever committed
		return Snapshot{ID: flowID, Version: 0}, nil
	}
	return Snapshot{ID: flowID, Version: uint64(version.Int64), Data: data}, nil
}

// GetOps returns operation payloads with version in [from, to), ascending.
// to == 0 means no upper bound. Callers may request overlapping or repeated
// ranges; the result is a pure function of persisted state.
func (s *FlowStore) GetOps(ctx context.Context, flowID string, from, to uint64) ([]json.RawMessage, error) {
	query := `SELECT data FROM operations WHERE flow_id = ? AND version >= ? ORDER BY version ASC`
	args := []any{flowID, from}
	if to > 0 {
		query = `SELECT data FROM operations WHERE flow_id = ? AND version >= ? AND version < ? ORDER BY version ASC`
		args = append(args, to)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get ops %s [%d,%d): %w", flowID, from, to, err)
	}
	defer rows.Close()

	var ops []json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		ops = append(ops, data)
	}
	return ops, rows.Err()
}

// Commit atomically appends an operation and advances the flow's snapshot,
// but only if snap.Version is exactly one past the highest committed
// version. A version mismatch is not an error: it returns (false, nil) and
// leaves stored state untouched, signalling the caller to rebase against
// newer history and retry. Both payloads are sanitized before persistence.
func (s *FlowStore) Commit(ctx context.Context, flowID string, op json.RawMessage, snap Snapshot) (bool, error) {
	op, err := sanitize.CleanRaw(op)
	if err != nil {
		return false, fmt.Errorf("sanitize op: %w", err)
	}
	data, err := sanitize.CleanRaw(snap.Data)
	if err != nil {
		return false, fmt.Errorf("sanitize snapshot: %w", err)
	}
	actorID := actorFromOp(op)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin commit %s: %w", flowID, err)
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM operations WHERE flow_id = ?`,
		flowID,
	).Scan(&maxVersion)
	if err != nil {
		return false, fmt.Errorf("read max version %s: %w", flowID, err)
	}
	if snap.Version != uint64(maxVersion.Int64)+1 {
		return false, nil
	}

	// id doubles as the flow's slug on first commit
	if _, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO flows (id, slug) VALUES (?, ?)`,
		flowID, flowID,
	); err != nil {
		return false, fmt.Errorf("ensure flow %s: %w", flowID, err)
	}

	// The (flow_id, version) uniqueness constraint backstops races that slip
	// past the max-version read above; losing that race is a clean conflict.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO operations (flow_id, version, data, actor_id) VALUES (?, ?, ?, ?)`,
		flowID, snap.Version, []byte(op), actorID,
	); err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateEntryErr {
			return false, nil
		}
		return false, fmt.Errorf("insert op %s@%d: %w", flowID, snap.Version, err)
	}

	// Second guard inside the same transaction: the snapshot only advances
	// from the version directly below. A fresh flow row still has NULL
	// version, so the first commit conditions on that instead.
	var res sql.Result
	if snap.Version == 1 {
		res, err = tx.ExecContext(ctx,
			`UPDATE flows SET version = ?, data = ? WHERE id = ? AND version IS NULL`,
			snap.Version, []byte(data), flowID,
		)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE flows SET version = ?, data = ? WHERE id = ? AND version = ?`,
			snap.Version, []byte(data), flowID, snap.Version-1,
		)
	}
	if err != nil {
		return false, fmt.Errorf("update snapshot %s@%d: %w", flowID, snap.Version, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit %s@%d: %w", flowID, snap.Version, err)
	}
	return true, nil
}

// The op payload is opaque except for the actor reference embedded in its
// metadata: {"m": {"uId": ...}}. uId may be a string or a number depending
// on the token issuer.
func actorFromOp(op json.RawMessage) string {
	var meta struct {
		M struct {
			UID any `json:"uId"`
		} `json:"m"`
	}
	if err := json.Unmarshal(op, &meta); err != nil || meta.M.UID == nil {
		return ""
	}
	switch uid := meta.M.UID.(type) {
	case string:
		return uid
	case float64:
		return fmt.Sprintf("%.0f", uid)
	default:
		return fmt.Sprint(uid)
	}
}
