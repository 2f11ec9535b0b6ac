package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dotside-studios/seatlink-agent/resolve"
)

// Resolution is one logged outcome.
type Resolution struct {
	ID         int64
	Caller     string
	Result     resolve.Result
	TableID    string
	Modality   string
	Identity   string
	Attempts   int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is how long the resolution took.
func (r Resolution) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RecordOutcome logs an outcome and, when a beacon was matched, stamps its
// last-seen time.
func (s *Store) RecordOutcome(ctx context.Context, o resolve.Outcome) error {
	started, finished := o.StartedAt, o.FinishedAt
	if finished.IsZero() {
		finished = s.now()
	}
	if started.IsZero() {
		started = finished
	}
	var errText, identity string
	if o.Err != nil {
		errText = o.Err.Error()
	}
	if !o.Identity.IsZero() {
		identity = o.Identity.String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO resolutions (caller, result, table_id, modality, identity, attempts, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Caller, o.Result.String(), o.TableID, string(o.Modality), identity, len(o.Attempts), errText,
		unixMilli(started), unixMilli(finished),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert resolution: %w", err)
	}
	if o.Found() && identity != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE beacons SET last_seen = ? WHERE identity = ?`,
			unixMilli(finished), identity); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update last seen: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit resolution: %w", err)
	}
	return nil
}

// RecentResolutions returns up to limit outcomes, newest first.
func (s *Store) RecentResolutions(ctx context.Context, limit int) ([]Resolution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, caller, result, table_id, modality, identity, attempts, error, started_at, finished_at
		FROM resolutions ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list resolutions: %w", err)
	}
	defer rows.Close()

	var out []Resolution
	for rows.Next() {
		var (
			r                 Resolution
			result            string
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.Caller, &result, &r.TableID, &r.Modality, &r.Identity,
			&r.Attempts, &r.Error, &started, &finished); err != nil {
			return nil, err
		}
		if r.Result, err = resolve.ParseResult(result); err != nil {
			return nil, err
		}
		r.StartedAt, r.FinishedAt = fromMilli(started), fromMilli(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneResolutions deletes outcomes that finished before cutoff.
func (s *Store) PruneResolutions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM resolutions WHERE finished_at < ?`, unixMilli(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune resolutions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		Logf("[store] pruned %d resolutions older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}
