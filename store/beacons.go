package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dotside-studios/seatlink-agent/beacon"
)

// Beacon is one registered beacon.
type Beacon struct {
	Identity  beacon.Identity
	TableID   string
	Label     string
	CreatedAt time.Time
	LastSeen  *time.Time
}

// Entry returns the allow-list entry for the beacon.
func (b Beacon) Entry() beacon.AllowEntry {
	return beacon.AllowEntry{Identity: b.Identity, TableID: b.TableID, Label: b.Label}
}

// UpsertBeacon registers a beacon or updates its table id and label.
func (s *Store) UpsertBeacon(ctx context.Context, e beacon.AllowEntry) error {
	if e.Identity.IsZero() {
		return fmt.Errorf("upsert beacon: empty identity")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO beacons (identity, kind, table_id, label, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET table_id = excluded.table_id, label = excluded.label`,
		e.Identity.String(), e.Identity.Kind().String(), e.TableID, e.Label, unixMilli(s.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert beacon %s: %w", e.Identity, err)
	}
	return nil
}

// SyncAllowList upserts every entry of list in one transaction.
func (s *Store) SyncAllowList(ctx context.Context, list beacon.AllowList) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO beacons (identity, kind, table_id, label, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET table_id = excluded.table_id, label = excluded.label`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := unixMilli(s.now())
	for _, e := range list {
		if _, err := stmt.ExecContext(ctx, e.Identity.String(), e.Identity.Kind().String(), e.TableID, e.Label, now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert beacon %s: %w", e.Identity, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit allow list: %w", err)
	}
	return nil
}

// DeleteBeacon removes a beacon from the registry.
func (s *Store) DeleteBeacon(ctx context.Context, id beacon.Identity) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM beacons WHERE identity = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete beacon %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Beacon returns one registered beacon.
func (s *Store) Beacon(ctx context.Context, id beacon.Identity) (Beacon, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT identity, table_id, label, created_at, last_seen FROM beacons WHERE identity = ?`, id.String())
	b, err := scanBeacon(row)
	if err == sql.ErrNoRows {
		return Beacon{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return b, err
}

// Beacons lists the registry in registration order.
func (s *Store) Beacons(ctx context.Context) ([]Beacon, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, table_id, label, created_at, last_seen FROM beacons ORDER BY created_at, identity`)
	if err != nil {
		return nil, fmt.Errorf("list beacons: %w", err)
	}
	defer rows.Close()

	var out []Beacon
	for rows.Next() {
		b, err := scanBeacon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AllowList returns the registry as an allow-list.
func (s *Store) AllowList(ctx context.Context) (beacon.AllowList, error) {
	beacons, err := s.Beacons(ctx)
	if err != nil {
		return nil, err
	}
	list := make(beacon.AllowList, 0, len(beacons))
	for _, b := range beacons {
		list = append(list, b.Entry())
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBeacon(r rowScanner) (Beacon, error) {
	var (
		identity  string
		b         Beacon
		createdAt int64
		lastSeen  sql.NullInt64
	)
	if err := r.Scan(&identity, &b.TableID, &b.Label, &createdAt, &lastSeen); err != nil {
		return Beacon{}, err
	}
	id, err := beacon.ParseIdentity(identity)
	if err != nil {
		return Beacon{}, fmt.Errorf("stored beacon: %w", err)
	}
	b.Identity = id
	b.CreatedAt = fromMilli(createdAt)
	if lastSeen.Valid {
		t := fromMilli(lastSeen.Int64)
		b.LastSeen = &t
	}
	return b, nil
}
