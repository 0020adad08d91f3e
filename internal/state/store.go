// Package state persists sync records in SQLite. Every operation is scoped
// to one calendar pair; multiple pairs share a database file without seeing
// each other's rows.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Origin names which side of a pair is authoritative for a record. It is
// assigned when the record is created and never changes afterwards.
type Origin string

const (
	OriginSource Origin = "source"
	OriginTarget Origin = "target"
)

// Record is one tracked source/mirror relationship.
type Record struct {
	SourceUID  string
	TargetUID  string
	SourceHash string
	TargetHash string
	Origin     Origin
	CreatedAt  int64
	LastSyncAt int64
}

// Pair scopes a store to one (source calendar, target calendar) tuple.
type Pair struct {
	SourceCalendarID string
	TargetCalendarID string
}

func (p Pair) String() string {
	return p.SourceCalendarID + "->" + p.TargetCalendarID
}

// MigrationError reports legacy rows that cannot be migrated without a
// destructive operation confirming the caller's intent.
type MigrationError struct {
	Ambiguous int
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf(
		"state database migrated, but %d record(s) with origin=target may use the old inverted convention and cannot be assigned to a pair safely; run refresh to rebuild state or clear to remove synced events",
		e.Ambiguous,
	)
}

// Store is a pair-scoped handle on the sync-state database.
type Store struct {
	db   *sql.DB
	pair Pair
}

const schema = `
CREATE TABLE IF NOT EXISTS sync_state (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_calendar_id TEXT NOT NULL,
	target_calendar_id TEXT NOT NULL,
	source_uid TEXT NOT NULL,
	target_uid TEXT NOT NULL,
	source_hash TEXT NOT NULL,
	target_hash TEXT NOT NULL,
	origin TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	last_sync_at INTEGER NOT NULL,
	UNIQUE(source_calendar_id, target_calendar_id, source_uid)
)`

// Open opens (creating if needed) the state database at path, scoped to the
// given pair. A database still on the legacy single-pair schema is left
// untouched until Migrate is called.
func Open(path string, pair Pair) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize state schema: %w", err)
	}
	return &Store{db: db, pair: pair}, nil
}

// Pair returns the pair this store is scoped to.
func (s *Store) Pair() Pair { return s.pair }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// detectLegacy reports whether the table on disk predates pair scoping.
func (s *Store) detectLegacy() (bool, error) {
	rows, err := s.db.Query(`PRAGMA table_info(sync_state)`)
	if err != nil {
		return false, fmt.Errorf("inspect state schema: %w", err)
	}
	defer rows.Close()

	hasPairColumns := false
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("inspect state schema: %w", err)
		}
		if name == "source_calendar_id" {
			hasPairColumns = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("inspect state schema: %w", err)
	}
	return !hasPairColumns, nil
}

// Migrate upgrades a legacy single-pair database to the pair-scoped schema.
// Legacy rows with origin=source are assigned to this store's pair. Rows
// with origin=target may be in the old inverted source/target convention, so
// the rebuild leaves their pair columns empty: quarantined rows never match
// a pair-scoped query, and Migrate keeps returning a MigrationError on every
// run until a destructive one (refresh or clear, which rebuild or remove the
// synced events anyway) purges them.
func (s *Store) Migrate(destructive bool) error {
	legacy, err := s.detectLegacy()
	if err != nil {
		return err
	}
	if !legacy {
		return s.settleQuarantine(destructive)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE sync_state_new (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_calendar_id TEXT NOT NULL,
			target_calendar_id TEXT NOT NULL,
			source_uid TEXT NOT NULL,
			target_uid TEXT NOT NULL,
			source_hash TEXT NOT NULL,
			target_hash TEXT NOT NULL,
			origin TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_sync_at INTEGER NOT NULL,
			UNIQUE(source_calendar_id, target_calendar_id, source_uid)
		)`); err != nil {
		return fmt.Errorf("migrate state schema: %w", err)
	}
	if _, err := s.db.Exec(`
		INSERT INTO sync_state_new
			(source_calendar_id, target_calendar_id, source_uid, target_uid,
			 source_hash, target_hash, origin, created_at, last_sync_at)
		SELECT CASE origin WHEN 'target' THEN '' ELSE ? END,
		       CASE origin WHEN 'target' THEN '' ELSE ? END,
		       source_uid, target_uid,
		       source_hash, target_hash, origin, created_at, last_sync_at
		FROM sync_state`,
		s.pair.SourceCalendarID, s.pair.TargetCalendarID,
	); err != nil {
		return fmt.Errorf("migrate state rows: %w", err)
	}
	if _, err := s.db.Exec(`DROP TABLE sync_state`); err != nil {
		return fmt.Errorf("migrate state schema: %w", err)
	}
	if _, err := s.db.Exec(`ALTER TABLE sync_state_new RENAME TO sync_state`); err != nil {
		return fmt.Errorf("migrate state schema: %w", err)
	}
	return s.settleQuarantine(destructive)
}

// settleQuarantine resolves rows a legacy migration left without a pair
// assignment.
func (s *Store) settleQuarantine(destructive bool) error {
	var quarantined int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sync_state WHERE source_calendar_id = ''`,
	).Scan(&quarantined); err != nil {
		return fmt.Errorf("count quarantined records: %w", err)
	}
	if quarantined == 0 {
		return nil
	}
	if !destructive {
		return &MigrationError{Ambiguous: quarantined}
	}
	if _, err := s.db.Exec(`DELETE FROM sync_state WHERE source_calendar_id = ''`); err != nil {
		return fmt.Errorf("purge quarantined records: %w", err)
	}
	return nil
}

// IsMigrationRefusal reports whether err is a MigrationError.
func IsMigrationRefusal(err error) bool {
	var me *MigrationError
	return errors.As(err, &me)
}

const recordColumns = `source_uid, target_uid, source_hash, target_hash, origin, created_at, last_sync_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var r Record
	err := row.Scan(&r.SourceUID, &r.TargetUID, &r.SourceHash, &r.TargetHash, &r.Origin, &r.CreatedAt, &r.LastSyncAt)
	return r, err
}

func (s *Store) queryRecords(where string, args ...any) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM sync_state
		WHERE source_calendar_id = ? AND target_calendar_id = ?` + where + ` ORDER BY id`
	all := append([]any{s.pair.SourceCalendarID, s.pair.TargetCalendarID}, args...)

	rows, err := s.db.Query(query, all...)
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan state record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// All returns every record for this pair in insertion order.
func (s *Store) All() ([]Record, error) {
	return s.queryRecords("")
}

// BySourceOrigin returns records with origin=source, keyed by source UID.
func (s *Store) BySourceOrigin() (map[string]Record, error) {
	recs, err := s.queryRecords(` AND origin = 'source'`)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(recs))
	for _, r := range recs {
		out[r.SourceUID] = r
	}
	return out, nil
}

// ByTargetOrigin returns records with origin=target, keyed by target UID.
func (s *Store) ByTargetOrigin() (map[string]Record, error) {
	recs, err := s.queryRecords(` AND origin = 'target'`)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(recs))
	for _, r := range recs {
		out[r.TargetUID] = r
	}
	return out, nil
}

// GetBySourceUID returns the record for a source UID, or false if untracked.
func (s *Store) GetBySourceUID(sourceUID string) (Record, bool, error) {
	row := s.db.QueryRow(`SELECT `+recordColumns+` FROM sync_state
		WHERE source_calendar_id = ? AND target_calendar_id = ? AND source_uid = ?`,
		s.pair.SourceCalendarID, s.pair.TargetCalendarID, sourceUID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("query state: %w", err)
	}
	return r, true, nil
}

// GetByTargetUID returns the record for a target UID, or false if untracked.
func (s *Store) GetByTargetUID(targetUID string) (Record, bool, error) {
	row := s.db.QueryRow(`SELECT `+recordColumns+` FROM sync_state
		WHERE source_calendar_id = ? AND target_calendar_id = ? AND target_uid = ?`,
		s.pair.SourceCalendarID, s.pair.TargetCalendarID, targetUID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("query state: %w", err)
	}
	return r, true, nil
}

// Upsert inserts a record, or on conflict updates the target UID and hashes
// while preserving the original created_at and origin.
func (s *Store) Upsert(sourceUID, targetUID, sourceHash, targetHash string, origin Origin) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO sync_state
			(source_calendar_id, target_calendar_id, source_uid, target_uid,
			 source_hash, target_hash, origin, created_at, last_sync_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_calendar_id, target_calendar_id, source_uid) DO UPDATE SET
			target_uid = excluded.target_uid,
			source_hash = excluded.source_hash,
			target_hash = excluded.target_hash,
			last_sync_at = excluded.last_sync_at`,
		s.pair.SourceCalendarID, s.pair.TargetCalendarID, sourceUID, targetUID,
		sourceHash, targetHash, string(origin), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert state record %s: %w", sourceUID, err)
	}
	return nil
}

// UpdateHashes records new content hashes after a successful update.
func (s *Store) UpdateHashes(sourceUID, targetUID, sourceHash, targetHash string) error {
	_, err := s.db.Exec(`
		UPDATE sync_state SET source_hash = ?, target_hash = ?, last_sync_at = ?
		WHERE source_calendar_id = ? AND target_calendar_id = ?
		AND source_uid = ? AND target_uid = ?`,
		sourceHash, targetHash, time.Now().Unix(),
		s.pair.SourceCalendarID, s.pair.TargetCalendarID, sourceUID, targetUID,
	)
	if err != nil {
		return fmt.Errorf("update state record %s: %w", sourceUID, err)
	}
	return nil
}

// DeleteBySourceUID removes the record for a source UID.
func (s *Store) DeleteBySourceUID(sourceUID string) error {
	_, err := s.db.Exec(`DELETE FROM sync_state
		WHERE source_calendar_id = ? AND target_calendar_id = ? AND source_uid = ?`,
		s.pair.SourceCalendarID, s.pair.TargetCalendarID, sourceUID)
	if err != nil {
		return fmt.Errorf("delete state record %s: %w", sourceUID, err)
	}
	return nil
}

// DeleteByPair removes the record matching both UIDs.
func (s *Store) DeleteByPair(sourceUID, targetUID string) error {
	_, err := s.db.Exec(`DELETE FROM sync_state
		WHERE source_calendar_id = ? AND target_calendar_id = ?
		AND source_uid = ? AND target_uid = ?`,
		s.pair.SourceCalendarID, s.pair.TargetCalendarID, sourceUID, targetUID)
	if err != nil {
		return fmt.Errorf("delete state record %s/%s: %w", sourceUID, targetUID, err)
	}
	return nil
}

// ClearAll removes every record for this pair.
func (s *Store) ClearAll() error {
	_, err := s.db.Exec(`DELETE FROM sync_state
		WHERE source_calendar_id = ? AND target_calendar_id = ?`,
		s.pair.SourceCalendarID, s.pair.TargetCalendarID)
	if err != nil {
		return fmt.Errorf("clear state records: %w", err)
	}
	return nil
}

// PairStatus is one aggregate row reported by StatusAllPairs.
type PairStatus struct {
	Pair       Pair
	Origin     Origin
	Count      int
	LastSyncAt int64
}

// StatusAllPairs summarizes every pair recorded in the database at path. A
// missing file or a database still on the legacy schema yields no rows.
func StatusAllPairs(path string) ([]PairStatus, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'sync_state'`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inspect state database: %w", err)
	}

	rows, err := db.Query(`
		SELECT source_calendar_id, target_calendar_id, origin,
		       COUNT(*), MAX(last_sync_at)
		FROM sync_state
		WHERE source_calendar_id <> ''
		GROUP BY source_calendar_id, target_calendar_id, origin
		ORDER BY source_calendar_id, target_calendar_id, origin`)
	if err != nil {
		// Legacy schema lacks the pair columns.
		return nil, nil
	}
	defer rows.Close()

	var out []PairStatus
	for rows.Next() {
		var ps PairStatus
		if err := rows.Scan(&ps.Pair.SourceCalendarID, &ps.Pair.TargetCalendarID, &ps.Origin, &ps.Count, &ps.LastSyncAt); err != nil {
			return nil, fmt.Errorf("scan status row: %w", err)
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// RenameCalendar rewrites a calendar identifier across every pair recorded
// in the database at path, in both the source and target columns. A renamed
// calendar directory would otherwise orphan its state rows. Returns the
// number of rows matched; with dryRun set, counts without writing.
func RenameCalendar(path, oldID, newID string, dryRun bool) (int, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0, fmt.Errorf("state database not found: %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	total := 0
	for _, column := range []string{"source_calendar_id", "target_calendar_id"} {
		var n int
		if err := db.QueryRow(
			`SELECT COUNT(*) FROM sync_state WHERE `+column+` = ?`, oldID,
		).Scan(&n); err != nil {
			return total, fmt.Errorf("count state records: %w", err)
		}
		if n == 0 {
			continue
		}
		if !dryRun {
			if _, err := db.Exec(
				`UPDATE sync_state SET `+column+` = ? WHERE `+column+` = ?`,
				newID, oldID,
			); err != nil {
				return total, fmt.Errorf("rename calendar %s: %w", oldID, err)
			}
		}
		total += n
	}
	return total, nil
}
