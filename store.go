package tether

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/hyperengineering/tether/internal/store/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// targetSchemaVersion is the schema version this build wants to run at.
const targetSchemaVersion int64 = 1

const metaSchemaVersion = "schema_version"

// collectionDDL holds the baseline definition of each required collection,
// used when schema verification finds a collection missing after migration.
var collectionDDL = map[Kind]string{
	KindJournal:   `CREATE TABLE IF NOT EXISTS journal (id TEXT PRIMARY KEY, last_modified INTEGER NOT NULL DEFAULT 0, payload TEXT NOT NULL DEFAULT '{}')`,
	KindSkills:    `CREATE TABLE IF NOT EXISTS skills (id TEXT PRIMARY KEY, last_modified INTEGER NOT NULL DEFAULT 0, payload TEXT NOT NULL DEFAULT '{}')`,
	KindSolutions: `CREATE TABLE IF NOT EXISTS solutions (id TEXT PRIMARY KEY, last_modified INTEGER NOT NULL DEFAULT 0, payload TEXT NOT NULL DEFAULT '{}')`,
	KindInsights:  `CREATE TABLE IF NOT EXISTS insights (id TEXT PRIMARY KEY, last_modified INTEGER NOT NULL DEFAULT 0, payload TEXT NOT NULL DEFAULT '{}')`,
}

// Store manages the local SQLite replica database: one table per record
// kind plus a metadata table for cursors, settings and the schema version.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	closed  bool
	path    string
	version int64
}

// OpenStore opens or creates the local replica store.
//
// The schema open sequence is self-healing: migrations run up to the target
// version, a store already at a newer version is accepted as-is rather than
// treated as a downgrade error, and any collection still missing afterwards
// is created with the schema version bumped past whatever was recorded.
// Failures that cannot be resolved this way wrap ErrStorageUnavailable so
// callers can switch to the fallback store.
func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w: %w", ErrStorageUnavailable, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w: %w", ErrStorageUnavailable, err)
	}

	// WAL mode for concurrent readers during sync
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w: %w", ErrStorageUnavailable, err)
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}

	present, err := goose.GetDBVersion(s.db)
	if err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	// A store written by a newer build reports a version past our target.
	// Open it at whatever version is present instead of failing; schema
	// verification below catches anything genuinely missing.
	if present < targetSchemaVersion {
		if err := goose.Up(s.db, "."); err != nil {
			return fmt.Errorf("store: run migrations: %w", err)
		}
		present = targetSchemaVersion
	}

	// metadata must exist before anything reads the recorded version; a
	// partial schema from an interrupted open may lack it
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("store: ensure metadata: %w", err)
	}

	recorded, err := s.recordedVersion()
	if err != nil {
		return err
	}
	if recorded == 0 {
		recorded = present
	}
	s.version = recorded

	missing, err := s.missingCollections()
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		if err := s.healSchema(missing, recorded+1); err != nil {
			return err
		}
		// verify the forced upgrade actually produced the collections
		missing, err = s.missingCollections()
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("store: collections still missing after forced upgrade: %v: %w", missing, ErrSchemaCorrupt)
		}
	}

	return s.setMetaUnlocked(metaSchemaVersion, strconv.FormatInt(s.version, 10))
}

func (s *Store) recordedVersion() (int64, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, metaSchemaVersion).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read recorded version: %w", err)
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

func (s *Store) missingCollections() ([]Kind, error) {
	var missing []Kind
	for _, kind := range Kinds() {
		var name string
		err := s.db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, string(kind),
		).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, kind)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: inspect schema: %w", err)
		}
	}
	return missing, nil
}

// healSchema creates missing collections inside one transaction and bumps
// the recorded schema version so the repair is observable.
func (s *Store) healSchema(missing []Kind, newVersion int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin heal: %w", err)
	}
	defer tx.Rollback()

	for _, kind := range missing {
		if _, err := tx.Exec(collectionDDL[kind]); err != nil {
			return fmt.Errorf("store: recreate %s: %w", kind, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit heal: %w", err)
	}

	s.version = newVersion
	return nil
}

// Version returns the effective schema version of the opened store. After a
// forced schema repair it is strictly greater than the pre-repair version.
func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// PutRecord inserts or replaces a record of the given kind.
func (s *Store) PutRecord(kind Kind, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if !kind.IsValid() {
		return ErrInvalidKind
	}

	return putRecordTx(s.db, kind, rec)
}

// execer abstracts Exec shared by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func putRecordTx(e execer, kind Kind, rec Record) error {
	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("store: encode payload: %w", err)
	}
	_, err = e.Exec(fmt.Sprintf(`
		INSERT INTO %s (id, last_modified, payload) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_modified = excluded.last_modified,
			payload = excluded.payload
	`, kind), rec.ID, rec.LastModified, string(payload))
	if err != nil {
		return fmt.Errorf("store: put %s record: %w", kind, err)
	}
	return nil
}

// PutRecords writes records across several kinds in one all-or-nothing
// transaction. Used by the recovery merge and the backup import.
func (s *Store) PutRecords(batch map[Kind][]Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	for kind := range batch {
		if !kind.IsValid() {
			return ErrInvalidKind
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	for kind, records := range batch {
		for _, rec := range records {
			if err := putRecordTx(tx, kind, rec); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// Get retrieves a record by kind and id.
func (s *Store) Get(kind Kind, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if !kind.IsValid() {
		return nil, ErrInvalidKind
	}

	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT id, last_modified, payload FROM %s WHERE id = ?`, kind), id)
	return scanRecord(row)
}

// GetAll returns every record of a kind ordered by last_modified.
func (s *Store) GetAll(kind Kind) ([]Record, error) {
	return s.getRecords(kind, -1)
}

// GetSince returns records of a kind with last_modified strictly greater
// than the given cursor, ordered by last_modified. Used by push enumeration.
func (s *Store) GetSince(kind Kind, cursor int64) ([]Record, error) {
	return s.getRecords(kind, cursor)
}

func (s *Store) getRecords(kind Kind, after int64) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if !kind.IsValid() {
		return nil, ErrInvalidKind
	}

	query := fmt.Sprintf(`SELECT id, last_modified, payload FROM %s`, kind)
	args := []any{}
	if after >= 0 {
		query += ` WHERE last_modified > ?`
		args = append(args, after)
	}
	query += ` ORDER BY last_modified`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", kind, err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *rec)
	}
	return results, rows.Err()
}

// DeleteRecord removes a record. Deleting an absent record is not an error.
func (s *Store) DeleteRecord(kind Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if !kind.IsValid() {
		return ErrInvalidKind
	}

	_, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, kind), id)
	if err != nil {
		return fmt.Errorf("store: delete %s record: %w", kind, err)
	}
	return nil
}

// Count returns the number of records of a kind.
func (s *Store) Count(kind Kind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	if !kind.IsValid() {
		return 0, ErrInvalidKind
	}

	var count int
	err := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, kind)).Scan(&count)
	return count, err
}

// GetMeta reads a metadata value; absent keys return "".
func (s *Store) GetMeta(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetMeta writes a metadata value.
func (s *Store) SetMeta(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.setMetaUnlocked(key, value)
}

func (s *Store) setMetaUnlocked(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// scanner abstracts the Scan method shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec     Record
		payload string
	)
	err := sc.Scan(&rec.ID, &rec.LastModified, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &rec.Fields); err != nil {
		return nil, fmt.Errorf("store: decode payload: %w", err)
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	return &rec, nil
}
