// Package sqlite provides a RecordStore on top of the pure Go SQLite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/metadata"
	"github.com/tidwall/btree"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Store persists records in the file_metadata table.
//
// An in-memory B-tree caches (storage_type, file_path) -> id so existence checks
// skip the database. The cache is loaded on Open and kept current by every write.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	gen metadata.Generation

	keys *btree.Map[string, string]
}

// NewStore opens the database at dbPath, ":memory:" creates a private in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// A single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:   db,
		gen:  metadata.Generation1,
		keys: btree.NewMap[string, string](0),
	}, nil
}

func (*Store) Name() string {
	return "sqlite"
}

// DB exposes the underlying handle, e.g. for inspecting the schema.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Open creates a generation 2 table if none exists, detects the schema generation
// and loads the key cache.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.PingContext(ctx); err != nil {
		return err
	}

	for _, stmt := range metadata.CreateTableStatements(metadata.DialectSQLite, metadata.Generation2) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	columns, err := s.columns(ctx)
	if err != nil {
		return err
	}
	s.gen = metadata.DetectGeneration(columns)

	for _, stmt := range metadata.IndexStatements(s.gen) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return s.loadKeys(ctx)
}

func (s *Store) loadKeys(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT storage_type, file_path, id FROM %s", metadata.TableName))
	if err != nil {
		return fmt.Errorf("failed to load keys: %w", err)
	}
	defer rows.Close()

	s.keys.Clear()
	for rows.Next() {
		var storageType, filePath, id string
		if err := rows.Scan(&storageType, &filePath, &id); err != nil {
			return err
		}
		s.keys.Set(cacheKey(storageType, filePath), id)
	}

	return rows.Err()
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys.Clear()
	return s.db.Close()
}

func (s *Store) Generation() metadata.Generation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.gen
}

// columns lists the current columns of the metadata table.
func (s *Store) columns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", metadata.TableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make([]string, 0)
	for rows.Next() {
		var cid, notNull, pk int
		var name, typ string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}

	return columns, rows.Err()
}

// Migrate adds the generation 2 columns that are missing and backfills existing rows.
func (s *Store) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	columns, err := s.columns(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range metadata.MigrationStatements(metadata.DialectSQLite, columns) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration statement '%s': %w", stmt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.gen = metadata.Generation2
	return nil
}

func cacheKey(storageType, p string) string {
	return storageType + "\x00" + data.Normalize(p)
}

func (s *Store) Insert(ctx context.Context, record *metadata.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = data.NewID()
	}
	record.Normalize()

	key := cacheKey(record.StorageType, record.FilePath)
	if _, exists := s.keys.Get(key); exists {
		return metadata.ErrRecordExists
	}

	values, err := metadata.EncodeRecord(record, s.gen)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, metadata.InsertSQL(metadata.DialectSQLite, s.gen), values...); err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	s.keys.Set(key, record.ID)
	return nil
}

func (s *Store) Get(ctx context.Context, p, storageType string) (*metadata.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.keys.Get(cacheKey(storageType, p))
	if !exists {
		return nil, metadata.ErrRecordNotFound
	}

	return s.getByID(ctx, id)
}

func (s *Store) GetByID(ctx context.Context, id string) (*metadata.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getByID(ctx, id)
}

func (s *Store) getByID(ctx context.Context, id string) (*metadata.Record, error) {
	row := s.db.QueryRowContext(ctx, metadata.SelectSQL(metadata.DialectSQLite, s.gen, "WHERE id = ?"), id)

	record, err := metadata.ScanRecord(row, s.gen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (s *Store) Update(ctx context.Context, record *metadata.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getByID(ctx, record.ID)
	if err != nil {
		return err
	}
	record.Normalize()

	oldKey := cacheKey(current.StorageType, current.FilePath)
	newKey := cacheKey(record.StorageType, record.FilePath)
	if oldKey != newKey {
		if _, taken := s.keys.Get(newKey); taken {
			return metadata.ErrRecordExists
		}
	}

	values, err := metadata.EncodeRecord(record, s.gen)
	if err != nil {
		return err
	}
	// The id is bound last
	values = append(values[1:], record.ID)

	if _, err := s.db.ExecContext(ctx, metadata.UpdateSQL(metadata.DialectSQLite, s.gen), values...); err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}

	if oldKey != newKey {
		s.keys.Delete(oldKey)
		s.keys.Set(newKey, record.ID)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getByID(ctx, id)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", metadata.TableName)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	s.keys.Delete(cacheKey(current.StorageType, current.FilePath))
	return nil
}

func (s *Store) Query(ctx context.Context, query *metadata.RecordQuery) ([]*metadata.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := metadata.WhereSQL(metadata.DialectSQLite, s.gen, query)
	rows, err := s.db.QueryContext(ctx, metadata.SelectSQL(metadata.DialectSQLite, s.gen, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := make([]*metadata.Record, 0)
	for rows.Next() {
		record, err := metadata.ScanRecord(rows, s.gen)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return metadata.ApplyQuery(candidates, query), nil
}
