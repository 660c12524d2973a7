// Package sqlite provides a durable, disk-backed similarity index on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // SQLite driver

	"agrirag/internal/domain"
	"agrirag/internal/vectorstore"
	"agrirag/internal/vectorstore/sqlite/migrations"
)

const (
	dbFile   = "index.db"
	lockFile = "index.lock"

	defaultLockTimeout = 30 * time.Second
)

// Store is a vector store persisted to <dir>/index.db. Appends are
// serialized within the process by a mutex and across processes by a file
// lock on <dir>/index.lock. Each append is a single transaction.
type Store struct {
	db          *sql.DB
	dir         string
	lock        *flock.Flock
	lockTimeout time.Duration

	writeMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long Add waits for another process's append.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// Open opens or creates the store in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, domain.Configurationf("sqlite vector store needs a persist directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.Wrap(domain.ErrConfiguration, "creating persist directory", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	// WAL lets searches read the last committed append while a new one is written.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, domain.Wrap(domain.ErrConfiguration, "opening database", err)
	}

	s := &Store{
		db:          db,
		dir:         dir,
		lock:        flock.New(filepath.Join(dir, lockFile)),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, domain.Wrap(domain.ErrConfiguration, "running migrations", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Init records dimension on first use and rejects a different one later.
func (s *Store) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	var stored string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = 'dimension'").Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO store_meta (key, value) VALUES ('dimension', ?) ON CONFLICT(key) DO NOTHING",
			strconv.Itoa(dimension))
		if err != nil {
			return fmt.Errorf("recording dimension: %w", err)
		}
		return s.Init(ctx, dimension)
	case err != nil:
		return fmt.Errorf("reading dimension: %w", err)
	}
	have, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("corrupt stored dimension %q: %w", stored, err)
	}
	if have != dimension {
		return domain.Configurationf("index in %s has dimension %d, embedder produced %d", s.dir, have, dimension)
	}
	return nil
}

// Add writes all records in one transaction.
func (s *Store) Add(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	unlock, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored string
	if err := tx.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = 'dimension'").Scan(&stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.New("sqlite store not initialised")
		}
		return fmt.Errorf("reading dimension: %w", err)
	}
	dimension, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("corrupt stored dimension %q: %w", stored, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO units (text, metadata, source, row_index, batch, vector)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		if len(r.Vector) != dimension {
			return fmt.Errorf("record %d: vector dimension %d, want %d", i, len(r.Vector), dimension)
		}
		meta := r.Unit.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshalling metadata of record %d: %w", i, err)
		}
		o := r.Unit.Origin
		if _, err := stmt.ExecContext(ctx, r.Unit.Text, string(metaJSON), o.Source, o.Row, o.Batch, float32SliceToBytes(r.Vector)); err != nil {
			return fmt.Errorf("inserting record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}
	return nil
}

// acquireLock takes the cross-process append lock, polling until lockTimeout.
func (s *Store) acquireLock() (func(), error) {
	deadline := time.Now().Add(s.lockTimeout)
	for {
		locked, err := s.lock.TryLock()
		if err != nil {
			return func() {}, fmt.Errorf("cannot acquire index lock: %w", err)
		}
		if locked {
			return func() { _ = s.lock.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return func() {}, fmt.Errorf("another append is in progress (lock: %s)", s.lock.Path())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Search scores every stored vector and loads the top rows.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]domain.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, vector FROM units")
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	var cands []vectorstore.Scored
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning vector: %w", err)
		}
		cands = append(cands, vectorstore.Scored{Seq: id, Score: vectorstore.Cosine(bytesToFloat32Slice(blob), vector)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	top := vectorstore.TopK(cands, topK)
	if len(top) == 0 {
		return []domain.Hit{}, nil
	}
	units, err := s.loadUnits(ctx, top)
	if err != nil {
		return nil, err
	}
	hits := make([]domain.Hit, 0, len(top))
	for _, c := range top {
		u, ok := units[c.Seq]
		if !ok {
			continue
		}
		hits = append(hits, domain.Hit{Unit: u, Score: c.Score})
	}
	return hits, nil
}

func (s *Store) loadUnits(ctx context.Context, top []vectorstore.Scored) (map[int64]domain.Unit, error) {
	placeholders := make([]string, len(top))
	args := make([]any, len(top))
	for i, c := range top {
		placeholders[i] = "?"
		args[i] = c.Seq
	}
	query := "SELECT id, text, metadata, source, row_index, batch FROM units WHERE id IN (" + strings.Join(placeholders, ",") + ")"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading units: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]domain.Unit, len(top))
	for rows.Next() {
		var (
			id       int64
			u        domain.Unit
			metaJSON string
		)
		if err := rows.Scan(&id, &u.Text, &metaJSON, &u.Origin.Source, &u.Origin.Row, &u.Origin.Batch); err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &u.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling metadata of unit %d: %w", id, err)
		}
		out[id] = u
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM units").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting units: %w", err)
	}
	return n, nil
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

var _ vectorstore.Storage = (*Store)(nil)
