// Package storage implements a PostgreSQL-backed persistence layer for
// the shielded engine, satisfying the §6 namespaced key-value contract
// (tree/{wallet_id}, cache/{wallet_id}, scan_cursor/{wallet_id},
// checkpoints/{wallet_id}/{height}) that merkle.Tree, notecache.Cache,
// and the scanner's commit step rely on.
//
// Adapted from the teacher's PostgresStore (pgxpool connection
// management, Config/DefaultConfig, NewPostgresStore/Close): the
// connection-pool lifecycle is kept verbatim, but the DAG/PoUW-shaped
// block and task tables are replaced with the tree-node, note, and
// scan-cursor tables this engine actually needs.
package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ccoin/shielded/internal/curve"
	"github.com/ccoin/shielded/internal/notes"
	"github.com/ccoin/shielded/pkg/engineerr"
)

// Common errors.
var (
	ErrNotFound     = errors.New("storage: not found")
	ErrDBConnection = errors.New("storage: database connection error")
)

// Config holds PostgreSQL connection configuration, unchanged in shape
// from the teacher's storage.Config.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DefaultConfig returns sane local-development defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "shielded",
		Password: "",
		Database: "shielded",
		SSLMode:  "disable",
		MaxConns: 20,
	}
}

// PostgresStore is the shared connection pool every per-wallet adapter
// below is built on.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool against cfg and verifies connectivity.
func NewPostgresStore(ctx context.Context, cfg *Config) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, cfg.MaxConns,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the tables this package's adapters need, if absent.
// Versioned per §6: a VersionMismatch on the scan_cursor row signals
// that a newer schema already exists and this binary should not touch
// it (StateError::VersionMismatch).
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tree_nodes (
	wallet_id TEXT NOT NULL,
	level     INT NOT NULL,
	index_    BIGINT NOT NULL,
	value     BYTEA NOT NULL,
	PRIMARY KEY (wallet_id, level, index_)
);
CREATE TABLE IF NOT EXISTS tree_meta (
	wallet_id TEXT PRIMARY KEY,
	size      BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_notes (
	wallet_id TEXT NOT NULL,
	cmu       BYTEA NOT NULL,
	note      BYTEA NOT NULL,
	PRIMARY KEY (wallet_id, cmu)
);
CREATE TABLE IF NOT EXISTS cache_nullifiers (
	wallet_id TEXT NOT NULL,
	nullifier BYTEA NOT NULL,
	cmu       BYTEA NOT NULL,
	PRIMARY KEY (wallet_id, nullifier)
);
CREATE TABLE IF NOT EXISTS scan_cursor (
	wallet_id TEXT PRIMARY KEY,
	height    BIGINT NOT NULL,
	version   INT NOT NULL
);
CREATE TABLE IF NOT EXISTS checkpoints (
	wallet_id TEXT NOT NULL,
	height    BIGINT NOT NULL,
	tree_size BIGINT NOT NULL,
	PRIMARY KEY (wallet_id, height)
);
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: migrate: %v", ErrDBConnection, err)
	}
	return nil
}

// SchemaVersion is the current scan-cursor row format tag (§6:
// "Values are versioned self-describing blobs; on version mismatch the
// store refuses to load").
const SchemaVersion = 1

// ErrVersionMismatch signals a persisted row this binary's schema
// version cannot interpret.
var ErrVersionMismatch = errors.New("storage: persisted schema version mismatch")

// TreeStore adapts PostgresStore to merkle.Store for one wallet's tree
// (key namespace tree/{wallet_id}).
type TreeStore struct {
	db       *PostgresStore
	walletID string
}

// NewTreeStore returns a merkle.Store-compatible adapter scoped to walletID.
func NewTreeStore(db *PostgresStore, walletID string) *TreeStore {
	return &TreeStore{db: db, walletID: walletID}
}

// GetNode implements merkle.Store.
func (t *TreeStore) GetNode(ctx context.Context, level int, index uint64) (curve.FieldElement, bool, error) {
	var raw []byte
	err := t.db.pool.QueryRow(ctx,
		`SELECT value FROM tree_nodes WHERE wallet_id=$1 AND level=$2 AND index_=$3`,
		t.walletID, level, int64(index),
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return curve.FieldElement{}, false, nil
	}
	if err != nil {
		return curve.FieldElement{}, false, engineerr.New(engineerr.Transient, "storage.GetNode", "query failed", err)
	}
	return curve.FieldFromBytes(raw), true, nil
}

// SetNode implements merkle.Store.
func (t *TreeStore) SetNode(ctx context.Context, level int, index uint64, value curve.FieldElement) error {
	_, err := t.db.pool.Exec(ctx,
		`INSERT INTO tree_nodes (wallet_id, level, index_, value) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (wallet_id, level, index_) DO UPDATE SET value=EXCLUDED.value`,
		t.walletID, level, int64(index), value.Bytes(),
	)
	if err != nil {
		return engineerr.New(engineerr.Transient, "storage.SetNode", "exec failed", err)
	}
	return nil
}

// GetSize implements merkle.Store.
func (t *TreeStore) GetSize(ctx context.Context) (uint64, error) {
	var size int64
	err := t.db.pool.QueryRow(ctx, `SELECT size FROM tree_meta WHERE wallet_id=$1`, t.walletID).Scan(&size)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, engineerr.New(engineerr.Transient, "storage.GetSize", "query failed", err)
	}
	return uint64(size), nil
}

// SetSize implements merkle.Store.
func (t *TreeStore) SetSize(ctx context.Context, size uint64) error {
	_, err := t.db.pool.Exec(ctx,
		`INSERT INTO tree_meta (wallet_id, size) VALUES ($1,$2)
		 ON CONFLICT (wallet_id) DO UPDATE SET size=EXCLUDED.size`,
		t.walletID, int64(size),
	)
	if err != nil {
		return engineerr.New(engineerr.Transient, "storage.SetSize", "exec failed", err)
	}
	return nil
}

// CacheStore adapts PostgresStore to notecache.Store for one wallet's
// cache (key namespace cache/{wallet_id}).
type CacheStore struct {
	db       *PostgresStore
	walletID string
}

// NewCacheStore returns a notecache.Store-compatible adapter scoped to walletID.
func NewCacheStore(db *PostgresStore, walletID string) *CacheStore {
	return &CacheStore{db: db, walletID: walletID}
}

// PutNote implements notecache.Store.
func (c *CacheStore) PutNote(ctx context.Context, cmu curve.FieldElement, n notes.Note) error {
	_, err := c.db.pool.Exec(ctx,
		`INSERT INTO cache_notes (wallet_id, cmu, note) VALUES ($1,$2,$3)
		 ON CONFLICT (wallet_id, cmu) DO UPDATE SET note=EXCLUDED.note`,
		c.walletID, cmu.Bytes(), encodeNote(n),
	)
	if err != nil {
		return engineerr.New(engineerr.Transient, "storage.PutNote", "exec failed", err)
	}
	return nil
}

// PutNullifier implements notecache.Store.
func (c *CacheStore) PutNullifier(ctx context.Context, nullifier [32]byte, cmu curve.FieldElement) error {
	_, err := c.db.pool.Exec(ctx,
		`INSERT INTO cache_nullifiers (wallet_id, nullifier, cmu) VALUES ($1,$2,$3)
		 ON CONFLICT (wallet_id, nullifier) DO UPDATE SET cmu=EXCLUDED.cmu`,
		c.walletID, nullifier[:], cmu.Bytes(),
	)
	if err != nil {
		return engineerr.New(engineerr.Transient, "storage.PutNullifier", "exec failed", err)
	}
	return nil
}

// Notes implements notecache.Store.
func (c *CacheStore) Notes(ctx context.Context) (map[curve.FieldElement]notes.Note, error) {
	rows, err := c.db.pool.Query(ctx, `SELECT cmu, note FROM cache_notes WHERE wallet_id=$1`, c.walletID)
	if err != nil {
		return nil, engineerr.New(engineerr.Transient, "storage.Notes", "query failed", err)
	}
	defer rows.Close()

	out := make(map[curve.FieldElement]notes.Note)
	for rows.Next() {
		var cmuRaw, noteRaw []byte
		if err := rows.Scan(&cmuRaw, &noteRaw); err != nil {
			return nil, engineerr.New(engineerr.StateError, "storage.Notes", "row scan failed", err)
		}
		n, err := decodeNote(noteRaw)
		if err != nil {
			return nil, engineerr.New(engineerr.StateError, "storage.Notes", "corrupt note row", err)
		}
		out[curve.FieldFromBytes(cmuRaw)] = n
	}
	return out, nil
}

// Nullifiers implements notecache.Store.
func (c *CacheStore) Nullifiers(ctx context.Context) (map[[32]byte]curve.FieldElement, error) {
	rows, err := c.db.pool.Query(ctx, `SELECT nullifier, cmu FROM cache_nullifiers WHERE wallet_id=$1`, c.walletID)
	if err != nil {
		return nil, engineerr.New(engineerr.Transient, "storage.Nullifiers", "query failed", err)
	}
	defer rows.Close()

	out := make(map[[32]byte]curve.FieldElement)
	for rows.Next() {
		var nfRaw, cmuRaw []byte
		if err := rows.Scan(&nfRaw, &cmuRaw); err != nil {
			return nil, engineerr.New(engineerr.StateError, "storage.Nullifiers", "row scan failed", err)
		}
		var nf [32]byte
		copy(nf[:], nfRaw)
		out[nf] = curve.FieldFromBytes(cmuRaw)
	}
	return out, nil
}

// ScanCursor persists the last height the scanner fully committed, so a
// crash between blocks resumes correctly (§4.8 Persistence).
type ScanCursor struct {
	db       *PostgresStore
	walletID string
}

// NewScanCursor returns a cursor store scoped to walletID.
func NewScanCursor(db *PostgresStore, walletID string) *ScanCursor {
	return &ScanCursor{db: db, walletID: walletID}
}

// Height returns the last committed scan height, 0 if never set.
func (s *ScanCursor) Height(ctx context.Context) (uint64, error) {
	var height int64
	var version int32
	err := s.db.pool.QueryRow(ctx, `SELECT height, version FROM scan_cursor WHERE wallet_id=$1`, s.walletID).
		Scan(&height, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, engineerr.New(engineerr.Transient, "storage.ScanCursor.Height", "query failed", err)
	}
	if version != SchemaVersion {
		return 0, engineerr.New(engineerr.StateError, "storage.ScanCursor.Height", "schema version mismatch", ErrVersionMismatch)
	}
	return uint64(height), nil
}

// Commit advances the cursor to height in a statement of its own; it
// does not run in one transaction with the tree/cache writes for the
// same block (§4.8, §5).
func (s *ScanCursor) Commit(ctx context.Context, height uint64) error {
	_, err := s.db.pool.Exec(ctx,
		`INSERT INTO scan_cursor (wallet_id, height, version) VALUES ($1,$2,$3)
		 ON CONFLICT (wallet_id) DO UPDATE SET height=EXCLUDED.height, version=EXCLUDED.version`,
		s.walletID, int64(height), SchemaVersion,
	)
	if err != nil {
		return engineerr.New(engineerr.Transient, "storage.ScanCursor.Commit", "exec failed", err)
	}
	return nil
}

// Checkpoint records the tree size observed at height, so a detected
// reorg can be correlated back to a tree.Rewind target (§4.6, §6
// checkpoints/{wallet_id}/{height}).
func (s *ScanCursor) Checkpoint(ctx context.Context, height, treeSize uint64) error {
	_, err := s.db.pool.Exec(ctx,
		`INSERT INTO checkpoints (wallet_id, height, tree_size) VALUES ($1,$2,$3)
		 ON CONFLICT (wallet_id, height) DO UPDATE SET tree_size=EXCLUDED.tree_size`,
		s.walletID, int64(height), int64(treeSize),
	)
	if err != nil {
		return engineerr.New(engineerr.Transient, "storage.ScanCursor.Checkpoint", "exec failed", err)
	}
	return nil
}

// noteRecordSize is the fixed encoded width of one notes.Note: 11-byte
// diversifier, 32-byte compressed pk_d, 8-byte value, 32-byte rseed,
// 8-byte position, 512-byte memo, 1-byte spent flag.
const noteRecordSize = 11 + 32 + 8 + 32 + 8 + notes.MemoSize + 1

func encodeNote(n notes.Note) []byte {
	buf := make([]byte, 0, noteRecordSize)
	buf = append(buf, n.D[:]...)
	pkD := n.PkD.Compress()
	buf = append(buf, pkD[:]...)
	valBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(valBytes, n.Value)
	buf = append(buf, valBytes...)
	buf = append(buf, n.Rseed[:]...)
	posBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(posBytes, n.Position)
	buf = append(buf, posBytes...)
	buf = append(buf, n.Memo[:]...)
	if n.Spent {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

var errCorruptNoteRow = errors.New("storage: note row is not the expected width")

func decodeNote(data []byte) (notes.Note, error) {
	if len(data) != noteRecordSize {
		return notes.Note{}, errCorruptNoteRow
	}
	var n notes.Note
	off := 0
	copy(n.D[:], data[off:off+11])
	off += 11
	pkD, err := curve.Decompress(data[off : off+32])
	if err != nil {
		return notes.Note{}, err
	}
	n.PkD = pkD
	off += 32
	n.Value = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	copy(n.Rseed[:], data[off:off+32])
	off += 32
	n.Position = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	copy(n.Memo[:], data[off:off+notes.MemoSize])
	off += notes.MemoSize
	n.Spent = data[off] != 0
	return n, nil
}
