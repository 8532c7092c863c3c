// Package graph provides the SQLite-backed node/edge storage and the
// compressed object directory that together hold every revision.
package graph

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"gg/internal/cas"
)

//go:embed schema.sql
var schemaSQL string

// ErrObjectNotFound is returned by ReadObject for unknown digests.
var ErrObjectNotFound = errors.New("object not found")

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// DB wraps the SQLite database connection and the object directory.
type DB struct {
	conn       *sql.DB
	objectsDir string
	enc        *zstd.Encoder
	dec        *zstd.Decoder
}

// Open opens or creates the database at the given path and applies the schema.
func Open(dbPath, objectsDir string) (*DB, error) {
	if err := os.MkdirAll(objectsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating objects dir: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer per repository; a single connection keeps pragmas and
	// transactions on the same handle.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	conn.Exec("PRAGMA busy_timeout=5000")
	conn.Exec("PRAGMA foreign_keys=ON")

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		conn.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &DB{conn: conn, objectsDir: objectsDir, enc: enc, dec: dec}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.enc.Close()
	db.dec.Close()
	return db.conn.Close()
}

// BeginTx starts a new transaction.
func (db *DB) BeginTx() (*sql.Tx, error) {
	return db.conn.Begin()
}

// InsertNode inserts a node if it doesn't already exist (idempotent) and
// returns its content-addressed id.
func (db *DB) InsertNode(q Querier, kind NodeKind, payload interface{}) (string, error) {
	id, err := cas.NodeID(string(kind), payload)
	if err != nil {
		return "", fmt.Errorf("computing node ID: %w", err)
	}

	payloadJSON, err := cas.CanonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}

	_, err = q.Exec(`
		INSERT OR IGNORE INTO nodes (id, kind, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, id, string(kind), string(payloadJSON), cas.NowMs())
	if err != nil {
		return "", fmt.Errorf("inserting node: %w", err)
	}

	return id, nil
}

// GetNode retrieves a node by ID. It returns nil, nil when the node is absent.
func (db *DB) GetNode(q Querier, id string) (*Node, error) {
	var kind, payloadJSON string
	var createdAt int64

	err := q.QueryRow(`
		SELECT kind, payload, created_at FROM nodes WHERE id = ?
	`, id).Scan(&kind, &payloadJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying node: %w", err)
	}

	return &Node{
		ID:        id,
		Kind:      NodeKind(kind),
		Payload:   []byte(payloadJSON),
		CreatedAt: createdAt,
	}, nil
}

// InsertEdge inserts an edge if it doesn't already exist (idempotent).
func (db *DB) InsertEdge(q Querier, src string, edgeType EdgeType, dst string, at string) error {
	_, err := q.Exec(`
		INSERT OR IGNORE INTO edges (src, type, dst, at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, src, string(edgeType), dst, at, cas.NowMs())
	if err != nil {
		return fmt.Errorf("inserting edge: %w", err)
	}
	return nil
}

// GetEdges retrieves edges from a source node.
func (db *DB) GetEdges(q Querier, src string, edgeType EdgeType) ([]*Edge, error) {
	rows, err := q.Query(`
		SELECT dst, at, created_at FROM edges WHERE src = ? AND type = ? ORDER BY at
	`, src, string(edgeType))
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	var edges []*Edge
	for rows.Next() {
		e := &Edge{Src: src, Type: edgeType}
		if err := rows.Scan(&e.Dst, &e.At, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// GetEdgesTo retrieves edges pointing to a destination node.
func (db *DB) GetEdgesTo(q Querier, dst string, edgeType EdgeType) ([]*Edge, error) {
	rows, err := q.Query(`
		SELECT src, at, created_at FROM edges WHERE dst = ? AND type = ?
	`, dst, string(edgeType))
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	var edges []*Edge
	for rows.Next() {
		e := &Edge{Dst: dst, Type: edgeType}
		if err := rows.Scan(&e.Src, &e.At, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (db *DB) objectPath(digest string) string {
	if len(digest) < 3 {
		return filepath.Join(db.objectsDir, digest)
	}
	return filepath.Join(db.objectsDir, digest[:2], digest[2:])
}

// WriteObject stores raw file bytes as a zstd frame in the objects directory
// and returns the digest of the uncompressed content.
// Uses atomic write (tmp + rename) to avoid partial writes on crash.
func (db *DB) WriteObject(content []byte) (string, error) {
	digest := cas.Sum(content)
	finalPath := db.objectPath(digest)

	if _, err := os.Stat(finalPath); err == nil {
		return digest, nil
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return "", fmt.Errorf("creating object dir: %w", err)
	}

	compressed := db.enc.EncodeAll(content, nil)

	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, compressed, 0644); err != nil {
		return "", fmt.Errorf("writing tmp object: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("atomic rename: %w", err)
	}

	return digest, nil
}

// HasObject reports whether an object with the given digest is stored.
func (db *DB) HasObject(digest string) bool {
	_, err := os.Stat(db.objectPath(digest))
	return err == nil
}

// ReadObject reads and decompresses an object from the objects directory.
func (db *DB) ReadObject(digest string) ([]byte, error) {
	compressed, err := os.ReadFile(db.objectPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, cas.Short(digest, 12))
		}
		return nil, fmt.Errorf("reading object: %w", err)
	}

	content, err := db.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing object %s: %w", cas.Short(digest, 12), err)
	}
	return content, nil
}
