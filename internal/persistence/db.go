// Package persistence stores generated chunks, generator state and rule
// templates in SQLite.
package persistence

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/hexworld/internal/world"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const (
	metaChunkSize = "chunk_size"
	metaSeed      = "seed"
	metaRNGState  = "rng_state"
	metaSavedAt   = "saved_at"
)

// DB wraps a SQLite connection for world state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		biome TEXT NOT NULL,
		cells INTEGER NOT NULL,
		structures INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (x, y)
	);

	CREATE TABLE IF NOT EXISTS templates (
		name TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		document TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_biome ON chunks(biome);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type chunkRow struct {
	X          int    `db:"x"`
	Y          int    `db:"y"`
	Biome      string `db:"biome"`
	Cells      int    `db:"cells"`
	Structures int    `db:"structures"`
	Payload    []byte `db:"payload"`
}

// ChunkSummary describes a stored chunk without decoding its payload.
type ChunkSummary struct {
	Position   world.ChunkPosition `json:"position"`
	Biome      string              `json:"biome"`
	Cells      int                 `json:"cells"`
	Structures int                 `json:"structures"`
	Bytes      int                 `json:"bytes"`
}

func newChunkRow(c *world.MapChunk) (chunkRow, error) {
	payload, err := encodeChunk(c.Snapshot())
	if err != nil {
		return chunkRow{}, fmt.Errorf("encode %s: %w", c.Position, err)
	}
	return chunkRow{
		X:          c.Position.X,
		Y:          c.Position.Y,
		Biome:      c.Biome.String(),
		Cells:      c.Grid.Len(),
		Structures: len(c.Structures),
		Payload:    payload,
	}, nil
}

const insertChunk = `INSERT OR REPLACE INTO chunks (x, y, biome, cells, structures, payload)
	VALUES (:x, :y, :biome, :cells, :structures, :payload)`

// SaveChunk writes one chunk, replacing any stored chunk at its position.
func (db *DB) SaveChunk(c *world.MapChunk) error {
	row, err := newChunkRow(c)
	if err != nil {
		return err
	}
	if _, err := db.conn.NamedExec(insertChunk, row); err != nil {
		return fmt.Errorf("insert chunk %s: %w", c.Position, err)
	}
	return nil
}

// LoadChunk reads the chunk stored at pos.
func (db *DB) LoadChunk(pos world.ChunkPosition) (*world.MapChunk, error) {
	var row chunkRow
	err := db.conn.Get(&row, "SELECT * FROM chunks WHERE x = ? AND y = ?", pos.X, pos.Y)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s: %w", pos, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", pos, err)
	}
	return row.chunk()
}

func (r chunkRow) chunk() (*world.MapChunk, error) {
	snap, err := decodeChunk(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode chunk (%d,%d): %w", r.X, r.Y, err)
	}
	return world.ChunkFromSnapshot(snap)
}

// ChunkSummaries lists stored chunks ordered by position.
func (db *DB) ChunkSummaries() ([]ChunkSummary, error) {
	var rows []struct {
		X          int    `db:"x"`
		Y          int    `db:"y"`
		Biome      string `db:"biome"`
		Cells      int    `db:"cells"`
		Structures int    `db:"structures"`
		Bytes      int    `db:"bytes"`
	}
	err := db.conn.Select(&rows,
		"SELECT x, y, biome, cells, structures, length(payload) AS bytes FROM chunks ORDER BY y, x")
	if err != nil {
		return nil, err
	}
	out := make([]ChunkSummary, len(rows))
	for i, r := range rows {
		out[i] = ChunkSummary{
			Position:   world.ChunkPosition{X: r.X, Y: r.Y},
			Biome:      r.Biome,
			Cells:      r.Cells,
			Structures: r.Structures,
			Bytes:      r.Bytes,
		}
	}
	return out, nil
}

// SaveWorld performs a full save of the world map: every cached chunk and
// the generator state needed to continue generation after a restart.
func (db *DB) SaveWorld(w *world.WorldMap) error {
	chunks := w.Chunks()
	slog.Info("saving world state", "chunks", len(chunks), "seed", w.Seed())

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunks"); err != nil {
		return err
	}

	stmt, err := tx.PrepareNamed(insertChunk)
	if err != nil {
		return err
	}
	defer stmt.Close()

	var total int
	for _, c := range chunks {
		row, err := newChunkRow(c)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(row); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.Position, err)
		}
		total += len(row.Payload)
	}

	meta := map[string]string{
		metaChunkSize: strconv.Itoa(w.ChunkSize()),
		metaSeed:      strconv.FormatUint(w.Seed(), 10),
		metaRNGState:  hex.EncodeToString(w.RNGState()),
		metaSavedAt:   strconv.FormatInt(time.Now().Unix(), 10),
	}
	for k, v := range meta {
		if _, err := tx.Exec("INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("world state saved", "chunks", len(chunks), "payload", humanize.Bytes(uint64(total)))
	return nil
}

// HasWorldState reports whether a world has been saved.
func (db *DB) HasWorldState() (bool, error) {
	_, err := db.GetMeta(metaSeed)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// LoadWorld restores the saved world map.
func (db *DB) LoadWorld() (*world.WorldMap, error) {
	sizeText, err := db.GetMeta(metaChunkSize)
	if err != nil {
		return nil, err
	}
	seedText, err := db.GetMeta(metaSeed)
	if err != nil {
		return nil, err
	}
	stateText, err := db.GetMeta(metaRNGState)
	if err != nil {
		return nil, err
	}

	size, err := strconv.Atoi(sizeText)
	if err != nil {
		return nil, fmt.Errorf("chunk size %q: %w", sizeText, err)
	}
	seed, err := strconv.ParseUint(seedText, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("seed %q: %w", seedText, err)
	}
	state, err := hex.DecodeString(stateText)
	if err != nil {
		return nil, fmt.Errorf("generator state: %w", err)
	}

	var rows []chunkRow
	if err := db.conn.Select(&rows, "SELECT * FROM chunks ORDER BY y, x"); err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	chunks := make([]*world.MapChunk, 0, len(rows))
	var total int
	for _, r := range rows {
		c, err := r.chunk()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
		total += len(r.Payload)
	}

	w, err := world.RestoreWorldMap(size, seed, state, chunks)
	if err != nil {
		return nil, err
	}
	slog.Info("world state loaded", "chunks", len(chunks), "payload", humanize.Bytes(uint64(total)), "seed", seed)
	return w, nil
}

// TemplateRecord is a stored rule template document.
type TemplateRecord struct {
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	Document    string `db:"document" json:"document"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// SaveTemplate stores a template document under its name.
func (db *DB) SaveTemplate(name, description string, document []byte) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO templates (name, description, document, updated_at) VALUES (?, ?, ?, ?)",
		name, description, string(document), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save template %s: %w", name, err)
	}
	return nil
}

// DeleteTemplate removes a stored template.
func (db *DB) DeleteTemplate(name string) error {
	res, err := db.conn.Exec("DELETE FROM templates WHERE name = ?", name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %s: %w", name, ErrNotFound)
	}
	return nil
}

// TemplateDocuments returns every stored template ordered by name.
func (db *DB) TemplateDocuments() ([]TemplateRecord, error) {
	var out []TemplateRecord
	err := db.conn.Select(&out, "SELECT name, description, document, updated_at FROM templates ORDER BY name")
	return out, err
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// SaveGeneratorState records the map's size, seed and generator state
// without rewriting any chunk.
func (db *DB) SaveGeneratorState(w *world.WorldMap) error {
	meta := [][2]string{
		{metaChunkSize, strconv.Itoa(w.ChunkSize())},
		{metaSeed, strconv.FormatUint(w.Seed(), 10)},
		{metaRNGState, hex.EncodeToString(w.RNGState())},
	}
	for _, kv := range meta {
		if err := db.SaveMeta(kv[0], kv[1]); err != nil {
			return fmt.Errorf("save meta %s: %w", kv[0], err)
		}
	}
	return nil
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("meta %s: %w", key, ErrNotFound)
	}
	return value, err
}
