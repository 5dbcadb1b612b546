package segmented

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/agentic-research/commitdag/internal/changeset"
	_ "modernc.org/sqlite"
)

// Version identifies one immutable IdMap generation. A new seeding run
// always allocates a fresh version rather than mutating an existing one.
type Version uint64

// Entry is one changeset <-> dag id pairing.
type Entry struct {
	DagID DagID
	ID    changeset.ID
}

// IDMap is the in-memory bijection built during seeding.
type IDMap struct {
	toDag map[changeset.ID]DagID
	toCs  map[DagID]changeset.ID
}

func NewIDMap() *IDMap {
	return &IDMap{
		toDag: make(map[changeset.ID]DagID),
		toCs:  make(map[DagID]changeset.ID),
	}
}

// Insert records a pairing. Either side already being mapped is an error:
// the mapping is bijective and append-only.
func (m *IDMap) Insert(id changeset.ID, dagID DagID) error {
	if existing, ok := m.toDag[id]; ok {
		return fmt.Errorf("idmap insert: %s already mapped to %d", id, existing)
	}
	if existing, ok := m.toCs[dagID]; ok {
		return fmt.Errorf("idmap insert: dag id %d already mapped to %s", dagID, existing)
	}
	m.toDag[id] = dagID
	m.toCs[dagID] = id
	return nil
}

// DagID looks up the dag id of a changeset.
func (m *IDMap) DagID(id changeset.ID) (DagID, bool) {
	d, ok := m.toDag[id]
	return d, ok
}

// ChangesetID looks up the changeset of a dag id.
func (m *IDMap) ChangesetID(d DagID) (changeset.ID, bool) {
	id, ok := m.toCs[d]
	return id, ok
}

// Len returns the number of pairings.
func (m *IDMap) Len() int {
	return len(m.toDag)
}

// Entries returns all pairings sorted by dag id.
func (m *IDMap) Entries() []Entry {
	entries := make([]Entry, 0, len(m.toDag))
	for id, d := range m.toDag {
		entries = append(entries, Entry{DagID: d, ID: id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].DagID < entries[j].DagID })
	return entries
}

// OpenDB opens (or creates) the relational store backing the IdMap and the
// SegmentedChangelogVersion tables. WAL mode keeps concurrent readers off
// the writers' backs.
func OpenDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS idmap_versions (
		version INTEGER PRIMARY KEY
	);
	CREATE TABLE IF NOT EXISTS idmap (
		version INTEGER NOT NULL,
		dag_id INTEGER NOT NULL,
		cs_id BLOB NOT NULL,
		PRIMARY KEY (version, dag_id)
	) WITHOUT ROWID;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_idmap_cs ON idmap(version, cs_id);
	CREATE TABLE IF NOT EXISTS segmented_changelog_version (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		iddag_version TEXT NOT NULL,
		idmap_version INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

// SQLIDMapStore persists IdMap contents per version in sqlite.
type SQLIDMapStore struct {
	db *sql.DB
}

func NewSQLIDMapStore(db *sql.DB) *SQLIDMapStore {
	return &SQLIDMapStore{db: db}
}

// RegisterVersion records a new IdMap version. Written before the entries
// so a retried run never reuses a version number.
func (s *SQLIDMapStore) RegisterVersion(ctx context.Context, v Version) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO idmap_versions (version) VALUES (?)", uint64(v)); err != nil {
		return fmt.Errorf("register idmap version %d: %w", v, err)
	}
	return nil
}

// LatestVersion returns the highest registered version, or ErrNoVersion.
func (s *SQLIDMapStore) LatestVersion(ctx context.Context) (Version, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(version) FROM idmap_versions").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("latest idmap version: %w", err)
	}
	if !v.Valid {
		return 0, ErrNoVersion
	}
	return Version(v.Int64), nil
}

// Put writes all entries for a version in one batched transaction.
func (s *SQLIDMapStore) Put(ctx context.Context, v Version, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin idmap put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO idmap (version, dag_id, cs_id) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare idmap insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, uint64(v), uint64(e.DagID), e.ID[:]); err != nil {
			return fmt.Errorf("insert idmap entry %d: %w", e.DagID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit idmap put: %w", err)
	}
	return nil
}

// Get reads all entries of a version, sorted by dag id.
func (s *SQLIDMapStore) Get(ctx context.Context, v Version) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT dag_id, cs_id FROM idmap WHERE version = ? ORDER BY dag_id", uint64(v))
	if err != nil {
		return nil, fmt.Errorf("query idmap version %d: %w", v, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var dagID uint64
		var raw []byte
		if err := rows.Scan(&dagID, &raw); err != nil {
			return nil, fmt.Errorf("scan idmap entry: %w", err)
		}
		var e Entry
		e.DagID = DagID(dagID)
		if len(raw) != len(e.ID) {
			return nil, fmt.Errorf("idmap entry %d: bad id length %d", dagID, len(raw))
		}
		copy(e.ID[:], raw)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idmap version %d: %w", v, err)
	}
	return entries, nil
}
