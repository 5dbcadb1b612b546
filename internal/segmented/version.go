package segmented

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SegmentedChangelogVersion pairs one IdDag blob with one IdMap version.
// It is the unit of atomic "current state": readers always load both
// artifacts of the same recorded pair.
type SegmentedChangelogVersion struct {
	IDDag DagVersion
	IDMap Version
}

// SQLVersionStore appends and reads SegmentedChangelogVersion rows. Rows
// are never updated in place; Latest is always one fully-written pair.
type SQLVersionStore struct {
	db *sql.DB
}

func NewSQLVersionStore(db *sql.DB) *SQLVersionStore {
	return &SQLVersionStore{db: db}
}

// Set publishes a new version pair. Called only after both referenced
// artifacts are durably written.
func (s *SQLVersionStore) Set(ctx context.Context, v SegmentedChangelogVersion) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO segmented_changelog_version (iddag_version, idmap_version) VALUES (?, ?)",
		string(v.IDDag), uint64(v.IDMap))
	if err != nil {
		return fmt.Errorf("set segmented changelog version: %w", err)
	}
	return nil
}

// Latest returns the most recently published pair, or ErrNoVersion.
func (s *SQLVersionStore) Latest(ctx context.Context) (SegmentedChangelogVersion, error) {
	var idDag string
	var idMap uint64
	err := s.db.QueryRowContext(ctx,
		"SELECT iddag_version, idmap_version FROM segmented_changelog_version ORDER BY id DESC LIMIT 1").
		Scan(&idDag, &idMap)
	if errors.Is(err, sql.ErrNoRows) {
		return SegmentedChangelogVersion{}, ErrNoVersion
	}
	if err != nil {
		return SegmentedChangelogVersion{}, fmt.Errorf("latest segmented changelog version: %w", err)
	}
	return SegmentedChangelogVersion{IDDag: DagVersion(idDag), IDMap: Version(idMap)}, nil
}
