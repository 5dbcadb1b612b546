// Package segmented implements the segmented changelog index: a compact
// integer id per changeset (IdMap), a segment-compressed DAG over the id
// space (IdDag) answering ancestry queries in sub-linear time, and the
// seeder that builds and persists both as one atomic version.
package segmented

import "errors"

var (
	// ErrNoVersion means no seeded version exists yet.
	ErrNoVersion = errors.New("no segmented changelog version")
	// ErrInvalidPrefetch means a prefetched entry references a parent that
	// is neither prefetched nor resolvable through the store.
	ErrInvalidPrefetch = errors.New("invalid prefetched entries")
)

// DagID is a compact monotonic integer assigned to a changeset. The id
// space is partitioned into groups so that ids handed out at seeding time
// (the master group) stay stable when ids are added incrementally later.
type DagID uint64

// NonMasterMinID is the first id of the non-master group. A seeding run
// assigns master ids only, starting at 1.
const NonMasterMinID DagID = 1 << 56

// IsMaster reports whether id belongs to the master group.
func (id DagID) IsMaster() bool {
	return id < NonMasterMinID
}
