package changeset

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("changeset not found")

// ID is an opaque, content-derived changeset identifier.
// Immutable once created, never reused.
type ID [32]byte

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseID decodes a hex-encoded changeset id. Short input is zero-padded on
// the right so truncated hashes (e.g. 20-byte git SHA-1) round-trip.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse changeset id %q: %w", s, err)
	}
	if len(b) > len(id) {
		return id, fmt.Errorf("parse changeset id %q: too long (%d bytes)", s, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Generation is the integer height of a changeset in the graph.
// Invariant: generation(c) > generation(p) for every parent p of c.
type Generation uint64

// RootGeneration is the generation of a changeset with no parents.
const RootGeneration Generation = 1

// Edges is the read-only edge record of a single changeset: its generation,
// its ordered parent list and an optional skip-tree shortcut pointer to a
// distant ancestor. Produced by a Store, never mutated.
type Edges struct {
	ID             ID
	Generation     Generation
	Parents        []ID
	SkipTreeParent *ID
}

// FetchHint tells a Store which prefetch strategy fits the caller's access
// pattern. It is advisory only.
type FetchHint int

const (
	// HintDefault requests no particular prefetch strategy.
	HintDefault FetchHint = iota
	// HintLinearAncestry signals the caller is walking parents linearly,
	// so the store should prefetch along first-parent chains.
	HintLinearAncestry
)

// Store fetches changeset edge records. Implementations must treat the graph
// as consistent: a referenced changeset with no record is upstream corruption
// and fetches for it return ErrNotFound.
type Store interface {
	// FetchManyEdges returns edge records for a batch of ids. Every
	// requested id must appear in the result or the call fails.
	FetchManyEdges(ctx context.Context, ids []ID, hint FetchHint) (map[ID]Edges, error)

	// GenerationOf returns the generation of a single changeset.
	GenerationOf(ctx context.Context, id ID) (Generation, error)

	// IsAncestor reports whether ancestor is a strict ancestor of descendant.
	IsAncestor(ctx context.Context, ancestor, descendant ID) (bool, error)
}
