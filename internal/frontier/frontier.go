// Package frontier implements the generation-indexed frontier used by
// reverse-topological graph traversals: a multimap from generation number to
// the set of changeset ids known at that generation, drained
// highest-generation-first.
package frontier

import (
	"context"
	"sort"

	"github.com/agentic-research/commitdag/internal/changeset"
)

// Frontier maps generation -> set of changeset ids. A changeset appears in
// at most one bucket (its own generation). Buckets are only ever consumed
// from the highest generation downwards, which is what makes frontier-driven
// traversal reverse-topological without a global sort.
//
// A Frontier is owned by a single traversal and is not safe for concurrent
// use.
type Frontier struct {
	buckets map[changeset.Generation]map[changeset.ID]struct{}
	gens    []changeset.Generation // distinct generations, ascending
}

func New() *Frontier {
	return &Frontier{buckets: make(map[changeset.Generation]map[changeset.ID]struct{})}
}

// FromChangesets builds a frontier from a set of ids, resolving each id's
// generation through the store in one batched fetch.
func FromChangesets(ctx context.Context, store changeset.Store, ids []changeset.ID) (*Frontier, error) {
	f := New()
	if len(ids) == 0 {
		return f, nil
	}
	edges, err := store.FetchManyEdges(ctx, ids, changeset.HintDefault)
	if err != nil {
		return nil, err
	}
	for id, e := range edges {
		f.Insert(e.Generation, id)
	}
	return f, nil
}

// Insert adds id to the bucket for gen. Idempotent if already present.
func (f *Frontier) Insert(gen changeset.Generation, id changeset.ID) {
	b, ok := f.buckets[gen]
	if !ok {
		b = make(map[changeset.ID]struct{})
		f.buckets[gen] = b
		i := sort.Search(len(f.gens), func(i int) bool { return f.gens[i] >= gen })
		f.gens = append(f.gens, 0)
		copy(f.gens[i+1:], f.gens[i:])
		f.gens[i] = gen
	}
	b[id] = struct{}{}
}

// PopHighest removes and returns the bucket with the greatest generation.
// ok is false when the frontier is empty.
func (f *Frontier) PopHighest() (gen changeset.Generation, ids []changeset.ID, ok bool) {
	if len(f.gens) == 0 {
		return 0, nil, false
	}
	gen = f.gens[len(f.gens)-1]
	f.gens = f.gens[:len(f.gens)-1]
	b := f.buckets[gen]
	delete(f.buckets, gen)
	ids = make([]changeset.ID, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	return gen, ids, true
}

// Highest returns the greatest generation currently present.
func (f *Frontier) Highest() (changeset.Generation, bool) {
	if len(f.gens) == 0 {
		return 0, false
	}
	return f.gens[len(f.gens)-1], true
}

// ContainsAt reports whether id is present in the bucket for exactly gen.
func (f *Frontier) ContainsAt(id changeset.ID, gen changeset.Generation) bool {
	b, ok := f.buckets[gen]
	if !ok {
		return false
	}
	_, ok = b[id]
	return ok
}

// IsEmpty reports whether no buckets remain.
func (f *Frontier) IsEmpty() bool {
	return len(f.gens) == 0
}

// Len returns the total number of ids across all buckets.
func (f *Frontier) Len() int {
	n := 0
	for _, b := range f.buckets {
		n += len(b)
	}
	return n
}

// Lower advances f down to target: every bucket above target is drained and
// replaced by the parents of its members, repeatedly, until the highest
// remaining generation is <= target. Membership at any generation the
// primary traversal visits can then be tested with ContainsAt.
//
// The ancestor closure represented by f is unchanged for generations at or
// below target: every ancestor of a drained id at such generations is also
// an ancestor of one of the inserted parents, or was inserted itself.
func Lower(ctx context.Context, store changeset.Store, f *Frontier, target changeset.Generation) error {
	for {
		gen, ok := f.Highest()
		if !ok || gen <= target {
			return nil
		}
		_, ids, _ := f.PopHighest()
		edges, err := store.FetchManyEdges(ctx, ids, changeset.HintLinearAncestry)
		if err != nil {
			return err
		}
		parents := make([]changeset.ID, 0, len(ids))
		seen := make(map[changeset.ID]struct{})
		for _, e := range edges {
			for _, p := range e.Parents {
				if _, dup := seen[p]; dup {
					continue
				}
				seen[p] = struct{}{}
				parents = append(parents, p)
			}
		}
		if len(parents) == 0 {
			continue
		}
		parentEdges, err := store.FetchManyEdges(ctx, parents, changeset.HintLinearAncestry)
		if err != nil {
			return err
		}
		for id, e := range parentEdges {
			f.Insert(e.Generation, id)
		}
	}
}
