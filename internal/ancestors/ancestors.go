// Package ancestors builds lazy reverse-topological streams of changeset
// ancestors: everything reachable from a set of heads, minus the ancestors
// of an exclusion set, optionally restricted to descendants of a single
// changeset and filtered by composable predicates.
package ancestors

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/agentic-research/commitdag/internal/changeset"
	"github.com/agentic-research/commitdag/internal/frontier"
)

// Predicate decides whether a changeset is part of the stream. It may
// suspend (e.g. to consult derived data).
type Predicate func(ctx context.Context, id changeset.ID) (bool, error)

// defaultFetchConcurrency bounds the per-bucket batched edge fetch.
const defaultFetchConcurrency = 4

// StreamBuilder accumulates the parameters of an ancestors traversal.
// Zero or more combinator calls followed by one Build.
type StreamBuilder struct {
	store            changeset.Store
	heads            []changeset.ID
	common           []changeset.ID
	descendantsOf    *changeset.ID
	predicate        Predicate
	fetchConcurrency int
}

// NewStreamBuilder starts a traversal of the ancestors of heads.
func NewStreamBuilder(store changeset.Store, heads []changeset.ID) *StreamBuilder {
	return &StreamBuilder{
		store:            store,
		heads:            append([]changeset.ID(nil), heads...),
		fetchConcurrency: defaultFetchConcurrency,
	}
}

// ExcludeAncestorsOf removes the ancestors of ids (including ids themselves)
// from the stream.
func (b *StreamBuilder) ExcludeAncestorsOf(ids []changeset.ID) *StreamBuilder {
	b.common = append(b.common, ids...)
	return b
}

// DescendantsOf restricts the stream to descendants of id (including id).
func (b *StreamBuilder) DescendantsOf(id changeset.ID) *StreamBuilder {
	b.descendantsOf = &id
	return b
}

// With ANDs p onto the current predicate. The existing predicate is
// evaluated first and short-circuits.
func (b *StreamBuilder) With(p Predicate) *StreamBuilder {
	prev := b.predicate
	if prev == nil {
		b.predicate = p
		return b
	}
	b.predicate = func(ctx context.Context, id changeset.ID) (bool, error) {
		ok, err := prev(ctx, id)
		if err != nil || !ok {
			return false, err
		}
		return p(ctx, id)
	}
	return b
}

// Without AND-NOTs p onto the current predicate. The existing predicate is
// evaluated first and short-circuits.
func (b *StreamBuilder) Without(p Predicate) *StreamBuilder {
	return b.With(func(ctx context.Context, id changeset.ID) (bool, error) {
		ok, err := p(ctx, id)
		return !ok, err
	})
}

// FetchConcurrency caps the internal parallelism of each per-bucket batched
// edge fetch. Values below 1 keep the default.
func (b *StreamBuilder) FetchConcurrency(n int) *StreamBuilder {
	if n >= 1 {
		b.fetchConcurrency = n
	}
	return b
}

// Build resolves generations, filters heads against the DescendantsOf
// restriction and returns the lazy stream. No ancestor batches are produced
// until the first Next call.
func (b *StreamBuilder) Build(ctx context.Context) (*Stream, error) {
	heads := b.heads
	var descendantsOf *changeset.ID
	var descendantsOfGen changeset.Generation

	if b.descendantsOf != nil {
		d := *b.descendantsOf
		descendantsOf = &d
		gen, err := b.store.GenerationOf(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("resolve descendants-of %s: %w", d, err)
		}
		descendantsOfGen = gen

		kept := heads[:0:0]
		for _, h := range heads {
			if h == d {
				kept = append(kept, h)
				continue
			}
			ok, err := b.store.IsAncestor(ctx, d, h)
			if err != nil {
				return nil, fmt.Errorf("filter head %s: %w", h, err)
			}
			if ok {
				kept = append(kept, h)
			}
		}
		heads = kept
	}

	headsFrontier, err := frontier.FromChangesets(ctx, b.store, heads)
	if err != nil {
		return nil, fmt.Errorf("build heads frontier: %w", err)
	}
	commonFrontier, err := frontier.FromChangesets(ctx, b.store, b.common)
	if err != nil {
		return nil, fmt.Errorf("build common frontier: %w", err)
	}

	return &Stream{
		store:            b.store,
		heads:            headsFrontier,
		common:           commonFrontier,
		descendantsOf:    descendantsOf,
		descendantsOfGen: descendantsOfGen,
		predicate:        b.predicate,
		fetchConcurrency: b.fetchConcurrency,
	}, nil
}

// Stream is a pull-based ancestors iterator. Each Next call advances the
// internal frontier state exactly once and returns either a non-empty batch,
// a terminal (nil, nil), or an error. Batches have strictly non-increasing
// generation; no order is guaranteed within a batch. Output already yielded
// is never retracted: a failed fetch aborts the stream where it stands.
//
// A Stream is single-consumer and must not be shared.
type Stream struct {
	store            changeset.Store
	heads            *frontier.Frontier
	common           *frontier.Frontier
	descendantsOf    *changeset.ID
	descendantsOfGen changeset.Generation
	predicate        Predicate
	fetchConcurrency int
	err              error
}

// Next produces the next batch of ancestors. After the first error every
// subsequent call returns the same error.
func (s *Stream) Next(ctx context.Context) ([]changeset.ID, error) {
	if s.err != nil {
		return nil, s.err
	}
	batch, err := s.next(ctx)
	if err != nil {
		s.err = err
		return nil, err
	}
	return batch, nil
}

func (s *Stream) next(ctx context.Context) ([]changeset.ID, error) {
	for {
		gen, ids, ok := s.heads.PopHighest()
		if !ok {
			return nil, nil
		}

		// Catch the exclusion frontier up so membership at gen is answerable.
		if err := frontier.Lower(ctx, s.store, s.common, gen); err != nil {
			return nil, fmt.Errorf("lower common frontier to %d: %w", gen, err)
		}

		batch := make([]changeset.ID, 0, len(ids))
		for _, id := range ids {
			if s.common.ContainsAt(id, gen) {
				continue
			}
			if s.predicate != nil {
				keep, err := s.predicate(ctx, id)
				if err != nil {
					return nil, fmt.Errorf("predicate for %s: %w", id, err)
				}
				if !keep {
					continue
				}
			}
			batch = append(batch, id)
		}

		if len(batch) > 0 {
			edges, err := fetchEdges(ctx, s.store, batch, changeset.HintLinearAncestry, s.fetchConcurrency)
			if err != nil {
				return nil, err
			}
			if err := s.pushParents(ctx, edges); err != nil {
				return nil, err
			}
			sort.Slice(batch, func(i, j int) bool {
				return bytes.Compare(batch[i][:], batch[j][:]) < 0
			})
			return batch, nil
		}
		// Entire bucket excluded; keep draining.
	}
}

// pushParents inserts the parents of the just-emitted batch into the heads
// frontier, applying the DescendantsOf restriction.
func (s *Stream) pushParents(ctx context.Context, edges map[changeset.ID]changeset.Edges) error {
	var parents []changeset.ID
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
		return nil
	}

	parentEdges, err := fetchEdges(ctx, s.store, parents, changeset.HintLinearAncestry, s.fetchConcurrency)
	if err != nil {
		return err
	}

	for id, e := range parentEdges {
		if s.descendantsOf != nil {
			keep, err := s.keepDescendant(ctx, e)
			if err != nil {
				return err
			}
			if !keep {
				continue
			}
		}
		s.heads.Insert(e.Generation, id)
	}
	return nil
}

// keepDescendant decides whether a parent stays inside the DescendantsOf
// restriction. The skip-tree pointer gives a cheap structural proof in the
// common case; only edges without one (or with one below the bound) pay for
// an ancestry oracle call.
func (s *Stream) keepDescendant(ctx context.Context, e changeset.Edges) (bool, error) {
	d := *s.descendantsOf
	if e.ID == d {
		return true, nil
	}
	if e.Generation <= s.descendantsOfGen {
		// A strict descendant must sit strictly above d.
		return false, nil
	}
	if e.SkipTreeParent != nil {
		skipGen, err := s.store.GenerationOf(ctx, *e.SkipTreeParent)
		if err != nil {
			return false, fmt.Errorf("skip-tree parent of %s: %w", e.ID, err)
		}
		if skipGen >= s.descendantsOfGen {
			return true, nil
		}
	}
	ok, err := s.store.IsAncestor(ctx, d, e.ID)
	if err != nil {
		return false, fmt.Errorf("descendants-of check for %s: %w", e.ID, err)
	}
	return ok, nil
}
