// Package gitstore adapts a git repository (via go-git) to the
// changeset.Store contract, so real repositories can feed the ancestors
// stream and the segmented index seeder.
package gitstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/agentic-research/commitdag/internal/changeset"
)

// Store is a read-only changeset.Store over a go-git repository. Commit
// hashes (20 bytes) are zero-padded into changeset ids. Generation numbers
// are computed on demand and memoized.
type Store struct {
	repo *git.Repository

	mu   sync.Mutex
	gens map[plumbing.Hash]changeset.Generation
}

// Open opens the repository at path (worktree or bare).
func Open(path string) (*Store, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open git repo %s: %w", path, err)
	}
	return FromRepository(repo), nil
}

// FromRepository wraps an already-open repository.
func FromRepository(repo *git.Repository) *Store {
	return &Store{
		repo: repo,
		gens: make(map[plumbing.Hash]changeset.Generation),
	}
}

// IDFor converts a commit hash to a changeset id.
func IDFor(h plumbing.Hash) changeset.ID {
	var id changeset.ID
	copy(id[:], h[:])
	return id
}

// HashFor converts a changeset id back to a commit hash.
func HashFor(id changeset.ID) plumbing.Hash {
	var h plumbing.Hash
	copy(h[:], id[:len(h)])
	return h
}

// Heads returns the commits pointed at by local branches.
func (s *Store) Heads(ctx context.Context) ([]changeset.ID, error) {
	iter, err := s.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer iter.Close()

	var heads []changeset.ID
	seen := make(map[plumbing.Hash]struct{})
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if _, dup := seen[ref.Hash()]; dup {
			return nil
		}
		seen[ref.Hash()] = struct{}{}
		heads = append(heads, IDFor(ref.Hash()))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}
	return heads, nil
}

func (s *Store) commit(id changeset.ID) (*object.Commit, error) {
	c, err := s.repo.CommitObject(HashFor(id))
	if err == plumbing.ErrObjectNotFound {
		return nil, fmt.Errorf("commit %s: %w", id, changeset.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", id, err)
	}
	return c, nil
}

// FetchManyEdges implements changeset.Store. The hint is accepted but
// go-git's object reader does its own caching, so no extra prefetch is done.
func (s *Store) FetchManyEdges(ctx context.Context, ids []changeset.ID, hint changeset.FetchHint) (map[changeset.ID]changeset.Edges, error) {
	out := make(map[changeset.ID]changeset.Edges, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := s.commit(id)
		if err != nil {
			return nil, err
		}
		gen, err := s.generation(c)
		if err != nil {
			return nil, err
		}
		parents := make([]changeset.ID, len(c.ParentHashes))
		for i, ph := range c.ParentHashes {
			parents[i] = IDFor(ph)
		}
		out[id] = changeset.Edges{
			ID:         id,
			Generation: gen,
			Parents:    parents,
		}
	}
	return out, nil
}

// GenerationOf implements changeset.Store.
func (s *Store) GenerationOf(ctx context.Context, id changeset.ID) (changeset.Generation, error) {
	c, err := s.commit(id)
	if err != nil {
		return 0, err
	}
	return s.generation(c)
}

// IsAncestor implements changeset.Store using go-git's merge-base walk.
func (s *Store) IsAncestor(ctx context.Context, ancestor, descendant changeset.ID) (bool, error) {
	if ancestor == descendant {
		return false, nil
	}
	ac, err := s.commit(ancestor)
	if err != nil {
		return false, err
	}
	dc, err := s.commit(descendant)
	if err != nil {
		return false, err
	}
	ok, err := ac.IsAncestor(dc)
	if err != nil {
		return false, fmt.Errorf("is-ancestor %s..%s: %w", ancestor, descendant, err)
	}
	return ok, nil
}

// generation computes the commit's generation with an iterative post-order
// walk over unmemoized ancestors. Roots are generation 1.
func (s *Store) generation(c *object.Commit) (changeset.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.gens[c.Hash]; ok {
		return g, nil
	}

	stack := []plumbing.Hash{c.Hash}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		if _, done := s.gens[h]; done {
			stack = stack[:len(stack)-1]
			continue
		}
		cur, err := s.repo.CommitObject(h)
		if err != nil {
			return 0, fmt.Errorf("commit %s: %w", h, err)
		}

		ready := true
		gen := changeset.RootGeneration
		for _, ph := range cur.ParentHashes {
			pg, ok := s.gens[ph]
			if !ok {
				stack = append(stack, ph)
				ready = false
				continue
			}
			if pg >= gen {
				gen = pg + 1
			}
		}
		if ready {
			s.gens[h] = gen
			stack = stack[:len(stack)-1]
		}
	}
	return s.gens[c.Hash], nil
}

var _ changeset.Store = (*Store)(nil)
