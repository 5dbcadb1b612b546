package changeset

import (
	"context"
	"fmt"
	"math/bits"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	// memFetchChunk is the largest id batch resolved by one fetch goroutine.
	memFetchChunk = 64
	// memFetchParallelism caps concurrent fetch goroutines per call.
	memFetchParallelism = 4
)

// MemoryStore is an in-memory Store used by tests and small tools.
// Generations are computed on insert, so the monotonicity invariant holds by
// construction, and every non-root changeset is given a skip-tree pointer to
// the ancestor at the highest power-of-two generation below its own.
type MemoryStore struct {
	mu    sync.RWMutex
	edges map[ID]Edges
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{edges: make(map[ID]Edges)}
}

// Add registers a changeset with the given parents. All parents must already
// be present. Re-adding an existing id is an error: edge records are
// immutable once created.
func (s *MemoryStore) Add(id ID, parents ...ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.edges[id]; ok {
		return fmt.Errorf("add %s: already present", id)
	}

	gen := RootGeneration
	for _, p := range parents {
		pe, ok := s.edges[p]
		if !ok {
			return fmt.Errorf("add %s: parent %s: %w", id, p, ErrNotFound)
		}
		if pe.Generation >= gen {
			gen = pe.Generation + 1
		}
	}

	e := Edges{
		ID:         id,
		Generation: gen,
		Parents:    append([]ID(nil), parents...),
	}
	if gen > RootGeneration {
		highest := parents[0]
		for _, p := range parents[1:] {
			if s.edges[p].Generation > s.edges[highest].Generation {
				highest = p
			}
		}
		sp := s.ancestorAtLocked(highest, skipTargetGen(gen))
		e.SkipTreeParent = &sp
	}
	s.edges[id] = e
	return nil
}

// skipTargetGen returns the highest power-of-two generation strictly below g.
func skipTargetGen(g Generation) Generation {
	return Generation(1) << (bits.Len64(uint64(g-1)) - 1)
}

// ancestorAtLocked descends from start to its ancestor at generation target
// by binary lifting: jump through a skip pointer whenever it stays at or
// above target, otherwise step to the highest-generation parent. target must
// be a power of two at or below start's generation, so every hop lands on
// the descent path and the walk is logarithmic.
func (s *MemoryStore) ancestorAtLocked(start ID, target Generation) ID {
	cur := s.edges[start]
	for cur.Generation > target {
		if cur.SkipTreeParent != nil {
			if sp := s.edges[*cur.SkipTreeParent]; sp.Generation >= target {
				cur = sp
				continue
			}
		}
		var next Edges
		for _, p := range cur.Parents {
			if pe := s.edges[p]; pe.Generation >= next.Generation {
				next = pe
			}
		}
		cur = next
	}
	return cur.ID
}

// Len returns the number of stored changesets.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// FetchManyEdges implements Store. The hint is ignored: everything is
// already resident. Large batches fan out over bounded goroutines.
func (s *MemoryStore) FetchManyEdges(ctx context.Context, ids []ID, hint FetchHint) (map[ID]Edges, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(ids) <= memFetchChunk {
		return s.fetchLocked(ids)
	}

	out := make(map[ID]Edges, len(ids))
	var outMu sync.Mutex
	var g errgroup.Group
	g.SetLimit(memFetchParallelism)
	for start := 0; start < len(ids); start += memFetchChunk {
		end := start + memFetchChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		g.Go(func() error {
			m, err := s.fetchLocked(chunk)
			if err != nil {
				return err
			}
			outMu.Lock()
			for id, e := range m {
				out[id] = e
			}
			outMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fetchLocked resolves one chunk. Callers hold at least the read lock.
func (s *MemoryStore) fetchLocked(ids []ID) (map[ID]Edges, error) {
	out := make(map[ID]Edges, len(ids))
	for _, id := range ids {
		e, ok := s.edges[id]
		if !ok {
			return nil, fmt.Errorf("fetch edges %s: %w", id, ErrNotFound)
		}
		out[id] = e
	}
	return out, nil
}

// GenerationOf implements Store.
func (s *MemoryStore) GenerationOf(ctx context.Context, id ID) (Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.edges[id]
	if !ok {
		return 0, fmt.Errorf("generation of %s: %w", id, ErrNotFound)
	}
	return e.Generation, nil
}

// IsAncestor implements Store with a backwards breadth-first walk, pruned by
// generation: once the walk drops below the candidate ancestor's generation
// it cannot reach it.
func (s *MemoryStore) IsAncestor(ctx context.Context, ancestor, descendant ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ae, ok := s.edges[ancestor]
	if !ok {
		return false, fmt.Errorf("is-ancestor %s: %w", ancestor, ErrNotFound)
	}
	de, ok := s.edges[descendant]
	if !ok {
		return false, fmt.Errorf("is-ancestor %s: %w", descendant, ErrNotFound)
	}
	if de.Generation <= ae.Generation {
		return false, nil
	}

	seen := map[ID]struct{}{descendant: {}}
	queue := []ID{descendant}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range s.edges[cur].Parents {
			if p == ancestor {
				return true, nil
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			if s.edges[p].Generation > ae.Generation {
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

var _ Store = (*MemoryStore)(nil)
