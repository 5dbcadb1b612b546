package segmented

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/commitdag/internal/changeset"
)

// bulkFetchChunk is the batch size of closure-collection fetches.
const bulkFetchChunk = 256

// Seeder builds a fresh segmented changelog version from a set of head
// changesets: it collects the full ancestry closure, assigns master-group
// dag ids, builds the IdDag and persists everything as one new version.
//
// A failed run leaves the previous version fully intact: each run allocates
// a fresh IdMap version and the SegmentedChangelogVersion row is written
// last, so the operation is safe to retry from scratch.
type Seeder struct {
	store            changeset.Store
	idmap            *SQLIDMapStore
	blobs            *BlobStore
	versions         *SQLVersionStore
	log              *logrus.Entry
	fetchParallelism int
}

func NewSeeder(
	store changeset.Store,
	idmap *SQLIDMapStore,
	blobs *BlobStore,
	versions *SQLVersionStore,
	fetchParallelism int,
) *Seeder {
	if fetchParallelism < 1 {
		fetchParallelism = 4
	}
	return &Seeder{
		store:            store,
		idmap:            idmap,
		blobs:            blobs,
		versions:         versions,
		log:              logrus.WithField("component", "seeder"),
		fetchParallelism: fetchParallelism,
	}
}

// SeedOptions tunes a single seeding run.
type SeedOptions struct {
	// Prefetched supplies edge records already known to the caller, saving
	// the bulk fetch for them. Parents referenced by prefetched entries
	// must be prefetched themselves or resolvable through the store.
	Prefetched []changeset.Edges
	// IDMapVersion overrides the allocated version for deterministic
	// re-seeding. Nil allocates latest+1.
	IDMapVersion *Version
}

// SeedResult describes a completed seeding run.
type SeedResult struct {
	IDMapVersion Version
	IDDagVersion DagVersion
	Changesets   int
}

// Seed runs the whole pipeline for the given heads.
func (s *Seeder) Seed(ctx context.Context, heads []changeset.ID, opts SeedOptions) (*SeedResult, error) {
	if len(heads) == 0 {
		return nil, fmt.Errorf("seed: no heads")
	}

	known, err := s.validatePrefetched(ctx, opts.Prefetched)
	if err != nil {
		return nil, err
	}

	if err := s.collectClosure(ctx, heads, known); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"heads": len(heads), "changesets": len(known)}).
		Info("collected changeset closure")

	version, err := s.allocateVersion(ctx, opts.IDMapVersion)
	if err != nil {
		return nil, err
	}

	idMap, err := assignIDs(heads, known)
	if err != nil {
		return nil, err
	}

	dag, err := buildDag(idMap, known)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"idmap_version": version,
		"segments":      dag.SegmentCount(0),
		"levels":        dag.Levels(),
	}).Info("built iddag")

	// Persistence order matters: version record, map rows, dag blob, and
	// only then the pair that makes them visible.
	if err := s.idmap.RegisterVersion(ctx, version); err != nil {
		return nil, err
	}
	if err := s.idmap.Put(ctx, version, idMap.Entries()); err != nil {
		return nil, err
	}
	dagVersion, err := s.blobs.Put(dag.Marshal())
	if err != nil {
		return nil, err
	}
	pair := SegmentedChangelogVersion{IDDag: dagVersion, IDMap: version}
	if err := s.versions.Set(ctx, pair); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"idmap_version": version,
		"iddag_version": dagVersion,
	}).Info("published segmented changelog version")

	return &SeedResult{
		IDMapVersion: version,
		IDDagVersion: dagVersion,
		Changesets:   idMap.Len(),
	}, nil
}

// validatePrefetched checks the prefetched set is closed under parents,
// resolving stragglers through the store. A parent that is neither
// prefetched nor resolvable is a fatal configuration error, rejected
// before any traversal begins.
func (s *Seeder) validatePrefetched(ctx context.Context, prefetched []changeset.Edges) (map[changeset.ID]changeset.Edges, error) {
	known := make(map[changeset.ID]changeset.Edges, len(prefetched))
	for _, e := range prefetched {
		known[e.ID] = e
	}

	var missing []changeset.ID
	seen := make(map[changeset.ID]struct{})
	for _, e := range prefetched {
		for _, p := range e.Parents {
			if _, ok := known[p]; ok {
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return known, nil
	}

	resolved, err := s.bulkFetch(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrefetch, err)
	}
	for id, e := range resolved {
		known[id] = e
	}
	return known, nil
}

// collectClosure breadth-first-expands from heads until known holds the
// full reachable set, fetching unknown batches from the store.
func (s *Seeder) collectClosure(ctx context.Context, heads []changeset.ID, known map[changeset.ID]changeset.Edges) error {
	pending := make([]changeset.ID, 0, len(heads))
	queued := make(map[changeset.ID]struct{})
	enqueue := func(id changeset.ID) {
		if _, ok := known[id]; ok {
			return
		}
		if _, ok := queued[id]; ok {
			return
		}
		queued[id] = struct{}{}
		pending = append(pending, id)
	}

	for _, h := range heads {
		enqueue(h)
	}
	// Prefetched entries still contribute their parents to the expansion.
	for _, e := range known {
		for _, p := range e.Parents {
			enqueue(p)
		}
	}

	for len(pending) > 0 {
		batch := pending
		pending = nil
		fetched, err := s.bulkFetch(ctx, batch)
		if err != nil {
			return err
		}
		for id, e := range fetched {
			known[id] = e
			delete(queued, id)
		}
		for _, e := range fetched {
			for _, p := range e.Parents {
				enqueue(p)
			}
		}
	}
	return nil
}

// bulkFetch fetches a large id set in chunks with bounded parallelism.
func (s *Seeder) bulkFetch(ctx context.Context, ids []changeset.ID) (map[changeset.ID]changeset.Edges, error) {
	out := make(map[changeset.ID]changeset.Edges, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchParallelism)
	for start := 0; start < len(ids); start += bulkFetchChunk {
		end := start + bulkFetchChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		g.Go(func() error {
			m, err := s.store.FetchManyEdges(gctx, chunk, changeset.HintDefault)
			if err != nil {
				return err
			}
			mu.Lock()
			for id, e := range m {
				out[id] = e
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// allocateVersion picks the version for this run: the override if given,
// otherwise previous latest + 1 (or 1 on first seed).
func (s *Seeder) allocateVersion(ctx context.Context, override *Version) (Version, error) {
	if override != nil {
		return *override, nil
	}
	latest, err := s.idmap.LatestVersion(ctx)
	if errors.Is(err, ErrNoVersion) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return latest + 1, nil
}

// assignIDs hands out master-group dag ids for every changeset in the
// closure: heads in caller order, each head's ancestry numbered parents
// first in parent order. Deterministic for a given head list and graph, and
// consistent with generation order since parents always precede children.
func assignIDs(heads []changeset.ID, edges map[changeset.ID]changeset.Edges) (*IDMap, error) {
	idMap := NewIDMap()
	next := DagID(1)

	type frame struct {
		id        changeset.ID
		parentIdx int
	}

	for _, head := range heads {
		if _, ok := idMap.DagID(head); ok {
			continue
		}
		stack := []frame{{id: head}}
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			e, ok := edges[f.id]
			if !ok {
				return nil, fmt.Errorf("assign dag ids: %s missing from closure", f.id)
			}
			if f.parentIdx < len(e.Parents) {
				p := e.Parents[f.parentIdx]
				f.parentIdx++
				if _, assigned := idMap.DagID(p); !assigned {
					stack = append(stack, frame{id: p})
				}
				continue
			}
			if _, assigned := idMap.DagID(f.id); !assigned {
				if !next.IsMaster() {
					return nil, fmt.Errorf("assign dag ids: master group exhausted at %d", next)
				}
				if err := idMap.Insert(f.id, next); err != nil {
					return nil, err
				}
				next++
			}
			stack = stack[:len(stack)-1]
		}
	}
	return idMap, nil
}

// buildDag replays the id assignments into the segment structure.
func buildDag(idMap *IDMap, edges map[changeset.ID]changeset.Edges) (*IDDag, error) {
	maxID := DagID(idMap.Len())
	var buildErr error
	dag, err := BuildIDDag(maxID, func(id DagID) []DagID {
		cs, ok := idMap.ChangesetID(id)
		if !ok {
			buildErr = fmt.Errorf("build iddag: dag id %d unmapped", id)
			return nil
		}
		e := edges[cs]
		parents := make([]DagID, 0, len(e.Parents))
		for _, p := range e.Parents {
			pd, ok := idMap.DagID(p)
			if !ok {
				buildErr = fmt.Errorf("build iddag: parent %s of %s unmapped", p, cs)
				return nil
			}
			parents = append(parents, pd)
		}
		return parents
	})
	if buildErr != nil {
		return nil, buildErr
	}
	return dag, err
}
