package ancestors

import (
	"context"

	"github.com/agentic-research/commitdag/internal/bounded"
	"github.com/agentic-research/commitdag/internal/changeset"
)

// fetchChunkSize is the largest batch handed to the store in one call.
const fetchChunkSize = 64

// fetchEdges fetches edges for ids, splitting large batches into chunks that
// run concurrently under the bounded traversal engine (a one-level tree:
// unfold splits, leaves fetch, fold merges).
func fetchEdges(
	ctx context.Context,
	store changeset.Store,
	ids []changeset.ID,
	hint changeset.FetchHint,
	concurrency int,
) (map[changeset.ID]changeset.Edges, error) {
	if len(ids) <= fetchChunkSize {
		return store.FetchManyEdges(ctx, ids, hint)
	}

	unfold := func(ctx context.Context, in []changeset.ID) (map[changeset.ID]changeset.Edges, [][]changeset.ID, error) {
		if len(in) <= fetchChunkSize {
			m, err := store.FetchManyEdges(ctx, in, hint)
			return m, nil, err
		}
		var chunks [][]changeset.ID
		for start := 0; start < len(in); start += fetchChunkSize {
			end := start + fetchChunkSize
			if end > len(in) {
				end = len(in)
			}
			chunks = append(chunks, in[start:end])
		}
		return nil, chunks, nil
	}

	fold := func(ctx context.Context, c map[changeset.ID]changeset.Edges, children []map[changeset.ID]changeset.Edges) (map[changeset.ID]changeset.Edges, error) {
		if len(children) == 0 {
			return c, nil
		}
		merged := make(map[changeset.ID]changeset.Edges, len(ids))
		for _, child := range children {
			for id, e := range child {
				merged[id] = e
			}
		}
		return merged, nil
	}

	return bounded.Traverse(ctx, concurrency, ids, unfold, fold)
}
