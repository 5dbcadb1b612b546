package tests

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/commitdag/internal/ancestors"
	"github.com/agentic-research/commitdag/internal/changeset"
	"github.com/agentic-research/commitdag/internal/gitstore"
	"github.com/agentic-research/commitdag/internal/segmented"
)

// testFixture bundles the shared state for integration tests: a real git
// repository with a small branchy history, the changeset store over it, and
// the sqlite + blob persistence layers a seeding run writes to.
type testFixture struct {
	repo     *git.Repository
	store    *gitstore.Store
	seeder   *segmented.Seeder
	idmap    *segmented.SQLIDMapStore
	blobs    *segmented.BlobStore
	versions *segmented.SQLVersionStore

	// root <- base <- {left <- left2, right} <- merge
	root, base, left, left2, right, merge plumbing.Hash
}

func setup(t *testing.T) *testFixture {
	t.Helper()

	repo, err := git.PlainInit(t.TempDir(), false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	commit := func(msg string, parents ...plumbing.Hash) plumbing.Hash {
		h, err := wt.Commit(msg, &git.CommitOptions{
			AllowEmptyCommits: true,
			Parents:           parents,
			Author: &object.Signature{
				Name:  "test",
				Email: "test@example.com",
				When:  time.Now(),
			},
		})
		require.NoError(t, err)
		return h
	}

	fix := &testFixture{repo: repo}
	fix.root = commit("root")
	fix.base = commit("base", fix.root)
	fix.left = commit("left", fix.base)
	fix.left2 = commit("left2", fix.left)
	fix.right = commit("right", fix.base)
	fix.merge = commit("merge", fix.left2, fix.right)

	fix.store = gitstore.FromRepository(repo)

	stateDir := t.TempDir()
	db, err := segmented.OpenDB(filepath.Join(stateDir, "commitdag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fix.idmap = segmented.NewSQLIDMapStore(db)
	fix.blobs = segmented.NewBlobStore(osfs.New(filepath.Join(stateDir, "blobs")))
	fix.versions = segmented.NewSQLVersionStore(db)
	fix.seeder = segmented.NewSeeder(fix.store, fix.idmap, fix.blobs, fix.versions, 2)

	return fix
}

func (f *testFixture) id(h plumbing.Hash) changeset.ID {
	return gitstore.IDFor(h)
}

func collectStream(t *testing.T, s *ancestors.Stream) []changeset.ID {
	t.Helper()
	var out []changeset.ID
	for {
		batch, err := s.Next(context.Background())
		require.NoError(t, err)
		if batch == nil {
			return out
		}
		out = append(out, batch...)
	}
}

func TestIntegration_AncestorsOverGit(t *testing.T) {
	fix := setup(t)

	stream, err := ancestors.NewStreamBuilder(fix.store, []changeset.ID{fix.id(fix.merge)}).
		Build(context.Background())
	require.NoError(t, err)

	got := collectStream(t, stream)
	assert.ElementsMatch(t, []changeset.ID{
		fix.id(fix.root), fix.id(fix.base), fix.id(fix.left),
		fix.id(fix.left2), fix.id(fix.right), fix.id(fix.merge),
	}, got, "full closure of the merge head")
}

func TestIntegration_AncestorsExclusion(t *testing.T) {
	fix := setup(t)

	// merge ∖ ancestors(left2): only right and the merge itself remain.
	stream, err := ancestors.NewStreamBuilder(fix.store, []changeset.ID{fix.id(fix.merge)}).
		ExcludeAncestorsOf([]changeset.ID{fix.id(fix.left2)}).
		Build(context.Background())
	require.NoError(t, err)

	got := collectStream(t, stream)
	assert.ElementsMatch(t, []changeset.ID{fix.id(fix.merge), fix.id(fix.right)}, got)
}

func TestIntegration_SeedAndReload(t *testing.T) {
	ctx := context.Background()
	fix := setup(t)

	heads, err := fix.store.Heads(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, heads)

	res, err := fix.seeder.Seed(ctx, heads, segmented.SeedOptions{})
	require.NoError(t, err)
	assert.Equal(t, segmented.Version(1), res.IDMapVersion)
	assert.Equal(t, 6, res.Changesets)

	// Reload everything through the published pair, as a fresh reader would.
	pair, err := fix.versions.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, res.IDMapVersion, pair.IDMap)

	entries, err := fix.idmap.Get(ctx, pair.IDMap)
	require.NoError(t, err)
	require.Len(t, entries, 6)

	blob, err := fix.blobs.Get(pair.IDDag)
	require.NoError(t, err)
	dag, err := segmented.UnmarshalIDDag(blob)
	require.NoError(t, err)
	assert.Equal(t, segmented.DagID(6), dag.MaxID())

	// Dag-id ancestry must agree with git's own answer for every pair.
	byCs := make(map[changeset.ID]segmented.DagID, len(entries))
	for _, e := range entries {
		byCs[e.ID] = e.DagID
	}
	all := []plumbing.Hash{fix.root, fix.base, fix.left, fix.left2, fix.right, fix.merge}
	for _, anc := range all {
		for _, desc := range all {
			want, err := fix.store.IsAncestor(ctx, fix.id(anc), fix.id(desc))
			require.NoError(t, err)
			got, err := dag.IsAncestor(byCs[fix.id(anc)], byCs[fix.id(desc)])
			require.NoError(t, err)
			assert.Equal(t, want, got, "IsAncestor(%s, %s)", anc, desc)
		}
	}
}

func TestIntegration_ReseedPublishesNewVersion(t *testing.T) {
	ctx := context.Background()
	fix := setup(t)

	heads, err := fix.store.Heads(ctx)
	require.NoError(t, err)

	first, err := fix.seeder.Seed(ctx, heads, segmented.SeedOptions{})
	require.NoError(t, err)
	second, err := fix.seeder.Seed(ctx, heads, segmented.SeedOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.IDMapVersion+1, second.IDMapVersion)

	pair, err := fix.versions.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.IDMapVersion, pair.IDMap)
}
