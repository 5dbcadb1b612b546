package changeset

import (
	"context"
	"errors"
	"math/bits"
	"testing"
)

func id(b byte) ID {
	var out ID
	out[0] = b
	return out
}

func TestParseIDRoundTrip(t *testing.T) {
	in := id(0xab)
	parsed, err := ParseID(in.String())
	if err != nil {
		t.Fatalf("ParseID returned error: %v", err)
	}
	if parsed != in {
		t.Errorf("parsed = %s, want %s", parsed, in)
	}
}

func TestParseIDShortInputPadded(t *testing.T) {
	parsed, err := ParseID("ab")
	if err != nil {
		t.Fatalf("ParseID returned error: %v", err)
	}
	if parsed != id(0xab) {
		t.Errorf("parsed = %s, want zero-padded ab", parsed)
	}
}

func TestParseIDRejectsBadInput(t *testing.T) {
	if _, err := ParseID("zz"); err == nil {
		t.Error("ParseID(zz) should fail")
	}
	if _, err := ParseID(id(1).String() + "00"); err == nil {
		t.Error("ParseID should reject over-long input")
	}
}

func TestMemoryStoreGenerations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// D(1) <- B(2), C(2) <- A(3)
	if err := s.Add(id('D')); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(id('B'), id('D')); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(id('C'), id('D')); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(id('A'), id('B'), id('C')); err != nil {
		t.Fatal(err)
	}

	want := map[byte]Generation{'D': 1, 'B': 2, 'C': 2, 'A': 3}
	for b, gen := range want {
		got, err := s.GenerationOf(ctx, id(b))
		if err != nil {
			t.Fatalf("GenerationOf(%c): %v", b, err)
		}
		if got != gen {
			t.Errorf("generation(%c) = %d, want %d", b, got, gen)
		}
	}

	// Monotonicity over every edge.
	edges, err := s.FetchManyEdges(ctx, []ID{id('A'), id('B'), id('C'), id('D')}, HintDefault)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range edges {
		for _, p := range e.Parents {
			if edges[p].Generation >= e.Generation {
				t.Errorf("generation(%s) = %d not above parent %s = %d",
					e.ID, e.Generation, p, edges[p].Generation)
			}
		}
	}
}

func TestMemoryStoreAddRejectsUnknownParent(t *testing.T) {
	s := NewMemoryStore()
	err := s.Add(id(1), id(2))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreFetchMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.FetchManyEdges(context.Background(), []ID{id(9)}, HintDefault)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSkipTreePointersOnChain(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ids := make([]ID, 16)
	for i := range ids {
		ids[i] = id(byte(i + 1))
		var parents []ID
		if i > 0 {
			parents = []ID{ids[i-1]}
		}
		if err := s.Add(ids[i], parents...); err != nil {
			t.Fatal(err)
		}
	}

	edges, err := s.FetchManyEdges(ctx, ids, HintDefault)
	if err != nil {
		t.Fatal(err)
	}
	for i, cid := range ids {
		e := edges[cid]
		if i == 0 {
			if e.SkipTreeParent != nil {
				t.Error("root should carry no skip pointer")
			}
			continue
		}
		if e.SkipTreeParent == nil {
			t.Fatalf("changeset at generation %d carries no skip pointer", e.Generation)
		}
		// Pointers land on the highest power-of-two generation below the
		// changeset's own.
		sp := edges[*e.SkipTreeParent]
		want := Generation(1) << (bits.Len64(uint64(e.Generation-1)) - 1)
		if sp.Generation != want {
			t.Errorf("skip pointer of generation %d lands at generation %d, want %d",
				e.Generation, sp.Generation, want)
		}
		ok, err := s.IsAncestor(ctx, *e.SkipTreeParent, cid)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("skip pointer of %s is not an ancestor", cid)
		}
	}
}

func TestSkipTreePointerAcrossMerge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// Chain c1..c7 plus an unrelated root, merged at generation 8: the
	// pointer must descend through the highest-generation parent.
	chain := make([]ID, 7)
	for i := range chain {
		chain[i] = id(byte(i + 1))
		var parents []ID
		if i > 0 {
			parents = []ID{chain[i-1]}
		}
		if err := s.Add(chain[i], parents...); err != nil {
			t.Fatal(err)
		}
	}
	side := id(0x80)
	if err := s.Add(side); err != nil {
		t.Fatal(err)
	}
	merge := id(0x90)
	if err := s.Add(merge, side, chain[6]); err != nil {
		t.Fatal(err)
	}

	edges, err := s.FetchManyEdges(ctx, []ID{merge}, HintDefault)
	if err != nil {
		t.Fatal(err)
	}
	e := edges[merge]
	if e.SkipTreeParent == nil {
		t.Fatal("merge commit carries no skip pointer")
	}
	if *e.SkipTreeParent != chain[3] {
		t.Errorf("skip pointer = %s, want the generation-4 chain ancestor %s",
			*e.SkipTreeParent, chain[3])
	}
	ok, err := s.IsAncestor(ctx, *e.SkipTreeParent, merge)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("skip pointer of the merge is not an ancestor")
	}
}

func TestMemoryStoreFetchLargeBatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var ids []ID
	for i := 0; i < 3*64+11; i++ {
		var cs ID
		cs[0] = byte(i)
		cs[1] = byte(i >> 8)
		if err := s.Add(cs); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, cs)
	}

	edges, err := s.FetchManyEdges(ctx, ids, HintDefault)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != len(ids) {
		t.Fatalf("fetched %d edges, want %d", len(edges), len(ids))
	}

	ids = append(ids, id(0xff))
	if _, err := s.FetchManyEdges(ctx, ids, HintDefault); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for a missing id in a large batch", err)
	}
}

func TestMemoryStoreIsAncestor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Add(id('D')); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(id('B'), id('D')); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(id('C'), id('D')); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(id('A'), id('B'), id('C')); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		anc, desc byte
		want      bool
	}{
		{'D', 'A', true},
		{'B', 'A', true},
		{'D', 'B', true},
		{'B', 'C', false},
		{'A', 'D', false},
		{'A', 'A', false}, // strict
	}
	for _, tc := range cases {
		got, err := s.IsAncestor(ctx, id(tc.anc), id(tc.desc))
		if err != nil {
			t.Fatalf("IsAncestor(%c, %c): %v", tc.anc, tc.desc, err)
		}
		if got != tc.want {
			t.Errorf("IsAncestor(%c, %c) = %v, want %v", tc.anc, tc.desc, got, tc.want)
		}
	}
}
