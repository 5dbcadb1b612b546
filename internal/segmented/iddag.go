package segmented

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// segmentSize is how many level n-1 segments a level n segment spans.
const segmentSize = 16

// Segment is a contiguous run of dag ids [Low, High] in which every id
// except Low has the single parent id-1; Parents are the parents of Low.
// Segments are the compression unit of the IdDag: ancestry queries walk
// segments, not individual commits.
type Segment struct {
	Low     DagID
	High    DagID
	Parents []DagID
}

// Contains reports whether id falls inside the segment's span.
func (s Segment) Contains(id DagID) bool {
	return s.Low <= id && id <= s.High
}

// IDDag is the segment-compressed DAG over the dag-id space. Level 0 holds
// the flat segments that answer queries; higher levels merge runs of lower
// segments and keep the serialized structure small for long histories.
//
// Built in memory during seeding, then serialized as a content-addressed
// blob. Read-only once built.
type IDDag struct {
	levels [][]Segment
}

// BuildIDDag constructs the dag for ids 1..maxID. parents must return the
// dag-id parents of any id in that range; ids are expected to be numbered
// consistently with generation order (every parent id is smaller than its
// child's).
func BuildIDDag(maxID DagID, parents func(DagID) []DagID) (*IDDag, error) {
	var flat []Segment
	for id := DagID(1); id <= maxID; id++ {
		ps := parents(id)
		for _, p := range ps {
			if p >= id {
				return nil, fmt.Errorf("build iddag: id %d has parent %d not below it", id, p)
			}
		}
		if len(flat) > 0 && len(ps) == 1 && ps[0] == id-1 && flat[len(flat)-1].High == id-1 {
			flat[len(flat)-1].High = id
			continue
		}
		flat = append(flat, Segment{Low: id, High: id, Parents: append([]DagID(nil), ps...)})
	}

	dag := &IDDag{levels: [][]Segment{flat}}
	dag.buildHighLevels()
	return dag, nil
}

// buildHighLevels merges runs of segmentSize lower-level segments until a
// level yields fewer than two segments. A high-level segment spans the
// contiguous id range of its run and keeps only the parents falling outside
// that range.
func (d *IDDag) buildHighLevels() {
	for {
		lower := d.levels[len(d.levels)-1]
		if len(lower) < segmentSize {
			return
		}
		var level []Segment
		for i := 0; i+segmentSize <= len(lower); i += segmentSize {
			run := lower[i : i+segmentSize]
			seg := Segment{Low: run[0].Low, High: run[len(run)-1].High}
			for _, child := range run {
				for _, p := range child.Parents {
					if !seg.Contains(p) {
						seg.Parents = append(seg.Parents, p)
					}
				}
			}
			level = append(level, seg)
		}
		if len(level) < 2 {
			return
		}
		d.levels = append(d.levels, level)
	}
}

// Levels returns the number of segment levels.
func (d *IDDag) Levels() int {
	return len(d.levels)
}

// SegmentCount returns the number of segments at the given level.
func (d *IDDag) SegmentCount(level int) int {
	if level < 0 || level >= len(d.levels) {
		return 0
	}
	return len(d.levels[level])
}

// MaxID returns the highest id covered by the dag, or 0 when empty.
func (d *IDDag) MaxID() DagID {
	flat := d.levels[0]
	if len(flat) == 0 {
		return 0
	}
	return flat[len(flat)-1].High
}

// findFlat returns the flat segment containing id. All queries walk the
// flat level only; the high levels compress the serialized blob and are not
// consulted at query time.
func (d *IDDag) findFlat(id DagID) (Segment, error) {
	flat := d.levels[0]
	i := sort.Search(len(flat), func(i int) bool { return flat[i].High >= id })
	if i == len(flat) || !flat[i].Contains(id) {
		return Segment{}, fmt.Errorf("dag id %d not covered by any segment", id)
	}
	return flat[i], nil
}

// ParentIDs returns the dag-id parents of id.
func (d *IDDag) ParentIDs(id DagID) ([]DagID, error) {
	seg, err := d.findFlat(id)
	if err != nil {
		return nil, err
	}
	if id > seg.Low {
		return []DagID{id - 1}, nil
	}
	return append([]DagID(nil), seg.Parents...), nil
}

// AncestorSet returns the set of ancestors of heads, heads included, as a
// bitmap over dag ids. Work is proportional to the number of segments
// touched, not the number of commits.
func (d *IDDag) AncestorSet(heads []DagID) (*roaring64.Bitmap, error) {
	set := roaring64.New()
	pending := &dagIDHeap{}
	for _, h := range heads {
		heap.Push(pending, h)
	}
	for pending.Len() > 0 {
		id := heap.Pop(pending).(DagID)
		if set.Contains(uint64(id)) {
			continue
		}
		seg, err := d.findFlat(id)
		if err != nil {
			return nil, err
		}
		// Everything in [seg.Low, id] is a chain of single-parent steps.
		set.AddRange(uint64(seg.Low), uint64(id)+1)
		for _, p := range seg.Parents {
			if !set.Contains(uint64(p)) {
				heap.Push(pending, p)
			}
		}
	}
	return set, nil
}

// IsAncestor reports whether ancestor is a strict ancestor of descendant
// (equal ids answer false). The walk prunes every branch that drops below
// the candidate ancestor.
func (d *IDDag) IsAncestor(ancestor, descendant DagID) (bool, error) {
	if ancestor >= descendant {
		return false, nil
	}
	seen := roaring64.New()
	pending := &dagIDHeap{}
	heap.Push(pending, descendant)
	for pending.Len() > 0 {
		id := heap.Pop(pending).(DagID)
		if seen.Contains(uint64(id)) {
			continue
		}
		seg, err := d.findFlat(id)
		if err != nil {
			return false, err
		}
		if seg.Low <= ancestor && ancestor < id {
			// Inside the chain [seg.Low, id-1] leading up to id.
			return true, nil
		}
		seen.AddRange(uint64(seg.Low), uint64(id)+1)
		for _, p := range seg.Parents {
			if p == ancestor {
				return true, nil
			}
			if p > ancestor && !seen.Contains(uint64(p)) {
				heap.Push(pending, p)
			}
		}
	}
	return false, nil
}

// dagIDHeap is a max-heap of dag ids.
type dagIDHeap []DagID

func (h dagIDHeap) Len() int            { return len(h) }
func (h dagIDHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h dagIDHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dagIDHeap) Push(x interface{}) { *h = append(*h, x.(DagID)) }
func (h *dagIDHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
