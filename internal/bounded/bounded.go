// Package bounded implements a generic bounded-concurrency tree-traversal
// scheduler: an unfold/fold computation over an implicit tree, with at most
// scheduledMax unfold/fold jobs in flight at once. It is the execution
// engine for recursive graph algorithms and is deliberately domain-agnostic.
package bounded

import (
	"context"
	"fmt"
)

// UnfoldFunc expands one input into a fold context and a list of child
// inputs. A nil/empty child list makes the node a leaf. It may suspend on
// ctx.
type UnfoldFunc[In, Ctx any] func(ctx context.Context, in In) (Ctx, []In, error)

// FoldFunc aggregates a node's fold context with its children's results.
// Child results arrive in original child order. It may suspend on ctx.
type FoldFunc[Ctx, Out any] func(ctx context.Context, c Ctx, children []Out) (Out, error)

// nodeIndex keys entries in the execution tree. The root's parent slot is
// the sentinel rootParent.
type nodeIndex uint64

const rootParent = ^nodeIndex(0)

// execNode tracks a node whose unfold produced children: a back-pointer to
// its parent's slot, the fold context, ordered child result slots and a
// countdown of slots still empty. Deleted the instant the countdown hits
// zero, replaced by a queued fold job.
type execNode[Ctx, Out any] struct {
	parent  nodeIndex
	slot    int
	foldCtx Ctx
	results []Out
	pending int
}

type jobKind int

const (
	jobUnfold jobKind = iota
	jobFold
)

type job[In, Ctx, Out any] struct {
	kind   jobKind
	parent nodeIndex
	slot   int

	in       In    // unfold
	foldCtx  Ctx   // fold
	children []Out // fold
}

type jobResult[In, Ctx, Out any] struct {
	kind   jobKind
	parent nodeIndex
	slot   int

	foldCtx  Ctx  // unfold
	children []In // unfold
	out      Out  // fold

	err error
}

// Traverse runs the unfold/fold computation rooted at root and returns the
// fold result of the root node. At most scheduledMax jobs run concurrently;
// scheduledMax <= 0 means effectively unbounded.
//
// Each logical node is folded exactly once, after all of its children have
// folded, so the result is deterministic with respect to the tree shape and
// independent of job completion order. Any unfold or fold error fails the
// whole traversal.
func Traverse[In, Ctx, Out any](
	ctx context.Context,
	scheduledMax int,
	root In,
	unfold UnfoldFunc[In, Ctx],
	fold FoldFunc[Ctx, Out],
) (Out, error) {
	var zero Out
	if scheduledMax <= 0 {
		scheduledMax = 1 << 16
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Small buffer smooths completion bursts; the ctx guard on send keeps
	// worker goroutines from blocking forever if the driver returns early.
	results := make(chan jobResult[In, Ctx, Out], 16)

	tree := make(map[nodeIndex]*execNode[Ctx, Out])
	var nextIndex nodeIndex

	unscheduled := []job[In, Ctx, Out]{{kind: jobUnfold, parent: rootParent, in: root}}
	inflight := 0

	run := func(j job[In, Ctx, Out]) {
		r := jobResult[In, Ctx, Out]{kind: j.kind, parent: j.parent, slot: j.slot}
		switch j.kind {
		case jobUnfold:
			r.foldCtx, r.children, r.err = unfold(runCtx, j.in)
		case jobFold:
			r.out, r.err = fold(runCtx, j.foldCtx, j.children)
		}
		select {
		case results <- r:
		case <-runCtx.Done():
		}
	}

	for {
		for inflight < scheduledMax && len(unscheduled) > 0 {
			j := unscheduled[len(unscheduled)-1]
			unscheduled = unscheduled[:len(unscheduled)-1]
			inflight++
			go run(j)
		}
		if inflight == 0 {
			// Queue drained without the root folding: impossible unless the
			// callbacks broke the tree contract.
			return zero, fmt.Errorf("bounded traversal: no jobs left before root fold")
		}

		var r jobResult[In, Ctx, Out]
		select {
		case r = <-results:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		inflight--

		if r.err != nil {
			return zero, r.err
		}

		switch r.kind {
		case jobUnfold:
			if len(r.children) == 0 {
				// Leaf: fold immediately with no child results.
				unscheduled = append(unscheduled, job[In, Ctx, Out]{
					kind:    jobFold,
					parent:  r.parent,
					slot:    r.slot,
					foldCtx: r.foldCtx,
				})
				continue
			}
			idx := nextIndex
			nextIndex++
			tree[idx] = &execNode[Ctx, Out]{
				parent:  r.parent,
				slot:    r.slot,
				foldCtx: r.foldCtx,
				results: make([]Out, len(r.children)),
				pending: len(r.children),
			}
			for i, child := range r.children {
				unscheduled = append(unscheduled, job[In, Ctx, Out]{
					kind:   jobUnfold,
					parent: idx,
					slot:   i,
					in:     child,
				})
			}

		case jobFold:
			if r.parent == rootParent {
				return r.out, nil
			}
			n := tree[r.parent]
			n.results[r.slot] = r.out
			n.pending--
			if n.pending == 0 {
				delete(tree, r.parent)
				unscheduled = append(unscheduled, job[In, Ctx, Out]{
					kind:     jobFold,
					parent:   n.parent,
					slot:     n.slot,
					foldCtx:  n.foldCtx,
					children: n.results,
				})
			}
		}
	}
}
