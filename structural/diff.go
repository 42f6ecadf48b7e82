// Package structural computes the add/remove/move operations implied by a
// change to a subject-reference, subject-collection, or subject-dictionary
// property, per spec §4.E. Value properties are not structural; callers
// route those through the value path instead.
package structural

import (
	"sort"

	"github.com/evalgo/graphsync/subject"
)

// OpKind distinguishes an add from a remove within a structural diff.
type OpKind int

const (
	OpRemove OpKind = iota
	OpAdd
)

// Op is one structural operation against a single property. Index is set
// for collection edges, Key for dictionary edges; both are nil for a plain
// reference edge.
type Op struct {
	Kind    OpKind
	Subject subject.Subject
	Index   *int
	Key     *string
}

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

// DiffReference diffs a single-valued reference property. A change emits one
// remove of the old subject (if any) followed by one add of the new subject
// (if any); identical old/new (by reference) yields no ops.
func DiffReference(old, new subject.Subject) []Op {
	if old == new {
		return nil
	}
	var ops []Op
	if old != nil {
		ops = append(ops, Op{Kind: OpRemove, Subject: old})
	}
	if new != nil {
		ops = append(ops, Op{Kind: OpAdd, Subject: new})
	}
	return ops
}

// DiffDictionary diffs a keyed property. A key present in old but absent (or
// holding a different subject) in new emits a remove; a key present in new
// but absent (or holding a different subject) in old emits an add. A
// same-key replace therefore emits both, remove first, matching the
// dictionary-replace scenario in the testable-properties list.
func DiffDictionary(old, new map[string]subject.Subject) []Op {
	var removeKeys, addKeys []string
	for k, os := range old {
		if ns, ok := new[k]; !ok || ns != os {
			removeKeys = append(removeKeys, k)
		}
	}
	for k, ns := range new {
		if os, ok := old[k]; !ok || ns != os {
			addKeys = append(addKeys, k)
		}
	}
	sort.Strings(removeKeys)
	sort.Strings(addKeys)

	ops := make([]Op, 0, len(removeKeys)+len(addKeys))
	for _, k := range removeKeys {
		ops = append(ops, Op{Kind: OpRemove, Subject: old[k], Key: strPtr(k)})
	}
	for _, k := range addKeys {
		ops = append(ops, Op{Kind: OpAdd, Subject: new[k], Key: strPtr(k)})
	}
	return ops
}

// DiffCollection diffs an ordered property. Common prefix and suffix are
// skipped; within the remaining middle section, items kept under both old
// and new (by subject reference, matched in order to tolerate duplicate
// references) form candidate "stationary" positions. A longest increasing
// subsequence of those candidates, by new index, identifies the minimal set
// that need not move; everything else in the middle is emitted as a
// remove (descending old index) plus an add (ascending new index), per the
// "ties toward fewer operations" rule: reorders alone produce no-op pairs
// only for the elements the LIS could not keep in place.
func DiffCollection(old, new []subject.Subject) []Op {
	start := 0
	for start < len(old) && start < len(new) && old[start] == new[start] {
		start++
	}
	endOld, endNew := len(old), len(new)
	for endOld > start && endNew > start && old[endOld-1] == new[endNew-1] {
		endOld--
		endNew--
	}

	oldMid := old[start:endOld]
	newMid := new[start:endNew]

	newPositions := make(map[subject.Subject][]int, len(newMid))
	for i, s := range newMid {
		newPositions[s] = append(newPositions[s], i)
	}

	type keptItem = struct {
		oldIdx, newIdx int
	}
	var kept []keptItem
	stationaryOld := make(map[int]bool)
	stationaryNew := make(map[int]bool)

	for i, s := range oldMid {
		queue := newPositions[s]
		if len(queue) == 0 {
			continue
		}
		newPositions[s] = queue[1:]
		kept = append(kept, keptItem{oldIdx: i, newIdx: queue[0]})
	}

	for _, idx := range lisIndices(kept) {
		stationaryOld[kept[idx].oldIdx] = true
		stationaryNew[kept[idx].newIdx] = true
	}

	var ops []Op
	for i := len(oldMid) - 1; i >= 0; i-- {
		if stationaryOld[i] {
			continue
		}
		ops = append(ops, Op{Kind: OpRemove, Subject: oldMid[i], Index: intPtr(start + i)})
	}
	for i, s := range newMid {
		if stationaryNew[i] {
			continue
		}
		ops = append(ops, Op{Kind: OpAdd, Subject: s, Index: intPtr(start + i)})
	}
	return ops
}

// lisIndices returns indices into kept (sorted by oldIdx ascending, as built
// by DiffCollection's single forward pass) forming a longest strictly
// increasing subsequence by newIdx, using patience sorting with predecessor
// reconstruction — O(n log n).
func lisIndices(kept []struct{ oldIdx, newIdx int }) []int {
	n := len(kept)
	if n == 0 {
		return nil
	}
	tails := make([]int, 0, n)
	prev := make([]int, n)
	for i := range prev {
		prev[i] = -1
	}
	for i, item := range kept {
		lo, hi := 0, len(tails)
		for lo < hi {
			mid := (lo + hi) / 2
			if kept[tails[mid]].newIdx < item.newIdx {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			prev[i] = tails[lo-1]
		}
		if lo == len(tails) {
			tails = append(tails, i)
		} else {
			tails[lo] = i
		}
	}
	length := len(tails)
	result := make([]int, length)
	k := tails[length-1]
	for i := length - 1; i >= 0; i-- {
		result[i] = k
		k = prev[k]
	}
	return result
}
