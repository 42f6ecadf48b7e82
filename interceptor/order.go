// Package interceptor builds the three ordered middleware chains — read,
// write, invoke — from the interceptor services resolved out of a subject
// context, per spec §4.C. Ordering uses a three-partition topological sort
// (runs-first / middle / runs-last) via Kahn's algorithm, adapted from the
// dependency-graph execution-order algorithm used elsewhere in this corpus
// for DAG scheduling.
package interceptor

import (
	"fmt"
	"strings"
)

// Partition groups interceptors into three ordering buckets. Every
// runs-first interceptor executes before every middle interceptor, which
// executes before every runs-last interceptor, regardless of declared
// edges — edges only reorder interceptors within the same partition.
type Partition int

const (
	PartitionRunsFirst Partition = iota
	PartitionMiddle
	PartitionRunsLast
)

// node is the generic ordering unit: a named entry bound to a partition
// with before/after edges referencing other entries by name.
type node struct {
	name       string
	partition  Partition
	runsBefore []string
	runsAfter  []string
	seq        int // original registration order, for stable tie-breaks
}

// Ordering is optionally implemented by an interceptor to participate in
// topological ordering; interceptors that don't implement it default to
// PartitionMiddle with no edges.
type Ordering interface {
	Partition() Partition
	RunsBefore() []string
	RunsAfter() []string
}

// CycleError is returned when the declared ordering edges contain a cycle.
// An edge that crosses partitions is reported as a CrossPartitionError
// instead.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("interceptor: ordering cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// CrossPartitionError is returned when a runs-before/runs-after edge names
// an interceptor in a different partition.
type CrossPartitionError struct {
	From, To string
}

func (e *CrossPartitionError) Error() string {
	return fmt.Sprintf("interceptor: %q declares an ordering edge to %q in a different partition", e.From, e.To)
}

// order topologically sorts nodes within each partition (runs-first, then
// middle, then runs-last) and concatenates the three results. Ties within a
// partition break by registration order (seq), matching Kahn's algorithm
// seeded with a stable-ordered ready queue.
func order(nodes []node) ([]string, error) {
	byName := make(map[string]node, len(nodes))
	for _, n := range nodes {
		byName[n.name] = n
	}

	// Validate that every edge stays within its own partition before doing
	// any sorting — a cross-partition edge can never be satisfied, so it is
	// reported distinctly from a same-partition cycle.
	for _, n := range nodes {
		for _, before := range n.runsBefore {
			target, ok := byName[before]
			if ok && target.partition != n.partition {
				return nil, &CrossPartitionError{From: n.name, To: before}
			}
		}
		for _, after := range n.runsAfter {
			target, ok := byName[after]
			if ok && target.partition != n.partition {
				return nil, &CrossPartitionError{From: n.name, To: after}
			}
		}
	}

	var result []string
	for _, partition := range []Partition{PartitionRunsFirst, PartitionMiddle, PartitionRunsLast} {
		var bucket []node
		for _, n := range nodes {
			if n.partition == partition {
				bucket = append(bucket, n)
			}
		}
		sorted, err := topoSortPartition(bucket)
		if err != nil {
			return nil, err
		}
		result = append(result, sorted...)
	}
	return result, nil
}

// topoSortPartition runs Kahn's algorithm over one partition's nodes. An
// edge "A runs-before B" is modeled as A -> B; "A runs-after B" as B -> A.
// The ready queue is kept sorted by registration seq so ties break by
// registration order, as required by the build contract.
func topoSortPartition(nodes []node) ([]string, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	byName := make(map[string]*node, len(nodes))
	for i := range nodes {
		byName[nodes[i].name] = &nodes[i]
	}

	adjacency := make(map[string][]string)
	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.name] = 0
	}

	addEdge := func(from, to string) {
		if _, ok := byName[from]; !ok {
			return
		}
		if _, ok := byName[to]; !ok {
			return
		}
		adjacency[from] = append(adjacency[from], to)
		inDegree[to]++
	}

	for _, n := range nodes {
		for _, before := range n.runsBefore {
			addEdge(n.name, before)
		}
		for _, after := range n.runsAfter {
			addEdge(after, n.name)
		}
	}

	ready := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if inDegree[n.name] == 0 {
			ready = append(ready, n.name)
		}
	}
	sortBySeq(ready, byName)

	var result []string
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		result = append(result, current)

		var newlyReady []string
		for _, next := range adjacency[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				newlyReady = append(newlyReady, next)
			}
		}
		sortBySeq(newlyReady, byName)
		ready = mergeBySeq(ready, newlyReady, byName)
	}

	if len(result) != len(nodes) {
		remaining := make(map[string]bool, len(nodes))
		for _, n := range nodes {
			remaining[n.name] = true
		}
		for _, name := range result {
			delete(remaining, name)
		}
		return nil, &CycleError{Cycle: cycleMembers(remaining)}
	}
	return result, nil
}

func sortBySeq(names []string, byName map[string]*node) {
	for i := 1; i < len(names); i++ {
		j := i
		for j > 0 && byName[names[j-1]].seq > byName[names[j]].seq {
			names[j-1], names[j] = names[j], names[j-1]
			j--
		}
	}
}

// mergeBySeq merges two already seq-sorted slices, preserving stability.
func mergeBySeq(a, b []string, byName map[string]*node) []string {
	if len(b) == 0 {
		return a
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if byName[a[i]].seq <= byName[b[j]].seq {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func cycleMembers(remaining map[string]bool) []string {
	names := make([]string, 0, len(remaining))
	for name := range remaining {
		names = append(names, name)
	}
	// Deterministic order for the diagnostic message.
	for i := 1; i < len(names); i++ {
		j := i
		for j > 0 && names[j-1] > names[j] {
			names[j-1], names[j] = names[j], names[j-1]
			j--
		}
	}
	return names
}
