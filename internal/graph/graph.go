// Package graph implements the dependency graph and readiness engine.
// All functions are pure: they operate on a snapshot of the work-item set
// and perform no I/O.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/herdctl/herd/pkg/models"
)

// CycleError indicates that inserting an edge would create a circular
// dependency. Members lists the item IDs participating in the cycle.
type CycleError struct {
	Members []string
}

// Error returns a description including the offending cycle's member ids.
func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Members, " -> "))
}

// Ready returns the ordered subset of items eligible to run now.
// An item qualifies iff its status is open, it carries no needs-human label,
// and every blocker either no longer exists or is closed. A cancelled
// blocker still blocks: cancellation does not mean the dependency was
// satisfied. Ordering is ascending priority, then ascending creation time,
// so output is deterministic for a given item set.
func Ready(items []*models.WorkItem) []*models.WorkItem {
	byID := index(items)

	var ready []*models.WorkItem
	for _, item := range items {
		if item.Status != models.StatusOpen {
			continue
		}
		if item.HasLabel(models.LabelNeedsHuman) {
			continue
		}
		if unresolvedBlockers(item, byID) > 0 {
			continue
		}
		ready = append(ready, item)
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})

	return ready
}

// Blocked returns open items with at least one unresolved blocker.
func Blocked(items []*models.WorkItem) []*models.WorkItem {
	byID := index(items)

	var blocked []*models.WorkItem
	for _, item := range items {
		if item.Status != models.StatusOpen {
			continue
		}
		if unresolvedBlockers(item, byID) > 0 {
			blocked = append(blocked, item)
		}
	}
	return blocked
}

// CheckCycle reports whether adding the edge "item blocked_by blocker" to
// the existing edge set would create a cycle. It runs a breadth-first
// reachability search from blocker along blocked_by edges; if item is
// reachable, the new edge would close a loop and a CycleError describing
// the cycle is returned. The edge set is never mutated.
func CheckCycle(edges map[string][]string, item, blocker string) error {
	if item == blocker {
		return &CycleError{Members: []string{item, item}}
	}

	// parent tracks the BFS tree so the cycle members can be reported.
	parent := map[string]string{blocker: ""}
	queue := []string{blocker}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range edges[current] {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = current
			if next == item {
				return &CycleError{Members: cyclePath(parent, item, blocker)}
			}
			queue = append(queue, next)
		}
	}

	return nil
}

// cyclePath reconstructs the cycle item -> blocker -> ... -> item.
func cyclePath(parent map[string]string, item, blocker string) []string {
	var chain []string
	for id := item; id != ""; id = parent[id] {
		chain = append(chain, id)
	}
	// chain is item..blocker in dependency order; present it starting
	// from the item whose edge insertion was rejected.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return append([]string{item}, chain...)
}

// index builds an ID lookup over the item set.
func index(items []*models.WorkItem) map[string]*models.WorkItem {
	byID := make(map[string]*models.WorkItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	return byID
}

// unresolvedBlockers counts blockers that still gate the item. A blocker
// resolves only by being absent from the set or closed.
func unresolvedBlockers(item *models.WorkItem, byID map[string]*models.WorkItem) int {
	count := 0
	for _, blockerID := range item.BlockedBy {
		blocker, exists := byID[blockerID]
		if !exists {
			continue
		}
		if blocker.Status != models.StatusClosed {
			count++
		}
	}
	return count
}
