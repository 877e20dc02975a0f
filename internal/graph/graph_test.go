package graph

import (
	"errors"
	"testing"
	"time"

	"github.com/herdctl/herd/pkg/models"
)

func item(id string, status models.Status, priority int, createdAt time.Time, blockedBy ...string) *models.WorkItem {
	return &models.WorkItem{
		ID:        id,
		Title:     "Item " + id,
		Status:    status,
		Priority:  priority,
		BlockedBy: blockedBy,
		CreatedAt: createdAt,
	}
}

func TestReadyNoBlockers(t *testing.T) {
	base := time.Now()
	items := []*models.WorkItem{
		item("a", models.StatusOpen, 1, base),
		item("b", models.StatusOpen, 1, base.Add(time.Second), "a"),
	}

	ready := Ready(items)
	if len(ready) != 1 {
		t.Fatalf("expected 1 ready item, got %d", len(ready))
	}
	if ready[0].ID != "a" {
		t.Errorf("expected a to be ready, got %s", ready[0].ID)
	}
}

func TestReadyAfterBlockerCloses(t *testing.T) {
	base := time.Now()
	items := []*models.WorkItem{
		item("a", models.StatusClosed, 1, base),
		item("b", models.StatusOpen, 1, base.Add(time.Second), "a"),
	}

	ready := Ready(items)
	if len(ready) != 1 || ready[0].ID != "b" {
		t.Fatalf("expected [b] after a closed, got %v", ids(ready))
	}
}

func TestReadyCancelledBlockerStillBlocks(t *testing.T) {
	base := time.Now()
	items := []*models.WorkItem{
		item("a", models.StatusCancelled, 1, base),
		item("b", models.StatusOpen, 1, base.Add(time.Second), "a"),
	}

	if ready := Ready(items); len(ready) != 0 {
		t.Errorf("cancelled blocker must still block, got %v", ids(ready))
	}
}

func TestReadyMissingBlockerResolves(t *testing.T) {
	items := []*models.WorkItem{
		item("b", models.StatusOpen, 1, time.Now(), "gone"),
	}

	ready := Ready(items)
	if len(ready) != 1 || ready[0].ID != "b" {
		t.Fatalf("nonexistent blocker should not block, got %v", ids(ready))
	}
}

func TestReadySkipsNeedsHuman(t *testing.T) {
	it := item("a", models.StatusOpen, 1, time.Now())
	it.Labels = []string{models.LabelNeedsHuman}

	if ready := Ready([]*models.WorkItem{it}); len(ready) != 0 {
		t.Errorf("needs-human item must not be ready, got %v", ids(ready))
	}
}

func TestReadyNeverReturnsGatedItems(t *testing.T) {
	base := time.Now()
	statuses := []models.Status{
		models.StatusOpen, models.StatusInProgress, models.StatusReview,
		models.StatusCancelled, models.StatusDeferred,
	}
	var items []*models.WorkItem
	for i, s := range statuses {
		blocker := item("blocker-"+string(s), s, 1, base)
		blocked := item("blocked-"+string(s), models.StatusOpen, 1, base.Add(time.Duration(i)*time.Second), blocker.ID)
		items = append(items, blocker, blocked)
	}

	byID := make(map[string]*models.WorkItem)
	for _, it := range items {
		byID[it.ID] = it
	}

	for _, got := range Ready(items) {
		for _, dep := range got.BlockedBy {
			if b, ok := byID[dep]; ok && b.Status != models.StatusClosed {
				t.Errorf("item %s returned ready with unresolved blocker %s (%s)", got.ID, dep, b.Status)
			}
		}
	}
}

func TestReadyOrdering(t *testing.T) {
	base := time.Now()
	items := []*models.WorkItem{
		item("later", models.StatusOpen, 2, base.Add(time.Second)),
		item("urgent", models.StatusOpen, 0, base.Add(2*time.Second)),
		item("early", models.StatusOpen, 2, base),
	}

	ready := Ready(items)
	want := []string{"urgent", "early", "later"}
	got := ids(ready)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestBlocked(t *testing.T) {
	base := time.Now()
	items := []*models.WorkItem{
		item("a", models.StatusOpen, 1, base),
		item("b", models.StatusOpen, 1, base, "a"),
		item("c", models.StatusInProgress, 1, base, "a"),
	}

	blocked := Blocked(items)
	if len(blocked) != 1 || blocked[0].ID != "b" {
		t.Fatalf("expected [b] blocked (in_progress excluded), got %v", ids(blocked))
	}
}

func TestCheckCycleDirect(t *testing.T) {
	edges := map[string][]string{"a": {"b"}}

	err := CheckCycle(edges, "b", "a")
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cycleErr.Members) < 2 {
		t.Errorf("expected cycle members to be reported, got %v", cycleErr.Members)
	}
}

func TestCheckCycleTransitive(t *testing.T) {
	edges := map[string][]string{
		"a": {"b"},
		"b": {"c"},
	}

	if err := CheckCycle(edges, "c", "a"); err == nil {
		t.Error("expected transitive cycle c<-a<-b<-c to be detected")
	}
}

func TestCheckCycleSelf(t *testing.T) {
	if err := CheckCycle(nil, "a", "a"); err == nil {
		t.Error("expected self-edge to be rejected")
	}
}

func TestCheckCycleAllowed(t *testing.T) {
	edges := map[string][]string{"a": {"b"}}

	if err := CheckCycle(edges, "c", "a"); err != nil {
		t.Errorf("expected edge c->a to be allowed, got %v", err)
	}
	// Diamond dependencies are fine: d->b, d->c, b->a, c->a.
	edges = map[string][]string{"b": {"a"}, "c": {"a"}, "d": {"b", "c"}}
	if err := CheckCycle(edges, "d", "a"); err != nil {
		t.Errorf("expected diamond edge to be allowed, got %v", err)
	}
}

func ids(items []*models.WorkItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}
