package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/herdctl/herd/internal/graph"
	"github.com/herdctl/herd/pkg/models"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// CreateWorkItem inserts a new work item. A missing ID is generated and
// timestamps are set server-side.
func (db *DB) CreateWorkItem(item *models.WorkItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = models.StatusOpen
	}
	if !item.Status.Valid() {
		return fmt.Errorf("create work item: invalid status %q", item.Status)
	}
	if item.Tier == "" {
		item.Tier = models.TierStandard
	}
	if !item.Tier.Valid() {
		return fmt.Errorf("create work item: invalid tier %q", item.Tier)
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	blockedBy, err := json.Marshal(item.BlockedBy)
	if err != nil {
		return fmt.Errorf("encode blocked_by: %w", err)
	}
	labels, err := json.Marshal(item.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO work_items (id, title, status, priority, tier, blocked_by, labels, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Title, string(item.Status), item.Priority, string(item.Tier),
		string(blockedBy), string(labels), formatTime(item.CreatedAt), formatTime(item.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create work item: %w", err)
	}
	return nil
}

// GetWorkItem retrieves a work item by ID.
func (db *DB) GetWorkItem(id string) (*models.WorkItem, error) {
	row := db.QueryRow(`
		SELECT id, title, status, priority, tier, blocked_by, labels, created_at, updated_at
		FROM work_items WHERE id = ?
	`, id)

	item, err := scanWorkItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("work item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get work item: %w", err)
	}
	return item, nil
}

// ItemUpdate names the fields SetWorkItemFields may change. Nil fields
// are left untouched.
type ItemUpdate struct {
	Title    *string
	Status   *models.Status
	Priority *int
	Tier     *models.Tier
	Labels   *[]string
}

// SetWorkItemFields applies a partial update and bumps updated_at.
func (db *DB) SetWorkItemFields(id string, upd ItemUpdate) error {
	item, err := db.GetWorkItem(id)
	if err != nil {
		return err
	}

	if upd.Title != nil {
		item.Title = *upd.Title
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return fmt.Errorf("update work item: invalid status %q", *upd.Status)
		}
		item.Status = *upd.Status
	}
	if upd.Priority != nil {
		item.Priority = *upd.Priority
	}
	if upd.Tier != nil {
		if !upd.Tier.Valid() {
			return fmt.Errorf("update work item: invalid tier %q", *upd.Tier)
		}
		item.Tier = *upd.Tier
	}
	if upd.Labels != nil {
		item.Labels = *upd.Labels
	}

	return writeWorkItem(db, item)
}

// SetWorkItemStatus sets the item's status.
func (db *DB) SetWorkItemStatus(id string, status models.Status) error {
	return db.SetWorkItemFields(id, ItemUpdate{Status: &status})
}

// AddLabel adds a label to the item if not already present.
func (db *DB) AddLabel(id, label string) error {
	item, err := db.GetWorkItem(id)
	if err != nil {
		return err
	}
	if item.HasLabel(label) {
		return nil
	}
	item.Labels = append(item.Labels, label)
	return writeWorkItem(db, item)
}

// RemoveLabel removes a label from the item if present.
func (db *DB) RemoveLabel(id, label string) error {
	item, err := db.GetWorkItem(id)
	if err != nil {
		return err
	}
	kept := item.Labels[:0]
	for _, l := range item.Labels {
		if l != label {
			kept = append(kept, l)
		}
	}
	if len(kept) == len(item.Labels) {
		return nil
	}
	item.Labels = kept
	return writeWorkItem(db, item)
}

// AddDependency records that item blocks on blocker, rejecting edges that
// would close a dependency cycle. The read, the cycle check, and the
// write run in one immediate transaction, so concurrent edge additions
// serialize instead of racing a cycle past the check, including additions
// from other processes.
func (db *DB) AddDependency(itemID, blockerID string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		items, err := listWorkItems(tx)
		if err != nil {
			return err
		}

		var target *models.WorkItem
		edges := make(map[string][]string, len(items))
		for _, it := range items {
			edges[it.ID] = it.BlockedBy
			if it.ID == itemID {
				target = it
			}
		}
		if target == nil {
			return fmt.Errorf("work item %s: %w", itemID, ErrNotFound)
		}
		if _, ok := edges[blockerID]; !ok {
			return fmt.Errorf("blocker %s: %w", blockerID, ErrNotFound)
		}
		for _, dep := range target.BlockedBy {
			if dep == blockerID {
				return nil
			}
		}

		if err := graph.CheckCycle(edges, itemID, blockerID); err != nil {
			return err
		}

		target.BlockedBy = append(target.BlockedBy, blockerID)
		return writeWorkItem(tx, target)
	})
}

// RemoveDependency drops the item's edge on blocker.
func (db *DB) RemoveDependency(itemID, blockerID string) error {
	item, err := db.GetWorkItem(itemID)
	if err != nil {
		return err
	}
	kept := item.BlockedBy[:0]
	for _, dep := range item.BlockedBy {
		if dep != blockerID {
			kept = append(kept, dep)
		}
	}
	if len(kept) == len(item.BlockedBy) {
		return nil
	}
	item.BlockedBy = kept
	return writeWorkItem(db, item)
}

// ListWorkItems returns all work items.
func (db *DB) ListWorkItems() ([]*models.WorkItem, error) {
	return listWorkItems(db)
}

func listWorkItems(q querier) ([]*models.WorkItem, error) {
	rows, err := q.Query(`
		SELECT id, title, status, priority, tier, blocked_by, labels, created_at, updated_at
		FROM work_items
	`)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var items []*models.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("list work items: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FindReady returns the work items eligible to start, in dispatch order.
func (db *DB) FindReady() ([]*models.WorkItem, error) {
	items, err := db.ListWorkItems()
	if err != nil {
		return nil, err
	}
	return graph.Ready(items), nil
}

// FindBlocked returns the open items gated by unresolved blockers.
func (db *DB) FindBlocked() ([]*models.WorkItem, error) {
	items, err := db.ListWorkItems()
	if err != nil {
		return nil, err
	}
	return graph.Blocked(items), nil
}

// writeWorkItem persists the full row and bumps updated_at.
func writeWorkItem(e execer, item *models.WorkItem) error {
	item.UpdatedAt = time.Now().UTC()

	blockedBy, err := json.Marshal(item.BlockedBy)
	if err != nil {
		return fmt.Errorf("encode blocked_by: %w", err)
	}
	labels, err := json.Marshal(item.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}

	res, err := e.Exec(`
		UPDATE work_items SET title = ?, status = ?, priority = ?, tier = ?,
			blocked_by = ?, labels = ?, updated_at = ?
		WHERE id = ?
	`, item.Title, string(item.Status), item.Priority, string(item.Tier),
		string(blockedBy), string(labels), formatTime(item.UpdatedAt), item.ID)
	if err != nil {
		return fmt.Errorf("update work item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("work item %s: %w", item.ID, ErrNotFound)
	}
	return nil
}

// querier and execer are satisfied by both *DB and *sql.Tx, so the row
// helpers below serve plain calls and transactional ones alike.
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(s scanner) (*models.WorkItem, error) {
	var item models.WorkItem
	var blockedBy, labels sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&item.ID, &item.Title, &item.Status, &item.Priority, &item.Tier,
		&blockedBy, &labels, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if blockedBy.Valid && blockedBy.String != "" {
		if err := json.Unmarshal([]byte(blockedBy.String), &item.BlockedBy); err != nil {
			return nil, fmt.Errorf("decode blocked_by: %w", err)
		}
	}
	if labels.Valid && labels.String != "" {
		if err := json.Unmarshal([]byte(labels.String), &item.Labels); err != nil {
			return nil, fmt.Errorf("decode labels: %w", err)
		}
	}
	item.CreatedAt, _ = parseTime(createdAt)
	item.UpdatedAt, _ = parseTime(updatedAt)
	return &item, nil
}
