// Package models defines the core domain types shared across Herd.
package models

import (
	"time"
)

// Status represents the current state of a work item.
type Status string

const (
	// StatusOpen indicates the item is waiting to be picked up.
	StatusOpen Status = "open"
	// StatusInProgress indicates an agent subprocess is working on the item.
	StatusInProgress Status = "in_progress"
	// StatusReview indicates the item completed and awaits review.
	StatusReview Status = "review"
	// StatusClosed indicates the item finished successfully.
	StatusClosed Status = "closed"
	// StatusCancelled indicates the item was abandoned without completing.
	StatusCancelled Status = "cancelled"
	// StatusDeferred indicates the item is parked and not eligible to run.
	StatusDeferred Status = "deferred"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusReview, StatusClosed, StatusCancelled, StatusDeferred:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status ends the item's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// LabelNeedsHuman marks an item that requires human intervention.
// Items carrying this label are never scheduled automatically.
const LabelNeedsHuman = "needs-human"

// WorkItem represents a unit of work in the queue.
type WorkItem struct {
	// ID is the opaque stable identifier for this item.
	ID string `json:"id"`
	// Title is the short description of the item.
	Title string `json:"title"`
	// Status is the current state of the item.
	Status Status `json:"status"`
	// Priority orders scheduling; lower values are more urgent.
	Priority int `json:"priority"`
	// Tier is the complexity tier that drives agent routing.
	Tier Tier `json:"tier"`
	// BlockedBy lists item IDs that must close before this item runs.
	BlockedBy []string `json:"blocked_by,omitempty"`
	// Labels is the set of labels attached to this item.
	Labels []string `json:"labels,omitempty"`
	// CreatedAt is when the item was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the item was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// HasLabel returns true if the item carries the given label.
func (w *WorkItem) HasLabel(label string) bool {
	for _, l := range w.Labels {
		if l == label {
			return true
		}
	}
	return false
}
