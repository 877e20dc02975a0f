// Package state provides SQLite-based persistence for herd.
package state

import (
	"io"
	"time"

	"github.com/herdctl/herd/pkg/models"
)

// WorkItemStore handles work-item persistence operations.
type WorkItemStore interface {
	CreateWorkItem(item *models.WorkItem) error
	GetWorkItem(id string) (*models.WorkItem, error)
	SetWorkItemFields(id string, upd ItemUpdate) error
	SetWorkItemStatus(id string, status models.Status) error
	AddLabel(id, label string) error
	RemoveLabel(id, label string) error
	AddDependency(itemID, blockerID string) error
	RemoveDependency(itemID, blockerID string) error
	ListWorkItems() ([]*models.WorkItem, error)
	FindReady() ([]*models.WorkItem, error)
	FindBlocked() ([]*models.WorkItem, error)
}

// RunStore handles run-record persistence operations.
type RunStore interface {
	CreateRun(rec *models.RunRecord) error
	GetRun(id string) (*models.RunRecord, error)
	CompleteRun(id string, status models.RunStatus, exitCode int, failure models.FailureType, endedAt time.Time) error
	ListActiveRuns() ([]*models.RunRecord, error)
	ListRunsForItem(workItemID string) ([]*models.RunRecord, error)
}

// HealthStore handles agent-health persistence operations.
type HealthStore interface {
	UpsertHealth(h models.AgentHealth) error
	ListHealth() ([]models.AgentHealth, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the interface for herd state persistence.
// This interface allows the runner to work with any state backend
// without depending on the concrete SQLite implementation.
// It composes focused sub-interfaces for better modularity.
type Store interface {
	io.Closer
	Migrator
	WorkItemStore
	RunStore
	HealthStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ WorkItemStore = (*DB)(nil)
	_ RunStore      = (*DB)(nil)
	_ HealthStore   = (*DB)(nil)
)
