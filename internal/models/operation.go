package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	OperationStatusRunning   = "running"
	OperationStatusCompleted = "completed"
	OperationStatusFailed    = "failed"
	OperationStatusStale     = "stale"
)

// One in-flight batch of card submissions. The partial unique index on
// (account_id) WHERE status='running' guarantees at most one running
// operation per account, whatever instance tries to insert.
type Operation struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Type        string
	Status      string
	CardCount   int
	StartedAt   time.Time
	CompletedAt *time.Time // nil while running
}
