package table

import (
	"time"

	"github.com/google/uuid"
)

// Entity is the contract every persisted record satisfies. Implementations
// are pointer types embedding BaseEntity.
type Entity interface {
	GetID() string
	SetID(id string)
}

// BaseEntity provides the identifier, status and timestamp fields shared by
// all entities.
type BaseEntity struct {
	ID        string    `json:"id" db:"id"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// GetID returns the entity ID.
func (e *BaseEntity) GetID() string {
	return e.ID
}

// SetID assigns the entity ID.
func (e *BaseEntity) SetID(id string) {
	e.ID = id
}

// GetStatus returns the entity status.
func (e *BaseEntity) GetStatus() string {
	return e.Status
}

// GetCreatedAt returns the creation time.
func (e *BaseEntity) GetCreatedAt() time.Time {
	return e.CreatedAt
}

// SetTimestamps sets the creation time if unset and refreshes the update time.
func (e *BaseEntity) SetTimestamps() {
	now := Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
}

// Touch refreshes the update time only.
func (e *BaseEntity) Touch() {
	e.UpdatedAt = Now()
}

// NewID returns a time-ordered identifier, so descending ID order is also
// newest first.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Now returns the current UTC time at the precision PostgreSQL stores.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type timestamped interface {
	SetTimestamps()
	stamps() (created, updated time.Time)
	restoreStamps(created, updated time.Time)
}

type touchable interface {
	Touch()
	stamps() (created, updated time.Time)
	restoreStamps(created, updated time.Time)
}

func (e *BaseEntity) stamps() (time.Time, time.Time) {
	return e.CreatedAt, e.UpdatedAt
}

func (e *BaseEntity) restoreStamps(created, updated time.Time) {
	e.CreatedAt, e.UpdatedAt = created, updated
}
