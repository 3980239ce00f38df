package models

import (
	"time"

	"github.com/google/uuid"
)

// Entity holds the identity and audit fields shared by every persisted record.
type Entity struct {
	ID        uuid.UUID  `json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Now is the clock used by the domain types. Tests may replace it.
var Now = func() time.Time { return time.Now().UTC() }

func NewEntity() Entity {
	return Entity{ID: uuid.New(), CreatedAt: Now()}
}

func (e *Entity) touch() {
	t := Now()
	e.UpdatedAt = &t
}

// SameEntity reports whether a and b refer to the same record.
func SameEntity(a, b Entity) bool {
	return a.ID != uuid.Nil && a.ID == b.ID
}
