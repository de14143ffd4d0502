package problem

import "time"

type Status string

const (
	StatusOpen      Status = "open"
	StatusAssigned  Status = "assigned"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Location is free-form; coordinates are optional.
type Location struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	City      string   `json:"city,omitempty"`
	Address   string   `json:"address,omitempty"`
}

// Problem is a customer's request for a worker. Category is fixed at
// creation: it names the channel the problem is announced on.
// AssignedTo is set exactly when Status is assigned or completed.
type Problem struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `gorm:"type:text;not null" json:"description"`
	Category    string    `gorm:"not null" json:"category"`
	Location    Location  `gorm:"embedded;embeddedPrefix:location_" json:"location"`
	Status      Status    `gorm:"type:varchar(16);index;not null" json:"status"`
	CreatedBy   string    `gorm:"index;not null" json:"created_by"`
	AssignedTo  *string   `gorm:"index" json:"assigned_to"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

// Event types recorded in the problem timeline.
const (
	EventCreated   = "CREATED"
	EventAssigned  = "ASSIGNED"
	EventCompleted = "COMPLETED"
	EventCancelled = "CANCELLED"
)

// Event is append-only; one row per status change, written in the same
// transaction as the change.
type Event struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	ProblemID string    `gorm:"type:varchar(36);index;not null" json:"problem_id"`
	Type      string    `gorm:"type:varchar(16);not null" json:"type"`
	ActorID   string    `gorm:"not null" json:"actor_id"`
	Status    Status    `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Event) TableName() string { return "problem_events" }
