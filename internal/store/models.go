package store

import (
	"time"

	"github.com/shopspring/decimal"

	"taskdeck/api/internal/property"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Avatar       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Project struct {
	ID          string
	OwnerID     string
	Name        string
	Icon        string
	Description string
	Status      string
	DueDate     *time.Time
	ViewLayout  string
	ModalSize   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined for list responses
	TaskCount int
}

type ProjectMember struct {
	UserID      string
	DisplayName string
	Email       string
	Avatar      string
	Role        string
}

type Property struct {
	ID         string
	ProjectID  string
	Name       string
	Key        string
	Type       string
	Icon       string
	IsVisible  bool
	ShowInForm bool
	Order      int
	Options    property.Options
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Task carries no business columns; everything lives in property values.
type Task struct {
	ID        string
	ProjectID string
	Position  decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskWithValues is a task plus its property values keyed by property key.
type TaskWithValues struct {
	Task
	Values map[string]string
}

type TaskValue struct {
	TaskID     string
	PropertyID string
	Key        string
	Value      string
}

// TaskPosition is one entry of a reorder write.
type TaskPosition struct {
	ID       string
	Position decimal.Decimal
}

// TaskDuplicate describes one copy in a bulk duplicate.
type TaskDuplicate struct {
	SourceID string
	NewID    string
	Position decimal.Decimal
}

type DynamicQuery struct {
	Type  string `json:"type"`
	Limit int    `json:"limit,omitempty"`
}

type MenuItem struct {
	ID           string
	Title        string
	Type         string
	URL          string
	RouteName    string
	Icon         string
	Permissions  []string
	ParentID     *string
	Order        int
	IsActive     bool
	DynamicQuery *DynamicQuery
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
