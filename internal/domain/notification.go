package domain

import (
	"time"

	"github.com/google/uuid"
)

// Notification is an in-app notification row written by the
// notification-service consumer for every balance-changing event.
type Notification struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	AccountID  uuid.UUID `json:"account_id"`
	EventID    uuid.UUID `json:"event_id"`
	Category   string    `json:"category"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Read       bool      `json:"read"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}
