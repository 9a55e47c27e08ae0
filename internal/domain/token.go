package domain

import "time"

// QueueToken is a per-day per-shop sequential ticket. QueuePosition is a
// strictly increasing sequence per (ShopID, Date) starting at 1; a user holds
// at most one token per day.
type QueueToken struct {
	ID            string    `json:"id"`
	ShopID        string    `json:"shop_id"`
	UserID        int64     `json:"user_id"`
	Date          string    `json:"date"` // YYYY-MM-DD
	TimeSlot      string    `json:"time_slot"`
	QueuePosition int       `json:"queue_position"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// Token statuses
const (
	TokenStatusActive    = "active"
	TokenStatusCompleted = "completed"
	TokenStatusPending   = "pending"
)

// QueueDate formats a point in time as the queue's day key.
func QueueDate(t time.Time) string {
	return t.Format("2006-01-02")
}
