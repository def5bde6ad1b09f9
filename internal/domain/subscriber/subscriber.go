package subscriber

import (
	"database/sql"
	"time"
)

// Subscriber is a Telegram user whose device usage is tracked.
type Subscriber struct {
	ID         int64
	TelegramID int64
	FirstName  string
	ICCID      sql.NullString // ICCID of the SIM currently in the device, if known
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
