package domain

import "time"

// IdempotencyState is the lifecycle state of an IdempotencyRecord.
type IdempotencyState int

const (
	// IdempotencyPending marks a reserved key whose request is still being
	// processed (no response stored yet).
	IdempotencyPending IdempotencyState = iota
	// IdempotencyCompleted marks a key whose response has been stored.
	IdempotencyCompleted
)

// MaxUserIDLen is the widest user id the idempotency table can hold.
const MaxUserIDLen = 64

// IdempotencyRecord stores the response produced for (user_id, key). The row
// is inserted as a placeholder with no response inside the transaction doing
// the side effects, then filled and committed together with them.
type IdempotencyRecord struct {
	UserID             string    `gorm:"type:varchar(64);primaryKey"`
	IdempotencyKey     string    `gorm:"type:varchar(64);primaryKey"`
	ResponseStatusCode *int
	ResponseHeaders    []byte
	ResponseBody       []byte
	CreatedAt          time.Time `gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency" }

// State reports whether the record still awaits its response.
func (r *IdempotencyRecord) State() IdempotencyState {
	if r.ResponseStatusCode == nil {
		return IdempotencyPending
	}
	return IdempotencyCompleted
}
