package domain

import "time"

// VerificationCode is a one-time login code row. The raw code is never
// persisted; CodeHash holds a bcrypt digest. Rows are kept after expiry or
// consumption as an audit trail.
type VerificationCode struct {
	ID         int64      `json:"id"`
	Email      string     `json:"email"`
	CodeHash   string     `json:"-"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Attempts   int        `json:"attempts"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const (
	// MaxCodeAttempts excludes a code from verification once the shared
	// attempt counter for its email reaches this threshold.
	MaxCodeAttempts = 5

	// MaxCodeCandidates bounds how many outstanding codes are checked per
	// verification, newest first.
	MaxCodeCandidates = 5
)

func (c *VerificationCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

func (c *VerificationCode) IsVerified() bool {
	return c.VerifiedAt != nil
}

func (c *VerificationCode) CanAttempt(now time.Time) bool {
	return c.Attempts < MaxCodeAttempts && !c.IsExpired(now) && !c.IsVerified()
}
