package domain

import "time"

// BannedIP blocks an address at the login boundary, before any credential
// verification runs.
type BannedIP struct {
	IPAddress string
	Reason    string
	BannedBy  string // admin user id, or "system"
	BannedAt  time.Time
	ExpiresAt *time.Time // nil = permanent
	IsActive  bool
}

// Blocks reports whether the ban applies at the given instant.
func (b BannedIP) Blocks(now time.Time) bool {
	if !b.IsActive {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}
