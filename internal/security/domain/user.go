package domain

import "time"

// User is the minimal account record the engine needs. Profile data lives
// with the rest of the application; only credential and status fields that
// gate authentication are modeled here.
type User struct {
	ID           string // ULID
	Email        string // lowercased, unique
	PasswordHash string // argon2id PHC string
	IsAdmin      bool
	IsSuspended  bool
	CreatedAt    time.Time
}
