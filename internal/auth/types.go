package auth

import "time"

// User is a buyer account that owns auctions.
type User struct {
	ID           string
	Email        string
	Name         string
	Company      string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
