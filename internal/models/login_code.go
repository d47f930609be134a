package models

import "time"

// LoginCodeData is the stored state for an email one-time login code.
type LoginCodeData struct {
	CodeHash  string    `json:"code_hash"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
