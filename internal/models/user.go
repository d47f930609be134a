package models

import (
	"time"
)

type User struct {
	ID           string    `json:"id" dynamodbav:"id"`
	Email        string    `json:"email" dynamodbav:"email"`
	Username     string    `json:"username,omitempty" dynamodbav:"username,omitempty"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash,omitempty"`
	IsActive     bool      `json:"is_active" dynamodbav:"is_active"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER#" + u.Email
}

func (u *User) GetSK() string {
	return "METADATA"
}

// Identity returns the token subject view of the user.
func (u *User) Identity() Identity {
	return Identity{
		Subject:  u.ID,
		Email:    u.Email,
		Username: u.Username,
	}
}
