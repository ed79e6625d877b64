package users

import (
	"errors"
	"time"
)

// ErrEmailTaken is returned by Create when another account holds the email.
var ErrEmailTaken = errors.New("email already taken")

type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
