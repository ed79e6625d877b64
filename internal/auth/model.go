package auth

import (
	"context"
	"time"

	"auth-serverless/internal/users"
)

// UserStore is the account lookup the orchestrator depends on. Create must
// return users.ErrEmailTaken when the email is already registered.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (users.User, bool, error)
	FindByID(ctx context.Context, id int64) (users.User, bool, error)
	Create(ctx context.Context, email, passwordHash string) (users.User, error)
}

// Identity is the public view of an account.
type Identity struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type Tokens struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type Session struct {
	Identity Identity
	Tokens   Tokens
}

func identityOf(u users.User) Identity {
	return Identity{ID: u.ID, Email: u.Email}
}
