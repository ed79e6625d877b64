package memory

import (
	"context"
	"sync"
	"time"

	"auth-serverless/internal/users"
)

type UserStore struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]users.User
	byEmail map[string]int64
}

func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[int64]users.User),
		byEmail: make(map[string]int64),
	}
}

func (s *UserStore) FindByEmail(_ context.Context, email string) (users.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return users.User{}, false, nil
	}
	return s.byID[id], true, nil
}

func (s *UserStore) FindByID(_ context.Context, id int64) (users.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	return user, ok, nil
}

func (s *UserStore) Create(_ context.Context, email, passwordHash string) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return users.User{}, users.ErrEmailTaken
	}

	s.nextID++
	user := users.User{
		ID:           s.nextID,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.byID[user.ID] = user
	s.byEmail[email] = user.ID

	return user, nil
}
