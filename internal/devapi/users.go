package devapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

// User is an account known to the dev API
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type refreshSession struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
}

// AddUser registers an account with a bcrypt-hashed password
func (s *Server) AddUser(email, name, role, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &User{
		ID:           ulid.Make().String(),
		Email:        strings.ToLower(email),
		Name:         name,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.Email]; exists {
		return nil, fmt.Errorf("user %s already exists", u.Email)
	}
	s.users[u.Email] = u
	return u, nil
}

func (s *Server) authenticate(email, password string) (*User, bool) {
	s.mu.Lock()
	u, ok := s.users[strings.ToLower(email)]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, false
	}
	return u, true
}

func (s *Server) userByID(id string) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, true
		}
	}
	return nil, false
}

// startRefreshSession creates a refresh session, replacing old if given
func (s *Server) startRefreshSession(userID, old string) *refreshSession {
	rs := &refreshSession{
		ID:        ulid.Make().String(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.config.RefreshTTL),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old != "" {
		delete(s.refreshes, old)
	}
	s.refreshes[rs.ID] = rs
	return rs
}

func (s *Server) lookupRefreshSession(id string) (*refreshSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.refreshes[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(rs.ExpiresAt) {
		delete(s.refreshes, id)
		return nil, false
	}
	return rs, true
}

func (s *Server) endRefreshSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refreshes, id)
}
