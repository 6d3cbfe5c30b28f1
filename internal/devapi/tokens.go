package devapi

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessClaims represents the JWT access token claims
type accessClaims struct {
	Email      string `json:"email"`
	Role       string `json:"role"`
	Generation int64  `json:"gen"`
	jwt.RegisteredClaims
}

func (s *Server) issueAccessToken(u *User) (string, error) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	now := time.Now()
	claims := accessClaims{
		Email:      u.Email,
		Role:       u.Role,
		Generation: gen,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.AccessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// validateAccessToken validates a JWT token and returns the claims
func (s *Server) validateAccessToken(tokenString string) (*accessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &accessClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	s.mu.Lock()
	current := s.generation
	s.mu.Unlock()
	if claims.Generation < current {
		return nil, fmt.Errorf("token revoked")
	}
	return claims, nil
}
