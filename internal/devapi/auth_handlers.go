package devapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) setRefreshCookie(c *gin.Context, rs *refreshSession) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(refreshCookie, rs.ID, int(s.config.RefreshTTL.Seconds()), "/auth", "", false, true)
}

func (s *Server) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(refreshCookie, "", -1, "/auth", "", false, true)
}

// login authenticates with email and password
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.stats.Logins++
	s.mu.Unlock()

	user, ok := s.authenticate(req.Email, req.Password)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := s.issueAccessToken(user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	rs := s.startRefreshSession(user.ID, "")
	s.setRefreshCookie(c, rs)

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User logged in")

	c.JSON(http.StatusOK, gin.H{
		s.opts.LoginTokenField: token,
		"refreshToken":         rs.ID,
		"user":                 user,
	})
}

// refresh exchanges the refresh cookie for a new access token and rotates
// the cookie
func (s *Server) refresh(c *gin.Context) {
	s.mu.Lock()
	s.stats.Refreshes++
	s.mu.Unlock()

	id, err := c.Cookie(refreshCookie)
	if err != nil || id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing refresh credential"})
		return
	}

	rs, ok := s.lookupRefreshSession(id)
	if !ok {
		s.clearRefreshCookie(c)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh credential"})
		return
	}

	user, ok := s.userByID(rs.UserID)
	if !ok {
		s.endRefreshSession(id)
		s.clearRefreshCookie(c)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}

	token, err := s.issueAccessToken(user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	s.setRefreshCookie(c, s.startRefreshSession(user.ID, id))

	resp := gin.H{s.opts.RefreshTokenField: token}
	if s.opts.RefreshUser {
		resp["user"] = user
	}
	c.JSON(http.StatusOK, resp)
}

// logout ends the refresh session, if any
func (s *Server) logout(c *gin.Context) {
	s.mu.Lock()
	s.stats.Logouts++
	s.mu.Unlock()

	if id, err := c.Cookie(refreshCookie); err == nil && id != "" {
		s.endRefreshSession(id)
	}
	s.clearRefreshCookie(c)
	c.Status(http.StatusNoContent)
}

// getCurrentUser returns the authenticated user
func (s *Server) getCurrentUser(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.JSON(http.StatusOK, user)
}
