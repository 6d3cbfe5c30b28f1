package devapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
)

// Project is a minimal business resource behind the auth middleware
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateProjectRequest represents the project creation request
type CreateProjectRequest struct {
	Title       string `json:"title" validate:"required,min=3,max=120"`
	Description string `json:"description" validate:"max=2000"`
}

func (s *Server) listProjects(c *gin.Context) {
	user, _ := currentUser(c)

	s.mu.Lock()
	projects := append([]Project{}, s.projects[user.ID]...)
	s.mu.Unlock()

	c.JSON(http.StatusOK, projects)
}

func (s *Server) createProject(c *gin.Context) {
	user, _ := currentUser(c)

	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.validator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[strings.ToLower(fe.Field())] = fe.Tag()
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": fields})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := Project{
		ID:          ulid.Make().String(),
		Title:       req.Title,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.projects[user.ID] = append(s.projects[user.ID], p)
	s.mu.Unlock()

	c.JSON(http.StatusCreated, p)
}
