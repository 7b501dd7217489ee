package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "carbon-scribe/project-portal/registry-backend/pkg/errors"
	"carbon-scribe/project-portal/registry-backend/pkg/response"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers auth routes on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/auth/me", h.Me)
}

// Me echoes the caller identity the gate resolved.
func (h *Handler) Me(c *gin.Context) {
	caller, ok := CallerFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{"caller": caller, "canReview": caller.CanReview()})
}
