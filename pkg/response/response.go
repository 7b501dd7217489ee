package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "carbon-scribe/project-portal/registry-backend/pkg/errors"
)

// Page is the pagination block of list responses.
type Page struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// NewPage builds pagination metadata.
func NewPage(page, limit, total int) Page {
	return Page{Page: page, Limit: limit, Total: total, HasMore: page*limit < total}
}

// Error renders err as {"error": {...}} with the status of its kind. Errors
// that are not typed become 500 and their cause is attached to the context so
// the request logger records it.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(appErr.Status, gin.H{"error": appErr})
}

// Abort renders err and stops the handler chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
