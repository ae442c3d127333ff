package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"go-civicreport/db"
	"go-civicreport/imagecodec"
)

// statusFor maps pipeline errors onto HTTP status codes. Anything not caused
// by the caller is a server error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, imagecodec.ErrInvalidImage), errors.Is(err, db.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, summary string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		zap.S().Errorf("%s %s: %s: %v", c.Request.Method, c.Request.URL.Path, summary, err)
	}
	// keep the message the admin dashboard checks for
	if errors.Is(err, db.ErrUnavailable) {
		summary = "Database not connected"
	}
	c.JSON(code, gin.H{
		"error":   summary,
		"details": err.Error(),
	})
}
