package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-civicreport/processor"
	"go-civicreport/types"
)

// ListReportsHandler returns every report, newest first.
func ListReportsHandler(c *gin.Context, pipeline *processor.Pipeline) {
	reports, err := pipeline.List(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to fetch reports", err)
		return
	}
	c.JSON(http.StatusOK, reports)
}

type statusUpdate struct {
	Status types.Status `json:"status" binding:"required"`
}

// UpdateReportStatusHandler changes the status of one report and returns it.
// TODO: require admin authentication once the dashboard has a login.
func UpdateReportStatusHandler(c *gin.Context, pipeline *processor.Pipeline) {
	var req statusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	rec, err := pipeline.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, "Failed to update report", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
