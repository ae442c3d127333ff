package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"go-civicreport/processor"
	"go-civicreport/types"
)

type submitRequest struct {
	Image    string              `json:"image" binding:"required"`
	Location types.LocationPoint `json:"location"`
	// confirmed detections arrive as loose records and are converted once here
	Detections []map[string]interface{} `json:"detections"`
}

// SubmitReportHandler stores a report for the detections the user confirmed.
func SubmitReportHandler(c *gin.Context, pipeline *processor.Pipeline) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	dets, convErrs := types.DetectionsFromRecords(req.Detections)
	for _, err := range convErrs {
		zap.S().Warnf("submit: %v", err)
	}

	rec, err := pipeline.Submit(c.Request.Context(), processor.SubmitRequest{
		Image:      req.Image,
		Location:   req.Location,
		Detections: dets,
	})
	if err != nil {
		respondError(c, "Failed to submit report", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Report submitted successfully!",
		"report_id":     rec.ID,
		"ward_name":     rec.WardName,
		"full_address":  rec.FullAddress,
		"image_url":     rec.ImageURL,
		"problem_types": rec.ProblemTypes,
	})
}
