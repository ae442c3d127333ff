package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-civicreport/processor"
)

type detectRequest struct {
	Image     string  `json:"image" binding:"required"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DetectHandler runs every loaded model on the uploaded picture. Nothing is
// stored; the client shows the boxes and lets the user confirm them.
func DetectHandler(c *gin.Context, pipeline *processor.Pipeline) {
	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	res, err := pipeline.Detect(c.Request.Context(), req.Image)
	if err != nil {
		summary := "Invalid image format"
		if statusFor(err) >= http.StatusInternalServerError {
			summary = "Failed to run detection"
		}
		respondError(c, summary, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "success",
		"problems_detected": res.ProblemsDetected,
		"detections":        res.Detections,
		"message":           res.Summary,
		"latitude":          req.Latitude,
		"longitude":         req.Longitude,
	})
}
