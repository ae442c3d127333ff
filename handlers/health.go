package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-civicreport/detection"
	"go-civicreport/processor"
)

func RootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Civic Problem Detection API is running"})
}

// HealthHandler reports which models are loaded and whether the store is up.
// It always answers 200 since the service degrades rather than stops.
func HealthHandler(c *gin.Context, pipeline *processor.Pipeline, registry *detection.Registry) {
	models := gin.H{}
	if registry != nil {
		for _, h := range registry.Handles() {
			models[h.Label()] = h.Loaded()
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"database": pipeline.StoreReady(),
		"models":   models,
	})
}
