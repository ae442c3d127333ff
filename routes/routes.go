package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"go-civicreport/detection"
	"go-civicreport/handlers"
	"go-civicreport/processor"
)

// local dev servers of the reporting client and the admin dashboard
var devOrigins = []string{
	"http://127.0.0.1:5173",
	"http://localhost:5173",
	"http://127.0.0.1:5174",
	"http://localhost:5174",
}

func SetupRouter(pipeline *processor.Pipeline, registry *detection.Registry, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/", handlers.RootHandler)
	r.GET("/health", func(c *gin.Context) {
		handlers.HealthHandler(c, pipeline, registry)
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	r.POST("/vision/detect", func(c *gin.Context) {
		handlers.DetectHandler(c, pipeline)
	})
	r.POST("/report/submit", func(c *gin.Context) {
		handlers.SubmitReportHandler(c, pipeline)
	})

	// admin routes
	admin := r.Group("/admin")
	{
		admin.GET("/reports", func(c *gin.Context) {
			handlers.ListReportsHandler(c, pipeline)
		})
		admin.PATCH("/report/:id", func(c *gin.Context) {
			handlers.UpdateReportStatusHandler(c, pipeline)
		})
	}

	return r
}

// WithCORS lets the frontend origin and the local dev servers call h.
// allowAll opens every origin and is meant for development only.
func WithCORS(h http.Handler, frontendOrigin string, allowAll bool) http.Handler {
	if allowAll {
		return cors.AllowAll().Handler(h)
	}

	origins := append([]string{}, devOrigins...)
	if frontendOrigin != "" {
		origins = append([]string{frontendOrigin}, origins...)
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(h)
}
