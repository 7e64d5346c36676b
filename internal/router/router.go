package router

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"prospector/internal/handler"
	"prospector/internal/middleware"
)

// Setup configures the Gin engine with all routes and middleware.
func Setup(
	log logrus.FieldLogger,
	corsOrigins []string,
	extractionH *handler.ExtractionHandler,
	healthH *handler.HealthHandler,
) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(corsOrigins))

	// Health checks
	r.GET("/healthz", healthH.Liveness)
	r.GET("/readyz", healthH.Readiness)

	v1 := r.Group("/api/v1")

	extractions := v1.Group("/extractions")
	extractions.POST("", extractionH.Submit)
	extractions.GET("", extractionH.List)
	extractions.GET("/export", extractionH.Export)
	extractions.GET("/:document_id", extractionH.Get)
	extractions.GET("/:document_id/events", extractionH.History)
	extractions.POST("/:document_id/resubmit", extractionH.Resubmit)
	extractions.POST("/:document_id/approve", extractionH.Approve)
	extractions.POST("/:document_id/reject", extractionH.Reject)

	return r
}
