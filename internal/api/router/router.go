package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/tickqueue/internal/api/handler"
)

// ServiceName is reported by the health endpoint
const ServiceName = "tick-scheduler"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	jobHandler := handler.NewJobHandler(deps)
	throttle := RateLimitMiddleware(deps.RateLimit, deps.RateBurst)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/queues", jobHandler.ListQueues)
		v1.GET("/kinds", jobHandler.ListKinds)

		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a job
			jobs.POST("", throttle, jobHandler.CreateJob)

			// GET /api/v1/jobs - List stored jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		if deps.Events != nil {
			// GET /api/v1/events - Stream job events over a websocket
			v1.GET("/events", gin.WrapH(deps.Events))
		}
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Scheduler.IsStopped() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": ServiceName,
				"error":   "scheduler stopped",
			})
			return
		}

		if deps.DBClient != nil {
			if err := deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": ServiceName,
					"error":   "database: " + err.Error(),
				})
				return
			}
		}

		if deps.Broker != nil && !deps.Broker.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": ServiceName,
				"error":   "rabbitmq: not connected",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": ServiceName,
		})
	}
}
