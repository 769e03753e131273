package api

import (
	"github.com/gin-gonic/gin"
	"github.com/irfndi/celebrum-netinfer/internal/api/handlers"
	"github.com/irfndi/celebrum-netinfer/internal/middleware"
	"github.com/irfndi/celebrum-netinfer/internal/telemetry"
	"github.com/irfndi/celebrum-netinfer/pkg/interfaces"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Dependencies are the collaborators of the HTTP surface. Source, DB and
// Redis may be nil.
type Dependencies struct {
	Runner   handlers.AnalysisRunner
	Source   interfaces.SeriesSource
	DB       handlers.HealthChecker
	Redis    handlers.HealthChecker
	Gatherer prometheus.Gatherer
	Logger   *logrus.Logger
}

// NewRouter builds a gin engine with recovery, tracing and request logging.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(telemetry.ServiceName, otelgin.WithFilter(middleware.TraceFilter)))
	router.Use(middleware.RequestLogger(deps.Logger))
	SetupRoutes(router, deps)
	return router
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	health := handlers.NewHealthHandler(deps.DB, deps.Redis)
	router.GET("/health", health.HealthCheck)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	analysis := handlers.NewAnalysisHandler(deps.Runner, deps.Source, deps.Logger)
	v1 := router.Group("/api/v1")
	{
		a := v1.Group("/analysis")
		{
			a.POST("", analysis.Analyze)
			a.POST("/run", analysis.Run)
		}
	}
}
