package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/celebrum-netinfer/internal/config"
	"github.com/irfndi/celebrum-netinfer/internal/database"
	"github.com/irfndi/celebrum-netinfer/internal/logging"
	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/internal/utils"
	"github.com/irfndi/celebrum-netinfer/pkg/interfaces"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StatusClientClosedRequest is returned when the caller went away mid-run.
const StatusClientClosedRequest = 499

// AnalysisRunner runs the inference pipeline.
type AnalysisRunner interface {
	Config() config.AnalysisConfig
	AnalyzeWithConfig(ctx context.Context, set *models.SeriesSet, cfg config.AnalysisConfig) (*models.AnalysisResult, error)
}

type AnalysisHandler struct {
	runner AnalysisRunner
	source interfaces.SeriesSource
	logger *logrus.Entry
}

// AnalysisRequest carries a series set and optional option overrides.
type AnalysisRequest struct {
	Series  *models.SeriesSet `json:"series" binding:"required"`
	Options json.RawMessage   `json:"options,omitempty"`
}

// RunRequest selects stored series by symbol and window.
type RunRequest struct {
	interfaces.SeriesRequest
	Options json.RawMessage `json:"options,omitempty"`
}

// NewAnalysisHandler creates the analysis handler. source may be nil when no
// price storage is configured.
func NewAnalysisHandler(runner AnalysisRunner, source interfaces.SeriesSource, logger *logrus.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		runner: runner,
		source: source,
		logger: logging.WithComponent(logger, "analysis_handler"),
	}
}

// Analyze handles POST /api/v1/analysis.
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	var req AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	h.respond(c, req.Series, req.Options)
}

// Run handles POST /api/v1/analysis/run.
func (h *AnalysisHandler) Run(c *gin.Context) {
	if h.source == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Price storage is not configured"})
		return
	}
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	set, err := h.source.LoadSeries(c.Request.Context(), req.SeriesRequest)
	if err != nil {
		if errors.Is(err, database.ErrNoPrices) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.fail(c, err)
		return
	}
	h.respond(c, set, req.Options)
}

func (h *AnalysisHandler) respond(c *gin.Context, set *models.SeriesSet, options json.RawMessage) {
	cfg := h.runner.Config()
	if opts := bytes.TrimSpace(options); len(opts) > 0 && !bytes.Equal(opts, []byte("null")) {
		if err := json.Unmarshal(opts, &cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid options: " + err.Error()})
			return
		}
	}

	trace.SpanFromContext(c.Request.Context()).SetAttributes(
		attribute.Int("netinfer.series", len(set.OrderedIDs())),
	)

	result, err := h.runner.AnalyzeWithConfig(c.Request.Context(), set, cfg)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"run_id":   result.RunID,
		"te_edges": result.Summary.TransferEntropyEdges,
		"groups":   result.Summary.AssetGroups,
	}).Info("Analysis request completed")

	if c.Query("full") == "true" {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(http.StatusOK, models.NewAnalysisReport(result))
}

func (h *AnalysisHandler) fail(c *gin.Context, err error) {
	span := trace.SpanFromContext(c.Request.Context())
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("Analysis request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusFor maps pipeline errors to HTTP status codes.
func StatusFor(err error) int {
	var (
		validation   *utils.ValidationError
		insufficient *utils.InsufficientDataError
		noViable     *utils.NoViableSeriesError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &insufficient), errors.As(err, &noViable):
		return http.StatusUnprocessableEntity
	case utils.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
