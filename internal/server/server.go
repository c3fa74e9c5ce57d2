// Package server exposes the reconciliation engine over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/categorize"
	"github.com/garyjia/ai-reconciliation/internal/report"
	"github.com/garyjia/ai-reconciliation/internal/repository"
	"github.com/garyjia/ai-reconciliation/internal/service"
	"github.com/garyjia/ai-reconciliation/internal/session"
	"github.com/garyjia/ai-reconciliation/internal/statement"
)

// Server holds the HTTP handlers' dependencies
type Server struct {
	reconciler  *service.Reconciler
	categorizer *categorize.Engine
	sessions    *session.Manager
	books       *repository.BookTransactionRepository
	audits      *repository.AuditRepository
	exporter    *report.ExcelExporter
	pdfReader   *statement.PDFReader
	logger      *zap.Logger
}

// New creates an HTTP server
func New(
	reconciler *service.Reconciler,
	categorizer *categorize.Engine,
	sessions *session.Manager,
	books *repository.BookTransactionRepository,
	audits *repository.AuditRepository,
	exporter *report.ExcelExporter,
	pdfReader *statement.PDFReader,
	logger *zap.Logger,
) *Server {
	return &Server{
		reconciler:  reconciler,
		categorizer: categorizer,
		sessions:    sessions,
		books:       books,
		audits:      audits,
		exporter:    exporter,
		pdfReader:   pdfReader,
		logger:      logger,
	}
}

// Router builds the gin engine with all routes registered
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(s.logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "ai-reconciliation",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	api := router.Group("/api/v1")
	{
		api.POST("/accounts/:accountID/statements", s.importStatement)
		api.POST("/accounts/:accountID/reconciliations", s.reconcile)

		api.GET("/sessions/:id", s.getSession)
		api.GET("/sessions/:id/report", s.getReport)
		api.GET("/sessions/:id/report.xlsx", s.getReportExcel)
		api.POST("/sessions/:id/approve", s.approveSession)
		api.POST("/sessions/:id/dispute", s.disputeSession)
		api.POST("/sessions/:id/reopen", s.reopenSession)

		api.POST("/matches/:id/review", s.reviewMatch)

		api.POST("/transactions/categorize", s.categorizeTransactions)
		api.POST("/transactions/:id/categorize", s.categorizeTransaction)
		api.POST("/transactions/:id/category-correction", s.correctCategory)

		api.GET("/audit/events", s.queryAuditEvents)
	}

	return router
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
