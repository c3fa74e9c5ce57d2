package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/audit"
	"github.com/garyjia/ai-reconciliation/internal/categorize"
	"github.com/garyjia/ai-reconciliation/internal/config"
	"github.com/garyjia/ai-reconciliation/internal/ingest"
	"github.com/garyjia/ai-reconciliation/internal/matching"
	"github.com/garyjia/ai-reconciliation/internal/notify"
	"github.com/garyjia/ai-reconciliation/internal/oracle"
	"github.com/garyjia/ai-reconciliation/internal/report"
	"github.com/garyjia/ai-reconciliation/internal/repository"
	"github.com/garyjia/ai-reconciliation/internal/server"
	"github.com/garyjia/ai-reconciliation/internal/service"
	"github.com/garyjia/ai-reconciliation/internal/session"
	"github.com/garyjia/ai-reconciliation/internal/statement"
	"github.com/garyjia/ai-reconciliation/pkg/database"
	"github.com/garyjia/ai-reconciliation/pkg/utils"
)

func main() {
	// Load .env if present, before viper reads the environment
	gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting reconciliation engine",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	bankRepo := repository.NewBankTransactionRepository(db.DB, logger)
	bookRepo := repository.NewBookTransactionRepository(db.DB, logger)
	matchRepo := repository.NewMatchRepository(db.DB, logger)
	sessionRepo := repository.NewSessionRepository(db.DB, logger)
	categorizationRepo := repository.NewCategorizationRepository(db.DB, logger)
	auditRepo := repository.NewAuditRepository(db.DB, logger)

	// Audit trail: events land in SQLite, high-risk failures fall back to a
	// dedicated log stream, high and critical events fan out to Lark.
	var notifier audit.Notifier
	if larkNotifier := notify.NewLarkNotifier(cfg.Lark, logger); larkNotifier != nil {
		notifier = larkNotifier
	}
	auditLog := audit.NewLogger(auditRepo, notifier, utils.NewAuditFallbackLogger(), logger)

	// AI oracle
	prompts, err := oracle.LoadPrompts(cfg.OpenAI.PromptsPath)
	if err != nil {
		logger.Warn("Using built-in prompts", zap.Error(err))
		prompts = oracle.DefaultPrompts()
	}
	aiOracle := oracle.NewOpenAIOracle(oracle.Config{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Timeout:     cfg.OpenAI.Timeout,
	}, prompts, logger)

	// Matching rules
	ruleProvider, err := matching.LoadRulesFromFile(cfg.Rules.Path)
	if err != nil {
		logger.Fatal("Failed to load reconciliation rules", zap.Error(err))
	}
	ruleEngine, err := matching.NewRuleEngine(ruleProvider)
	if err != nil {
		logger.Fatal("Failed to compile reconciliation rules", zap.Error(err))
	}

	matcher := matching.NewEngine(ruleEngine, aiOracle, matching.Config{
		FuzzyThreshold:     cfg.Reconciliation.FuzzyThreshold,
		ExactConfidence:    cfg.Reconciliation.ExactConfidence,
		AICap:              cfg.Reconciliation.AICap,
		DateToleranceDays:  cfg.Reconciliation.DateToleranceDays,
		ScoringConcurrency: cfg.Reconciliation.ScoringConcurrency,
		OracleConcurrency:  cfg.Reconciliation.OracleConcurrency,
	}, logger)

	tolerance, err := decimal.NewFromString(cfg.Reconciliation.ApprovalTolerance)
	if err != nil {
		logger.Fatal("Invalid approval tolerance",
			zap.String("value", cfg.Reconciliation.ApprovalTolerance),
			zap.Error(err))
	}
	sessionManager := session.NewManager(db, sessionRepo, bankRepo, bookRepo, matchRepo, auditLog, session.Config{
		ApprovalTolerance: tolerance,
		DisputeRatio:      cfg.Reconciliation.DisputeRatio,
	}, logger)

	importer := ingest.NewImporter(bankRepo, auditLog, ingest.Config{
		DuplicateGapHours:   cfg.Reconciliation.DuplicateGapHours,
		DuplicateSimilarity: cfg.Reconciliation.DuplicateSimilarity,
	}, logger)

	categorizer := categorize.NewEngine(bookRepo, categorizationRepo, aiOracle, auditLog, categorize.Config{
		ShortCircuitConfidence: cfg.Categorization.ShortCircuitConfidence,
		Concurrency:            cfg.Categorization.Concurrency,
	}, logger)

	reconciler := service.NewReconciler(db, importer, matcher, sessionManager,
		bankRepo, bookRepo, matchRepo, auditLog, logger)

	pdfReader := statement.NewPDFReader(openai.NewClient(cfg.OpenAI.APIKey),
		cfg.OpenAI.VisionModel, prompts, logger)

	srv := server.New(reconciler, categorizer, sessionManager, bookRepo, auditRepo,
		report.NewExcelExporter(logger), pdfReader, logger)

	if cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
