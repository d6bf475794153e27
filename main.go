package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/jinjinsansan/recovery/analyzer"
	"github.com/jinjinsansan/recovery/collectors"
	"github.com/jinjinsansan/recovery/db"
	"github.com/jinjinsansan/recovery/judge"
	"github.com/jinjinsansan/recovery/models"
	"github.com/jinjinsansan/recovery/pipeline"
	"github.com/jinjinsansan/recovery/utils"
)

func main() {
	envPath := flag.String("env", ".env", "Path to .env file")
	logLevel := flag.String("log-level", "debug", "Logging level (debug, info, warn, error)")
	flag.Parse()

	log := setupLogger(*logLevel)
	log.Info("Starting Recovery Insight")

	config, err := utils.LoadConfig(*envPath, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	log.WithFields(logrus.Fields{
		"keywords":          config.Collect.Keywords,
		"hashtags":          config.Collect.Hashtags,
		"store_backend":     config.Store.Backend,
		"pipeline_interval": config.Pipeline.IntervalSeconds,
		"server_port":       config.Server.Port,
	}).Info("Configuration loaded")

	store, closeStore, err := openStore(config, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open event store")
	}
	defer closeStore()

	completer := analyzer.NewOpenAIClient(
		config.OpenAI.APIKey,
		config.OpenAI.APIURL,
		config.OpenAI.Model,
		config.OpenAI.RequestsPerMinute,
		log,
	)
	methodAnalyzer := analyzer.NewAnalyzer(completer, config.Pipeline.ExtractionConcurrency, log)

	sources := buildSources(config, log)
	orchestrator := pipeline.NewOrchestrator(store, methodAnalyzer, sources, config.Collect.MaxResults, log)

	feed := judge.NewFeed(judge.NewKeywordClassifier(), 50)
	runner := pipeline.NewRunner(
		orchestrator,
		feed,
		time.Duration(config.Pipeline.IntervalSeconds)*time.Second,
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go startEchoServer(ctx, config.Server.Port, store, runner, feed, log)

	go func() {
		if err := runner.Start(ctx); err != nil && err != context.Canceled {
			log.WithError(err).Error("Pipeline runner stopped unexpectedly")
		}
	}()

	waitForShutdown(cancel, log)
}

// openStore builds the configured store backend
func openStore(config *utils.Config, log *logrus.Logger) (db.Store, func(), error) {
	switch config.Store.Backend {
	case "supabase":
		store, err := db.NewSupabaseStore(config.Store.SupabaseURL, config.Store.SupabaseKey, log)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		database, err := db.NewDatabase(config.Store.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		return database, func() { database.Close() }, nil
	}
}

// buildSources assembles the configured post collectors
func buildSources(config *utils.Config, log *logrus.Logger) []collectors.Source {
	sources := make([]collectors.Source, 0, 2)

	if len(config.Collect.Hashtags) > 0 {
		sources = append(sources, collectors.NewNoteCollector(
			"", config.Collect.Hashtags, config.Collect.MaxResults, log,
		))
	}

	// the X collector needs a bearer token; skip it rather than fail when unset
	if len(config.Collect.Keywords) > 0 && config.Collect.XBearerToken != "" {
		sources = append(sources, collectors.NewTwitterCollector(
			"", config.Collect.XBearerToken, config.Collect.Keywords, config.Collect.MaxResults, log,
		))
	}

	return sources
}

// setupLogger sets up the logger with the specified log level
func setupLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// startEchoServer starts the Echo HTTP API server
func startEchoServer(ctx context.Context, port int, store db.Store, runner *pipeline.Runner, feed *judge.Feed, log *logrus.Logger) {
	e := echo.New()

	// middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(20)))

	e.GET("/api/stats", func(c echo.Context) error {
		stats, err := store.FetchMethodStats(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "Failed to load method stats",
			})
		}
		return c.JSON(http.StatusOK, stats)
	})

	e.GET("/api/stats/:slug", func(c echo.Context) error {
		slug := c.Param("slug")
		stats, err := store.FetchMethodStats(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "Failed to load method stats",
			})
		}

		for _, row := range stats {
			if row.MethodSlug == slug {
				return c.JSON(http.StatusOK, row)
			}
		}
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("No statistics available for method %s", slug),
		})
	})

	e.GET("/api/report", func(c echo.Context) error {
		report, ok := runner.LastReport()
		if !ok {
			return c.JSON(http.StatusOK, models.PipelineReport{})
		}
		return c.JSON(http.StatusOK, report)
	})

	e.GET("/feed", func(c echo.Context) error {
		return c.JSON(http.StatusOK, feed.Recent())
	})

	// health check endpoint; useful for k8s liveliness probes
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	// start the server!
	go func() {
		serverAddr := fmt.Sprintf(":%d", port)
		log.WithField("port", port).Info("Starting API server")
		if err := e.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	// wait for context cancellation to shut down server
	<-ctx.Done()
	log.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("API server shutdown failed")
	}
}

// waitForShutdown waits for a shutdown signal
func waitForShutdown(cancel context.CancelFunc, log *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	cancel()

	time.Sleep(1 * time.Second)
	log.Info("Recovery Insight stopped")
}
