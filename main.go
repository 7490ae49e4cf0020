package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Calendar timezones must resolve even on hosts without a zoneinfo
	// directory.
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"rostercal/api"
	"rostercal/config"
	"rostercal/handlers"
	"rostercal/internal/database"
	"rostercal/services/aggregator"
	"rostercal/services/dedup"
	"rostercal/services/fetcher"
	"rostercal/services/processor"
	"rostercal/utils"
	"rostercal/utils/colors"
)

// shutdownTimeout bounds how long draining the server and the
// aggregation loop may take once a stop signal arrives.
const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the settings file")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	flag.Parse()

	settings, err := config.NewManager(*configPath).Load()
	if err != nil {
		log.Fatalf("[main] loading config: %v", err)
	}
	if *listen != "" {
		settings.Server.Listen = *listen
	}

	setupLogging(settings.Logging)

	log.Printf("[main] rostercal starting: listen=%s sources=%d manual_events=%d",
		settings.Server.Listen, len(settings.Sources), len(settings.ManualEvents))

	db, err := database.NewDB(database.Config{DatabasePath: settings.Database.Path})
	if err != nil {
		log.Fatalf("[main] opening database: %v", err)
	}
	defer db.Close()

	syncs := database.NewSyncRepository(db.Connection())

	fetchService := fetcher.New(fetcher.Options{})

	assignor, err := colors.NewAssignor(colors.Options{})
	if err != nil {
		log.Fatalf("[main] building color assignor: %v", err)
	}
	processService := processor.New(
		dedup.New(dedup.DefaultOptions()),
		processor.NewTitleFormatter(settings.Processing.Title),
		assignor,
		settings.Processing,
	)

	aggService := aggregator.New(aggregator.Options{
		Settings:  settings,
		Fetcher:   fetchService,
		Processor: processService,
		Events:    db.Repository,
		Syncs:     syncs,
	})

	srv := &http.Server{
		Addr:         settings.Server.Listen,
		Handler:      buildRouter(settings, aggService, fetchService, syncs),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := aggService.Start(ctx); err != nil {
		log.Fatalf("[main] starting aggregator: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[main] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("[main] shutting down")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()

		if err := aggService.Stop(shutdownCtx); err != nil {
			log.Printf("[main] stopping aggregator: %v", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("[main] %v", err)
	}
	log.Printf("[main] exited cleanly")
}

// buildRouter assembles the HTTP surface: the public feed (rate
// limited), the read-only status endpoints, and the admin endpoints
// behind the token middleware.
func buildRouter(settings config.Settings, agg *aggregator.Service, fetch *fetcher.Service, syncs *database.SyncRepository) http.Handler {
	router := utils.NewRouter(settings.Server.CORSOrigins)

	calendarHandler := handlers.NewCalendarHandler(agg)
	feedLimiter := api.PerMinute(settings.Server.RateLimitPerMinute)
	router.Handle("/calendar.ics",
		api.RateLimitHandlerFunc(feedLimiter, calendarHandler.GetCalendar)).
		Methods(http.MethodGet, http.MethodHead)

	statusHandler := handlers.NewStatusHandler(agg)
	sourcesHandler := handlers.NewSourcesHandler(settings.Sources, fetch.Breakers())
	historyHandler := handlers.NewHistoryHandler(syncs)

	public := router.PathPrefix("/api").Subrouter()
	public.HandleFunc("/status", statusHandler.GetStatus).
		Methods(http.MethodGet, http.MethodOptions)
	public.HandleFunc("/sources", sourcesHandler.ListSources).
		Methods(http.MethodGet, http.MethodOptions)

	admin := router.PathPrefix("/api").Subrouter()
	admin.Use(api.AdminAuthMiddleware(settings.Server.AdminTokenHash))
	admin.HandleFunc("/history", historyHandler.GetHistory).
		Methods(http.MethodGet, http.MethodOptions)
	admin.HandleFunc("/refresh", statusHandler.Refresh).
		Methods(http.MethodPost, http.MethodOptions)

	return router
}

// setupLogging routes the standard logger to stdout, plus a rotating
// file when one is configured.
func setupLogging(settings config.LoggingSettings) {
	if settings.File == "" {
		return
	}
	rotated := &lumberjack.Logger{
		Filename:   settings.File,
		MaxSize:    settings.MaxSizeMB,
		MaxBackups: settings.MaxBackups,
		MaxAge:     settings.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotated))
	log.Printf("[main] logging to %s (max %dMB, %d backups, %d days)",
		settings.File, settings.MaxSizeMB, settings.MaxBackups, settings.MaxAgeDays)
}
