package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"calfeed/config"
	"calfeed/handlers"
	"calfeed/internal/store"
	"calfeed/services/fetcher"
	"calfeed/utils"
)

func init() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}, nil)))
		return
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	})))
}

func main() {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	fs := afero.NewOsFs()
	manager := config.NewManager(fs, filepath.Join(dataDir, "settings.json"))
	if err := manager.EnsureAdmin(); err != nil {
		slog.Error("admin bootstrap failed", "error", err)
		os.Exit(1)
	}

	st, err := store.New(fs, filepath.Join(dataDir, "calendars"))
	if err != nil {
		slog.Error("store setup failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetchSvc := fetcher.New(manager, st)
	if err := fetchSvc.Start(ctx); err != nil {
		slog.Error("fetcher start failed", "error", err)
		os.Exit(1)
	}

	router := utils.NewRouter()

	calendarHandler := handlers.NewCalendarHandler(st)
	router.HandleFunc("/calendars/{file}", calendarHandler.Serve).Methods("GET")

	statusHandler := handlers.NewStatusHandler(fetchSvc)
	router.HandleFunc("/api/status", statusHandler.Get).Methods("GET")

	adminHandler := handlers.NewAdminHandler(manager, fetchSvc)
	router.HandleFunc("/api/admin/config",
		handlers.RequireAdmin(manager, adminHandler.GetConfig)).Methods("GET")
	router.HandleFunc("/api/admin/config",
		handlers.RequireAdmin(manager, adminHandler.UpdateConfig)).Methods("PUT")
	router.HandleFunc("/api/admin/resync",
		handlers.RequireAdmin(manager, adminHandler.Resync)).Methods("POST")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.PathPrefix("/").Handler(handlers.NewStaticHandler()).Methods("GET")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()
	fetchSvc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}
