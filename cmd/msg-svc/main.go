package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"medichat/internal/common"
	"medichat/internal/di"
)

func main() {
	log.Println("Starting Messaging Service...")

	app, cleanup, err := di.InitializeApplication()
	if err != nil {
		log.Fatalf("Failed to initialize messaging service: %v", err)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := app.Mongo.EnsureIndexes(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ensure indexes: %v", err)
	}
	cancel()
	log.Println("Document store indexes ready")

	secret := []byte(app.Config.JWT.Secret)
	sendLimiter := rate.NewLimiter(
		rate.Limit(app.Config.Notification.SendRatePerSec),
		app.Config.Notification.SendRatePerSec,
	)

	r := mux.NewRouter()
	r.Use(common.LoggingMiddleware)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(common.AuthMiddleware(secret))
	app.ChatHandler.RegisterRoutes(api, common.RateLimitMiddleware(sendLimiter))
	app.NotifHandler.RegisterRoutes(api)

	server := &http.Server{
		Addr:        app.Config.Server.Host + ":" + app.Config.Server.Port,
		Handler:     r,
		ReadTimeout: time.Duration(app.Config.Server.ReadTimeout) * time.Second,
		// WriteTimeout stays off: the SSE endpoints hold their connections
		// open for as long as the dashboard is up.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Messaging Service running on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down Messaging Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	app.Hub.Shutdown()

	log.Println("Messaging Service stopped")
}
