package main

import (
	"context"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"

	"github.com/personadesk/runstream/internal/adapter/jobclient"
	"github.com/personadesk/runstream/internal/bus"
	"github.com/personadesk/runstream/internal/config"
	"github.com/personadesk/runstream/internal/repository"
	"github.com/personadesk/runstream/internal/service"
	"github.com/personadesk/runstream/internal/transport/http"
	"github.com/personadesk/runstream/internal/transport/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting runstream engine...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Worker URL: %s", cfg.WorkerURL)

	// Initialize store
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize event bus and worker client
	b := bus.New()
	worker := jobclient.NewClient(cfg.WorkerURL, cfg.JobTimeout, b)

	// Initialize service
	svc := service.New(db, b, worker, cfg)
	svc.SetOpeners(browser.OpenURL, func(url string) error {
		// headless fallback: surface the URL so the user can open it
		log.Printf("INFO: open this URL to authorize: %s", url)
		return nil
	})
	defer svc.Close()

	// Fan engine events out to WebSocket clients
	var channels []string
	for _, kind := range service.Kinds() {
		channels = append(channels, kind.Channels.Progress, kind.Channels.Status)
	}
	gateway := ws.NewGateway(b, channels)
	defer gateway.Close()

	// Create the API server
	server := http.NewServer(svc, gateway)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != nethttp.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down runstream engine...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Runstream engine stopped")
}
