package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brandcast-hq/brandcast/backend/internal/handlers"
	"github.com/brandcast-hq/brandcast/backend/internal/middleware"
	"github.com/brandcast-hq/brandcast/backend/internal/publish"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/cors"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Root context for background workers and graceful shutdown
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	// Run migrations on startup
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("Failed to init migration driver: %v", err)
	}
	migrator, err := migrate.NewWithDatabaseInstance("file://db/migrations", "postgres", driver)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("Database migration failed: %v", err)
	}
	log.Println("Database is up-to-date")

	provider := publish.NewClientFromEnv()
	h := handlers.New(db, provider)

	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", h.Health).Methods("GET")

	// Client endpoints
	r.HandleFunc("/api/clients", h.CreateClient).Methods("POST")
	r.HandleFunc("/api/clients/{id}", h.GetClient).Methods("GET")

	// Content lifecycle endpoints
	r.HandleFunc("/api/clients/{clientId}/content", h.CreateContentItem).Methods("POST")
	r.HandleFunc("/api/clients/{clientId}/content", h.ListContentForClient).Methods("GET")
	r.HandleFunc("/api/clients/{clientId}/content/{contentId}", h.GetContentItem).Methods("GET")
	r.HandleFunc("/api/clients/{clientId}/content/{contentId}", h.UpdateContentItem).Methods("PUT")
	r.HandleFunc("/api/clients/{clientId}/content/{contentId}/submit", h.SubmitForApproval).Methods("POST")
	r.HandleFunc("/api/clients/{clientId}/content/{contentId}/approve", h.ApproveContent).Methods("POST")
	r.HandleFunc("/api/clients/{clientId}/content/{contentId}/reject", h.RejectContent).Methods("POST")
	r.HandleFunc("/api/clients/{clientId}/content/{contentId}/revert", h.RevertToDraft).Methods("POST")

	// Publishing endpoints
	r.HandleFunc("/api/clients/{clientId}/content/{contentId}/schedule", h.SchedulePost).Methods("POST")
	r.HandleFunc("/api/clients/{clientId}/schedule", h.ListScheduleEntries).Methods("GET")

	// Platform account endpoints
	r.HandleFunc("/api/clients/{clientId}/accounts", h.ConnectPlatformAccount).Methods("POST")
	r.HandleFunc("/api/clients/{clientId}/accounts", h.ListPlatformAccounts).Methods("GET")
	r.HandleFunc("/api/clients/{clientId}/accounts/{accountId}", h.DisconnectPlatformAccount).Methods("DELETE")

	// Media generation callback (collaborator → backend)
	r.HandleFunc("/callback/media", h.MediaCallback).Methods("POST")
	r.HandleFunc("/callback/media/", h.MediaCallback).Methods("POST")

	// Billing
	r.HandleFunc("/api/billing/plans", h.GetBillingPlans).Methods("GET")
	r.HandleFunc("/api/billing/subscription/client/{clientId}", h.GetClientSubscription).Methods("GET")
	r.HandleFunc("/webhook/stripe", h.StripeWebhook).Methods("POST")

	// Realtime events (internal, proxied by the edge worker)
	r.HandleFunc("/api/events/ping", h.EventsPing).Methods("GET")
	r.HandleFunc("/api/events/ws", h.EventsWebSocket)

	// Plan tier limits
	enforcer := middleware.NewPlanEnforcer(db)

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := c.Handler(enforcer.Middleware(r))

	port := os.Getenv("PORT")
	if port == "" {
		port = "18923"
	}

	srv := &http.Server{
		Handler:      handler,
		Addr:         ":" + port,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	// Handle graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Background: reconcile worker (polls the Publishing Provider for per-platform outcomes)
	{
		enabled := os.Getenv("RECONCILE_ENABLED")
		if enabled == "" || enabled == "true" {
			interval := time.Minute
			if v := os.Getenv("RECONCILE_INTERVAL_SECONDS"); v != "" {
				var secs int
				if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
					interval = time.Duration(secs) * time.Second
				}
			}
			go h.StartReconcileWorker(rootCtx, interval)
		} else {
			log.Printf("[Reconcile] disabled via RECONCILE_ENABLED=%q", enabled)
		}
	}

	go func() {
		<-stop
		log.Println("Shutting down server...")
		cancel()
		ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	log.Println("Server stopped")
}
