package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sae-pos/api/internal/config"
	"github.com/sae-pos/api/internal/lifecycle"
	"github.com/sae-pos/api/internal/model"
	"github.com/sae-pos/api/internal/printer"
	"github.com/sae-pos/api/internal/router"
	"github.com/sae-pos/api/internal/session"
	"github.com/sae-pos/api/internal/store"
	"github.com/sae-pos/api/internal/stream"
	"github.com/sae-pos/api/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("create connection pool: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	st := store.NewPostgres(pool)
	bus := stream.NewBus()

	hub := ws.NewHub()
	go hub.Run()

	// Each restaurant's session prints with its own receipt header and
	// pushes new-order events to its console room.
	printerFor := func(scope uuid.UUID) lifecycle.Printer {
		detailsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		details, err := st.FetchRestaurantDetails(detailsCtx, scope)
		if err != nil {
			log.Printf("ERROR: fetch restaurant details for %s: %v", scope, err)
		}
		return printer.NewTextPrinter(os.Stdout, details)
	}
	notify := func(scope uuid.UUID, o model.Order) {
		payload, err := json.Marshal(o)
		if err != nil {
			log.Printf("ERROR: marshal new order event: %v", err)
			return
		}
		hub.BroadcastToRestaurant(scope, ws.Event{Type: ws.EventNewOrder, Payload: payload})
	}
	sessions := session.NewManager(st, printerFor, bus, notify, cfg.PollInterval)
	defer sessions.CloseAll()

	r := router.New(cfg, st, sessions, bus, hub)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: server shutdown: %v", err)
	}
}
