package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-pos/internal/auth"
	"ms-pos/internal/cash"
	"ms-pos/internal/cash/cash_api"
	cashdb "ms-pos/internal/cash/db"
	"ms-pos/internal/config"
	"ms-pos/internal/database/migrations"
	"ms-pos/internal/kafka"
	"ms-pos/internal/logger"
	"ms-pos/internal/order"
	orderdb "ms-pos/internal/order/db"
	"ms-pos/internal/order/order_api"
	"ms-pos/internal/realtime"
	"ms-pos/internal/sse"
	"ms-pos/internal/tenant"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	cfg := config.Load()
	logg := logger.NewLogger()

	// --- PostgreSQL Setup ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatalf("❌ Failed to connect to Postgres: %v", err)
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
		if err := runner.RunMigrations(); err != nil {
			log.Fatalf("❌ Migrations failed: %v", err)
		}
		logg.LogDatabase("MIGRATE", "", "schema is up to date")
	}

	// --- Redis Setup ---
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}

	// --- Kafka Setup ---
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
	}

	// --- Real-time fan-out ---
	publisher := realtime.NewPublisher(producer, redisClient, cfg.Kafka.Topics, logg)
	emitter := sse.NewTenantEventEmitter()
	bridge := realtime.NewBridge(redisClient, emitter, logg)
	go bridge.Run(ctx)

	// --- Services ---
	defaultOpening, err := decimal.NewFromString(cfg.Cash.DefaultOpeningBalance)
	if err != nil {
		log.Fatalf("❌ Invalid CASH_DEFAULT_OPENING_BALANCE: %v", err)
	}

	orderService := order.NewOrderService(orderdb.New(bunDB), publisher, logg)
	cashService := cash.NewCashService(cashdb.New(bunDB), publisher, logg, defaultOpening)

	orderHandler := order_api.NewHandler(orderService, logg)
	cashHandler := cash_api.NewHandler(cashService, logg)

	// --- Setup Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api/v1/{tenant}", func(r chi.Router) {
		r.Use(tenant.Middleware)
		r.Use(auth.Middleware(cfg.Auth.JWTSecret))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", orderHandler.CreateOrder)
			r.Get("/", orderHandler.ListOrders)
			r.Get("/{orderId}", orderHandler.GetOrder)
			r.Patch("/{orderId}/status", orderHandler.UpdateStatus)
			r.Post("/{orderId}/payments", orderHandler.RegisterPayment)
			r.Post("/{orderId}/items", orderHandler.AddItems)
			r.Delete("/{orderId}", orderHandler.DeleteOrder)
		})

		r.Route("/cash-sessions", func(r chi.Router) {
			r.Post("/", cashHandler.OpenSession)
			r.Get("/open", cashHandler.GetOpenSession)
			r.Post("/{sessionId}/movements", cashHandler.RecordMovement)
			r.Put("/{sessionId}/close", cashHandler.CloseSession)
			r.Get("/{sessionId}/reconciliation", cashHandler.GetReconciliation)
		})

		r.Get("/events", sse.Handler(emitter))
	})

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout: cfg.Server.ReadTimeout,
		// No write timeout, SSE streams on /events stay open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("🚀 POS Service running on %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ HTTP server error: %v", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("📦 Shutdown signal received. Cleaning up...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server exited gracefully")
}
