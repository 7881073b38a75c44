package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/sharetribe/ftw-time/internal/api"
	"github.com/sharetribe/ftw-time/internal/appointment"
	"github.com/sharetribe/ftw-time/internal/auth"
	"github.com/sharetribe/ftw-time/internal/config"
	"github.com/sharetribe/ftw-time/internal/lineitems"
	"github.com/sharetribe/ftw-time/internal/mailer"
	"github.com/sharetribe/ftw-time/internal/marketplace"
	"github.com/sharetribe/ftw-time/internal/pkg/distlock"
	"github.com/sharetribe/ftw-time/internal/pkg/logger"
	"github.com/sharetribe/ftw-time/internal/storage"
	"github.com/sharetribe/ftw-time/internal/zoom"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

// openDatabase opens the meeting ledger database. It returns nil when no
// URL is configured.
func openDatabase(ctx context.Context, dbURL string) (*sql.DB, error) {
	if dbURL == "" {
		return nil, nil
	}
	sep := "?"
	if strings.Contains(dbURL, "?") {
		sep = "&"
	}
	if !strings.Contains(dbURL, "connect_timeout") {
		dbURL += sep + "connect_timeout=5"
	}
	log.Printf("DB URL host portion: ...@%s/...", extractHost(dbURL))

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(3)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// openRedis connects to Redis for accept locks. It returns nil when Redis
// is not configured or not reachable.
func openRedis(ctx context.Context, redisURL string) *redis.Client {
	if redisURL == "" {
		log.Println("Redis not configured (REDIS_URL not set), accept locks fall back to PG advisory locks")
		return nil
	}
	var client *redis.Client
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	} else {
		client = redis.NewClient(opts)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed: %v, falling back to PG advisory locks", err)
		client.Close()
		return nil
	}
	log.Println("Redis connected (distributed locking enabled)")
	return client
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedact(cfg.Log.RedactEnabled())

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if db != nil {
		defer db.Close()
	}
	redisClient := openRedis(ctx, cfg.Redis.URL)
	if redisClient != nil {
		defer redisClient.Close()
	}
	locks := distlock.NewFactory(redisClient, db, cfg.Redis.LockTTL())

	store, err := storage.New(ctx, cfg.Storage, db)
	if err != nil {
		log.Fatalf("Failed to initialize meeting store: %v", err)
	}
	log.Printf("Meeting store: %s", cfg.Storage.Type)

	market := marketplace.NewClient(cfg.Marketplace, nil)
	zoomClient := zoom.NewClient(cfg.Zoom, nil, appointment.ProfileTokenSaver{Market: market})

	mail, err := mailer.NewFromConfig(ctx, cfg.Mail)
	if err != nil {
		log.Fatalf("Failed to initialize mailer: %v", err)
	}
	if !mail.Enabled() {
		log.Println("Mail disabled, meeting invitations will be skipped")
	}

	appointments := appointment.NewService(market, zoomClient, mail, store, locks, cfg.Zoom.MeetingTopic)
	pricing := lineitems.New(cfg.Marketplace.Currency, cfg.Commission.ProviderPercent)
	authManager := auth.NewAuthManager(cfg, market)

	handlers := api.NewHandlers(cfg, market, zoomClient, appointments, pricing)
	server := api.NewServer(cfg.Server, handlers, authManager, api.NewHealthChecker(db, redisClient))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
