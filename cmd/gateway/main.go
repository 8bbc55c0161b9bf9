package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/emberchat/gateway/internal/audit"
	"github.com/emberchat/gateway/internal/config"
	"github.com/emberchat/gateway/internal/directory"
	"github.com/emberchat/gateway/internal/dispatch"
	"github.com/emberchat/gateway/internal/gateway"
	systemhandlers "github.com/emberchat/gateway/internal/handlers/system"
	userhandlers "github.com/emberchat/gateway/internal/handlers/user"
	"github.com/emberchat/gateway/internal/messaging"
	"github.com/emberchat/gateway/internal/moderation"
	"github.com/emberchat/gateway/internal/presence"
	"github.com/emberchat/gateway/internal/ratelimit"
	"github.com/emberchat/gateway/internal/registry"
	"github.com/emberchat/gateway/internal/token"
	"github.com/emberchat/gateway/internal/ws"
)

func main() {
	cfg := config.FromEnv()

	if cfg.TokenSecret == "" {
		log.Fatal("TOKEN_SECRET must be set")
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to open Postgres: %v", err)
	}
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	cancel()

	if err := runMigrations(db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// --- NATS control plane ---
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	control, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- stores and services ---
	connStore := registry.NewStore(db)
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := connStore.PurgeAll(ctx); err != nil {
		log.Printf("stale connection purge failed: %v (continuing)", err)
	}
	cancel()

	reg := registry.New(connStore)
	moderationStore := moderation.NewStore(rdb)
	flags := moderation.NewFlags(rdb)
	limiter := ratelimit.NewLimiter(rdb)
	users := directory.NewStore(db)
	signer := token.NewSigner(cfg.TokenSecret)
	online := presence.NewCache(cfg.PresenceTTL, reg.IsUserOnline)
	auditLog := audit.NewLogger(audit.NewTail(cfg.AuditTailSize), audit.NewStore(db))

	// --- route table and chain ---
	table := dispatch.NewTable(
		userhandlers.Routes(userhandlers.Deps{
			Tokens:   signer,
			Registry: reg,
			Seals:    moderationStore,
			Presence: online,
			Admins:   cfg.Admins,
		}),
		systemhandlers.Routes(systemhandlers.Deps{
			Moderation:  moderationStore,
			Flags:       flags,
			Directory:   users,
			Registry:    reg,
			Control:     control,
			Audit:       auditLog,
			UserSealTTL: cfg.UserSealTTL,
			IPSealTTL:   cfg.IPSealTTL,
		}),
	)

	chain := dispatch.NewChain(moderationStore, limiter, table, dispatch.Config{
		Admins:        cfg.Admins,
		DefaultRate:   cfg.DefaultRate,
		FailOpenReads: cfg.FailOpenReads,
	})

	gw := gateway.New(chain)

	// --- WebSocket server ---
	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		TrustProxy:     cfg.TrustProxy,
	}
	server := ws.NewServer(serverConfig, gw.HandleFrame)
	gw.SetSender(server)

	server.SetOnConnect(reg.OnConnect)
	server.SetOnDisconnect(func(c *ws.Connection) { reg.OnDisconnect(c.ID) })
	reg.SetRemover(server.RemoveConnection)

	// Ops tooling can eject users without an admin session.
	if err := control.SubscribeForceLogout(func(cmd messaging.ForceLogoutCommand) {
		closed := reg.ForceDisconnectUser(cmd.UserID, cmd.Reason)
		log.Printf("control: force logout user=%s reason=%q closed=%d", cmd.UserID, cmd.Reason, closed)
	}); err != nil {
		log.Fatalf("failed to subscribe to control plane: %v", err)
	}

	log.Printf("event gateway starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NATSURL)
	log.Printf("  admins:          %d", len(cfg.Admins))
	log.Printf("  routes:          %d", table.Len())
	log.Printf("  fail_open_reads: %v", cfg.FailOpenReads)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		control.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// runMigrations applies the schema migrations from dir against the open
// database handle.
func runMigrations(db *sql.DB, dir string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
