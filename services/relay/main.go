// Команда relay — dev-сервер переписки для двух участников: REST (/api/*),
// сокет (/ws), раздача загрузок (/uploads) и /metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/duochat/internal/config"
	"github.com/duochat/internal/fileserver"
	"github.com/duochat/internal/handler"
	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/metrics"
	"github.com/duochat/internal/middleware"
	"github.com/duochat/internal/repository"
	"github.com/duochat/internal/startup"
	"github.com/duochat/internal/ws"
	"github.com/duochat/migrations"
)

func main() {
	logger.SetPrefix("relay")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting relay")
	cfg := config.LoadRelay()
	logger.SetLevel(cfg.LogLevel)
	defer logger.Flush()

	if *dev {
		embeddedDB, err := startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	var (
		msgRepo     repository.Messages
		stickerRepo repository.Stickers
	)
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set, keeping messages in memory")
		msgRepo = repository.NewMemoryMessages()
		stickerRepo = repository.NewMemoryStickers()
	} else {
		pool, err := connectDB(cfg)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		defer pool.Close()
		if *migrate && !*dev {
			return
		}
		msgRepo = repository.NewMessageRepository(pool)
		stickerRepo = repository.NewStickerRepository(pool)
		logger.Info("database connected, migrations applied")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	relayMetrics := metrics.NewRelay(reg)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(msgRepo, ws.HubConfig{
		MaxConns: cfg.MaxWSConnections,
		PageSize: cfg.PageSize,
		Limits: ws.Limits{
			WriteWait:      time.Duration(cfg.WSWriteTimeout) * time.Second,
			PongWait:       time.Duration(cfg.WSPongTimeout) * time.Second,
			MaxMessageSize: int64(cfg.WSMaxMessageSize),
			SendBuffer:     cfg.WSSendBufferSize,
		},
		Metrics: relayMetrics,
	})
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	files := fileserver.New(cfg.UploadDir, cfg.MaxUploadSize)
	authH := handler.NewAuthHandler(cfg.Users)
	msgH := handler.NewMessageHandler(msgRepo, cfg.PageSize)
	stickerH := handler.NewStickerHandler(stickerRepo, files)
	fileH := handler.NewFileHandler(files)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	r.Get("/uploads/{filename}", fileH.Serve)
	r.Get("/ws", wsH.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimitAPI(cfg.RateLimitRPS, cfg.RateLimitBurst))
		r.Post("/login", authH.Login)
		r.Get("/messages", msgH.GetMessages)
		r.Get("/stickers", stickerH.List)
		r.Post("/stickers/upload", stickerH.Upload)
		r.Post("/upload-image", fileH.UploadImage)
		r.Post("/upload-audio", fileH.UploadAudio)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("relay listening on %s (users: %s)", cfg.ServerAddr, strings.Join(userNames(cfg.Users), ", "))
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			hubCancel()
			logger.Flush()
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
}

func connectDB(cfg *config.RelayConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections)

	pool, err := startup.ConnectDBWithRetry(context.Background(), poolCfg, 60*time.Second)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrations.Apply(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("migrations applied")
	return pool, nil
}

func userNames(users map[string]string) []string {
	out := make([]string, 0, len(users))
	for name := range users {
		out = append(out, name)
	}
	return out
}

func startEmbeddedPostgres(cfg *config.RelayConfig) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5433
		user     = "duochat"
		password = "duochat_secret"
		database = "duochat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "duochat-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.DatabaseURL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
