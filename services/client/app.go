package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/duochat/internal/api"
	"github.com/duochat/internal/chat"
	"github.com/duochat/internal/config"
	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/metrics"
	"github.com/duochat/internal/startup"
	"github.com/duochat/internal/storage"
	"github.com/duochat/internal/storage/memory"
	"github.com/duochat/internal/storage/pebble"
	"github.com/duochat/internal/ws"
)

const redisConnectWait = 10 * time.Second

var errNotLoggedIn = errors.New(`not logged in, run "duochat login" first`)

// app holds what every command shares: config, persisted state, REST client
// and metrics.
type app struct {
	cfg     *config.Config
	prefs   *storage.Prefs
	api     *api.Client
	reg     *prometheus.Registry
	metrics *metrics.Client
	srv     *http.Server
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	kv, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	a := &app{
		cfg:     cfg,
		prefs:   storage.NewPrefs(kv),
		api:     api.New(cfg.APIURL, cfg.HTTPTimeout, cfg.ImageCacheSize),
		reg:     reg,
		metrics: metrics.NewClient(reg),
	}
	a.serveMetrics()
	return a, nil
}

// openStorage picks the KV backend for persisted client state.
func openStorage(ctx context.Context, cfg *config.Config) (storage.KV, error) {
	switch cfg.StorageBackend {
	case "memory":
		return memory.New(), nil
	case "redis":
		c, err := startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, redisConnectWait)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		return c, nil
	case "", "pebble":
		c, err := pebble.New(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("open storage: unknown backend %q", cfg.StorageBackend)
}

func (a *app) serveMetrics() {
	if a.cfg.MetricsAddr == "" {
		return
	}
	a.srv = &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           metrics.Handler(a.reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("metrics on %s", a.cfg.MetricsAddr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server: %v", err)
		}
	}()
}

func (a *app) Close() {
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Errorf("metrics shutdown: %v", err)
		}
	}
	if err := a.prefs.Close(); err != nil {
		logger.Errorf("close storage: %v", err)
	}
}

func (a *app) user(ctx context.Context) (string, error) {
	name, err := chat.CurrentUser(ctx, a.prefs)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", errNotLoggedIn
	}
	return name, nil
}

// conversation wires a conversation for username to a fresh socket.
func (a *app) conversation(username string, onAnchor func(int)) *chat.Conversation {
	sock := ws.NewManager(ws.ManagerConfig{
		URL:      a.cfg.SocketURL,
		Attempts: a.cfg.ReconnectAttempts,
		Delay:    a.cfg.ReconnectDelay,
	})
	return chat.New(chat.Options{
		Username:       username,
		API:            a.api,
		Socket:         sock,
		Prefs:          a.prefs,
		Metrics:        a.metrics,
		TypingDelay:    a.cfg.TypingDebounce,
		ScrollInterval: a.cfg.ScrollDebounce,
		NearTop:        a.cfg.NearTopThreshold,
		RecentStickers: a.cfg.RecentStickers,
		MaxImageSize:   a.cfg.MaxImageSize,
		MaxAudioSize:   a.cfg.MaxAudioSize,
		OnAnchor:       onAnchor,
	})
}
