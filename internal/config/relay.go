package config

import (
	"os"
	"strings"
	"time"

	"github.com/duochat/internal/logger"
)

// RelayConfig — настройки dev-релея (REST + сокет).
type RelayConfig struct {
	ServerAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// DatabaseURL пустой — сообщения и стикеры хранятся в памяти.
	DatabaseURL      string
	DBMaxConnections int

	UploadDir     string
	MaxUploadSize int64
	PageSize      int

	MaxWSConnections int
	WSSendBufferSize int
	WSWriteTimeout   int
	WSPongTimeout    int
	WSMaxMessageSize int

	CORSAllowedOrigins string
	// RateLimitRPS — запросов в секунду на IP для /api; 0 — без ограничения.
	RateLimitRPS   int
	RateLimitBurst int

	// Users — допустимые пары логин/пароль.
	Users    map[string]string
	LogLevel string
}

type relayYAML struct {
	ServerAddr         string            `yaml:"server_addr"`
	ReadTimeout        int               `yaml:"read_timeout"`
	WriteTimeout       int               `yaml:"write_timeout"`
	IdleTimeout        int               `yaml:"idle_timeout"`
	DatabaseURL        string            `yaml:"database_url"`
	DBMaxConnections   int               `yaml:"db_max_connections"`
	UploadDir          string            `yaml:"upload_dir"`
	MaxUploadSizeMB    int               `yaml:"max_upload_size_mb"`
	PageSize           int               `yaml:"page_size"`
	MaxWSConnections   int               `yaml:"max_ws_connections"`
	WSSendBufferSize   int               `yaml:"ws_send_buffer_size"`
	WSWriteTimeout     int               `yaml:"ws_write_timeout"`
	WSPongTimeout      int               `yaml:"ws_pong_timeout"`
	WSMaxMessageSize   int               `yaml:"ws_max_message_size"`
	CORSAllowedOrigins string            `yaml:"cors_allowed_origins"`
	RateLimitRPS       int               `yaml:"rate_limit_rps"`
	RateLimitBurst     int               `yaml:"rate_limit_burst"`
	Users              map[string]string `yaml:"users"`
	LogLevel           string            `yaml:"log_level"`
}

// LoadRelay загружает конфигурацию релея: .env, затем CONFIG_PATH или config/relay.yaml, затем env.
func LoadRelay() *RelayConfig {
	loadEnv()
	yc := relayYAML{
		ServerAddr:         ":8080",
		ReadTimeout:        15,
		WriteTimeout:       15,
		IdleTimeout:        60,
		DBMaxConnections:   20,
		UploadDir:          "./uploads",
		MaxUploadSizeMB:    25,
		PageSize:           50,
		MaxWSConnections:   64,
		WSSendBufferSize:   256,
		WSWriteTimeout:     10,
		WSPongTimeout:      60,
		WSMaxMessageSize:   64 << 10,
		CORSAllowedOrigins: "*",
		RateLimitRPS:       50,
		RateLimitBurst:     100,
		LogLevel:           "info",
	}
	loadYAML(&yc, os.Getenv("CONFIG_PATH"), "config/relay.yaml")

	users := yc.Users
	if raw := os.Getenv("DUOCHAT_USERS"); raw != "" {
		users = parsePairs(raw)
	}
	production := os.Getenv("APP_ENV") == "production"
	if len(users) == 0 {
		if production {
			logger.Errorf("config: в production задайте DUOCHAT_USERS (пары логин:пароль)")
			os.Exit(1)
		}
		users = map[string]string{"alice": "alice", "bob": "bob"}
	}

	cfg := &RelayConfig{
		ServerAddr:         envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:        time.Duration(envInt("READ_TIMEOUT", yc.ReadTimeout)) * time.Second,
		WriteTimeout:       time.Duration(envInt("WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		IdleTimeout:        time.Duration(envInt("IDLE_TIMEOUT", yc.IdleTimeout)) * time.Second,
		DatabaseURL:        envStr("DATABASE_URL", yc.DatabaseURL),
		DBMaxConnections:   positive(envInt("DB_MAX_CONNECTIONS", yc.DBMaxConnections), 20),
		UploadDir:          envStr("UPLOAD_DIR", yc.UploadDir),
		MaxUploadSize:      int64(positive(envInt("MAX_UPLOAD_SIZE_MB", yc.MaxUploadSizeMB), 25)) << 20,
		PageSize:           positive(envInt("PAGE_SIZE", yc.PageSize), 50),
		MaxWSConnections:   positive(envInt("MAX_WS_CONNECTIONS", yc.MaxWSConnections), 64),
		WSSendBufferSize:   positive(envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize), 256),
		WSWriteTimeout:     positive(envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeout), 10),
		WSPongTimeout:      positive(envInt("WS_PONG_TIMEOUT", yc.WSPongTimeout), 60),
		WSMaxMessageSize:   positive(envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize), 64<<10),
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		RateLimitRPS:       envInt("RATE_LIMIT_RPS", yc.RateLimitRPS),
		RateLimitBurst:     positive(envInt("RATE_LIMIT_BURST", yc.RateLimitBurst), 100),
		Users:              users,
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
	}

	if production && (cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*") {
		logger.Errorf("config: в production задайте CORS_ALLOWED_ORIGINS (явный список origins, не *)")
	}
	return cfg
}

// AllowedOrigins разбивает CORSAllowedOrigins по запятым.
func (c *RelayConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
