package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config — настройки клиента.
type Config struct {
	APIURL    string
	SocketURL string

	ReconnectAttempts int
	ReconnectDelay    time.Duration
	TypingDebounce    time.Duration
	ScrollDebounce    time.Duration
	NearTopThreshold  int

	ImageCacheSize int
	RecentStickers int
	MaxImageSize   int64
	MaxAudioSize   int64

	// StorageBackend: pebble, redis или memory.
	StorageBackend string
	StoragePath    string
	RedisURL       string

	// MetricsAddr — адрес для /metrics; пустой — метрики не отдаются.
	MetricsAddr string
	LogLevel    string
	LogFile     string
	HTTPTimeout time.Duration
}

type clientYAML struct {
	APIURL            string `yaml:"api_url"`
	SocketURL         string `yaml:"socket_url"`
	ReconnectAttempts int    `yaml:"reconnect_attempts"`
	ReconnectDelayMS  int    `yaml:"reconnect_delay_ms"`
	TypingDebounceMS  int    `yaml:"typing_debounce_ms"`
	ScrollDebounceMS  int    `yaml:"scroll_debounce_ms"`
	NearTopThreshold  int    `yaml:"near_top_threshold"`
	ImageCacheSize    int    `yaml:"image_cache_size"`
	RecentStickers    int    `yaml:"recent_stickers"`
	MaxImageSizeMB    int    `yaml:"max_image_size_mb"`
	MaxAudioSizeMB    int    `yaml:"max_audio_size_mb"`
	StorageBackend    string `yaml:"storage_backend"`
	StoragePath       string `yaml:"storage_path"`
	RedisURL          string `yaml:"redis_url"`
	MetricsAddr       string `yaml:"metrics_addr"`
	LogLevel          string `yaml:"log_level"`
	LogFile           string `yaml:"log_file"`
	HTTPTimeoutS      int    `yaml:"http_timeout_s"`
}

// Load загружает конфигурацию клиента: .env, затем CONFIG_PATH или config/client.yaml, затем env.
func Load() *Config {
	loadEnv()
	yc := clientYAML{
		APIURL:            "http://localhost:8080",
		ReconnectAttempts: 5,
		ReconnectDelayMS:  1000,
		TypingDebounceMS:  300,
		ScrollDebounceMS:  150,
		NearTopThreshold:  50,
		ImageCacheSize:    100,
		RecentStickers:    12,
		MaxImageSizeMB:    5,
		MaxAudioSizeMB:    25,
		StorageBackend:    "pebble",
		StoragePath:       defaultStoragePath(),
		RedisURL:          "redis://localhost:6379",
		LogLevel:          "info",
		HTTPTimeoutS:      15,
	}
	loadYAML(&yc, os.Getenv("CONFIG_PATH"), "config/client.yaml")

	apiURL := NormalizeAPIURL(envStr("DUOCHAT_API_URL", yc.APIURL))
	socketURL := envStr("DUOCHAT_SOCKET_URL", yc.SocketURL)
	if socketURL == "" {
		socketURL = SocketURLFor(apiURL)
	}

	return &Config{
		APIURL:            apiURL,
		SocketURL:         socketURL,
		ReconnectAttempts: positive(envInt("RECONNECT_ATTEMPTS", yc.ReconnectAttempts), 5),
		ReconnectDelay:    time.Duration(positive(envInt("RECONNECT_DELAY_MS", yc.ReconnectDelayMS), 1000)) * time.Millisecond,
		TypingDebounce:    time.Duration(positive(envInt("TYPING_DEBOUNCE_MS", yc.TypingDebounceMS), 300)) * time.Millisecond,
		ScrollDebounce:    time.Duration(positive(envInt("SCROLL_DEBOUNCE_MS", yc.ScrollDebounceMS), 150)) * time.Millisecond,
		NearTopThreshold:  positive(envInt("NEAR_TOP_THRESHOLD", yc.NearTopThreshold), 50),
		ImageCacheSize:    positive(envInt("IMAGE_CACHE_SIZE", yc.ImageCacheSize), 100),
		RecentStickers:    positive(envInt("RECENT_STICKERS", yc.RecentStickers), 12),
		MaxImageSize:      int64(positive(envInt("MAX_IMAGE_SIZE_MB", yc.MaxImageSizeMB), 5)) << 20,
		MaxAudioSize:      int64(positive(envInt("MAX_AUDIO_SIZE_MB", yc.MaxAudioSizeMB), 25)) << 20,
		StorageBackend:    envStr("STORAGE_BACKEND", yc.StorageBackend),
		StoragePath:       envStr("STORAGE_PATH", yc.StoragePath),
		RedisURL:          envStr("REDIS_URL", yc.RedisURL),
		MetricsAddr:       envStr("METRICS_ADDR", yc.MetricsAddr),
		LogLevel:          envStr("LOG_LEVEL", yc.LogLevel),
		LogFile:           envStr("LOG_FILE", yc.LogFile),
		HTTPTimeout:       time.Duration(positive(envInt("HTTP_TIMEOUT_S", yc.HTTPTimeoutS), 15)) * time.Second,
	}
}

// NormalizeAPIURL превращает протокол-относительный адрес "//host" в "https://host" и убирает завершающий слэш.
func NormalizeAPIURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	return strings.TrimRight(raw, "/")
}

// SocketURLFor выводит адрес сокета из адреса API: http→ws, https→wss, путь /ws.
func SocketURLFor(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String()
}

func defaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".duochat", "state")
	}
	return filepath.Join(dir, "duochat", "state")
}
