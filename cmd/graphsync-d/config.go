package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultAddr          = "127.0.0.1:8090"
	defaultRetention     = 7 * 24 * time.Hour
	defaultWebAssetsMode = "embedded"
	defaultRedisChannel  = "graphsync:events"
	defaultSnapshotEvery = 5 * time.Minute
)

type Config struct {
	Addr          string
	DBPath        string // empty disables the journal
	Retention     time.Duration
	ArchiveDir    string // empty drops expired entries instead of archiving them
	SnapshotEvery time.Duration // 0 disables relay graph snapshots
	RedisAddr     string // empty disables the fan-out bus
	RedisChannel  string
	WebAssetsMode string
	WebDir        string
	TLSCertFile   string
	TLSKeyFile    string
	LogLevel      string
	LogFormat     string
	LogFile       string
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	defaultDBPath := filepath.Join(cwd, "graphsync.db")

	dbPath := envOrDefault("GRAPHSYNC_DB_PATH", defaultDBPath)
	addr := addrFromEnv(defaultAddr)
	retention := defaultRetention
	if retentionEnv := os.Getenv("GRAPHSYNC_JOURNAL_RETENTION"); retentionEnv != "" {
		parsed, err := time.ParseDuration(retentionEnv)
		if err != nil {
			return Config{}, fmt.Errorf("invalid GRAPHSYNC_JOURNAL_RETENTION: %w", err)
		}
		if parsed < 0 {
			return Config{}, errors.New("GRAPHSYNC_JOURNAL_RETENTION cannot be negative")
		}
		retention = parsed
	}
	webAssetsMode := envOrDefault("GRAPHSYNC_WEB_ASSETS_MODE", defaultWebAssetsMode)

	flagSet := flag.NewFlagSet("graphsync-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagDB := flagSet.String("db", dbPath, "path to SQLite journal (empty or off disables it)")
	flagRetention := flagSet.String("retention", retention.String(), "journal retention (0 keeps everything)")
	flagArchive := flagSet.String("archive-dir", os.Getenv("GRAPHSYNC_ARCHIVE_DIR"), "move expired journal entries to gzipped files here instead of deleting them")
	flagSnapshot := flagSet.Duration("snapshot-interval", defaultSnapshotEvery, "how often the relay graph is checkpointed (0 disables)")
	flagRedis := flagSet.String("redis-addr", os.Getenv("GRAPHSYNC_REDIS_ADDR"), "Redis address for multi-instance fan-out")
	flagRedisChannel := flagSet.String("redis-channel", envOrDefault("GRAPHSYNC_REDIS_CHANNEL", defaultRedisChannel), "Redis pub/sub channel")
	flagWebAssets := flagSet.String("web-assets", webAssetsMode, "web assets mode: embedded|fs|off")
	flagWebDir := flagSet.String("web-dir", os.Getenv("GRAPHSYNC_WEB_DIR"), "web assets directory when web-assets=fs")
	flagTLSCert := flagSet.String("tls-cert", os.Getenv("GRAPHSYNC_TLS_CERT"), "TLS certificate file")
	flagTLSKey := flagSet.String("tls-key", os.Getenv("GRAPHSYNC_TLS_KEY"), "TLS key file")
	flagLogLevel := flagSet.String("log-level", envOrDefault("GRAPHSYNC_LOG_LEVEL", "info"), "log level: debug|info|warn|error")
	flagLogFormat := flagSet.String("log-format", envOrDefault("GRAPHSYNC_LOG_FORMAT", "json"), "log format: json|console")
	flagLogFile := flagSet.String("log-file", os.Getenv("GRAPHSYNC_LOG_FILE"), "also write logs to this file (rotated)")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	retentionParsed, err := time.ParseDuration(*flagRetention)
	if err != nil {
		return Config{}, fmt.Errorf("invalid retention: %w", err)
	}
	if retentionParsed < 0 {
		return Config{}, errors.New("retention cannot be negative")
	}

	config := Config{
		Addr:          strings.TrimSpace(*flagAddr),
		DBPath:        resolveDBPath(*flagDB, cwd),
		Retention:     retentionParsed,
		ArchiveDir:    resolvePath(*flagArchive, cwd),
		SnapshotEvery: *flagSnapshot,
		RedisAddr:     strings.TrimSpace(*flagRedis),
		RedisChannel:  strings.TrimSpace(*flagRedisChannel),
		WebAssetsMode: normalizeWebAssetsMode(*flagWebAssets),
		WebDir:        strings.TrimSpace(*flagWebDir),
		TLSCertFile:   resolvePath(*flagTLSCert, cwd),
		TLSKeyFile:    resolvePath(*flagTLSKey, cwd),
		LogLevel:      strings.ToLower(strings.TrimSpace(*flagLogLevel)),
		LogFormat:     strings.ToLower(strings.TrimSpace(*flagLogFormat)),
		LogFile:       resolvePath(*flagLogFile, cwd),
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}

	if config.SnapshotEvery < 0 {
		return Config{}, errors.New("snapshot-interval cannot be negative")
	}

	if config.ArchiveDir != "" && (config.DBPath == "" || config.Retention == 0) {
		return Config{}, errors.New("archive-dir requires a journal with a non-zero retention")
	}

	if config.RedisAddr != "" && config.RedisChannel == "" {
		return Config{}, errors.New("redis-channel cannot be empty when redis-addr is set")
	}

	if (config.TLSCertFile == "") != (config.TLSKeyFile == "") {
		return Config{}, errors.New("tls-cert and tls-key must be set together")
	}

	if config.WebAssetsMode == "fs" {
		if config.WebDir == "" {
			return Config{}, errors.New("web-assets=fs requires web-dir")
		}
		config.WebDir = resolvePath(config.WebDir, cwd)
	}

	if config.WebAssetsMode != "embedded" && config.WebAssetsMode != "fs" && config.WebAssetsMode != "off" {
		return Config{}, fmt.Errorf("unsupported web-assets mode: %s", config.WebAssetsMode)
	}

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("GRAPHSYNC_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("GRAPHSYNC_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}

// resolveDBPath treats "off" like an empty path.
func resolveDBPath(path string, cwd string) string {
	if strings.EqualFold(strings.TrimSpace(path), "off") {
		return ""
	}
	return resolvePath(path, cwd)
}

func normalizeWebAssetsMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "embedded":
		return "embedded"
	case "fs", "dir", "directory":
		return "fs"
	case "off", "disabled", "none":
		return "off"
	default:
		return strings.ToLower(strings.TrimSpace(mode))
	}
}
