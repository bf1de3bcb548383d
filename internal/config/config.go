// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/reelshelf/reelshelf-server/internal/validation"
)

// Config holds the application configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Metadata MetadataConfig
	Server   ServerConfig
	Convert  ConvertConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// MetadataConfig holds metadata storage configuration.
// The database and the conversion cache live under BasePath by default.
type MetadataConfig struct {
	BasePath string
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port         string        // Server port (default: 8080)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 15s)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)

	CORSOrigins []string // Allowed CORS origins (default: *)
	RateLimit   int      // Mutating requests per minute per client (default: 60)
	RateBurst   int      // Burst allowance for RateLimit (default: 20)
}

// ConvertConfig holds background conversion configuration.
// The env tags name the variables reported in validation errors.
type ConvertConfig struct {
	// Enabled allows disabling conversion entirely (default: true)
	Enabled bool `env:"CONVERT_ENABLED"`
	// CachePath is the directory for converted outputs (default: {metadata}/cache/converted)
	CachePath string `env:"CONVERT_CACHE_PATH" validate:"required"`
	// MaxConcurrent is the number of simultaneous encodes (default: 1)
	MaxConcurrent int `env:"CONVERT_MAX_CONCURRENT" validate:"min=1,max=8"`
	// FFmpegPath overrides auto-detection of ffmpeg location (default: auto-detect)
	FFmpegPath string `env:"FFMPEG_PATH"`

	// Audio transform applied to every conversion.
	AudioCodec    string `env:"CONVERT_AUDIO_CODEC" validate:"required"`
	AudioBitrate  string `env:"CONVERT_AUDIO_BITRATE" validate:"required"`
	AudioChannels int    `env:"CONVERT_AUDIO_CHANNELS" validate:"min=1,max=8"`
	// OutputExt is the output container (default: mp4)
	OutputExt string `env:"CONVERT_OUTPUT_EXT" validate:"oneof=mp4 mkv mov"`

	// RetentionGrace is how long a completed job stays visible in status (default: 30s)
	RetentionGrace time.Duration `env:"CONVERT_RETENTION_GRACE" validate:"gte=0"`

	// WatchdogFactor kills a job running longer than duration x factor. 0 disables it.
	WatchdogFactor float64 `env:"CONVERT_WATCHDOG_FACTOR" validate:"gte=0"`
	// WatchdogMinimum is the floor for the watchdog timeout (default: 10m)
	WatchdogMinimum time.Duration `env:"CONVERT_WATCHDOG_MINIMUM" validate:"gte=0"`

	// CacheMaxAge evicts outputs older than this. 0 disables age eviction.
	CacheMaxAge time.Duration `env:"CONVERT_CACHE_MAX_AGE" validate:"gte=0"`
	// CacheMaxBytes evicts the oldest outputs while the cache exceeds this size. 0 disables it.
	CacheMaxBytes int64 `env:"CONVERT_CACHE_MAX_BYTES" validate:"gte=0"`
	// EvictInterval is how often the eviction sweep runs (default: 1h)
	EvictInterval time.Duration `env:"CONVERT_EVICT_INTERVAL" validate:"gt=0"`

	// WatchCache clears converted paths when their files are removed (default: true)
	WatchCache bool `env:"CONVERT_WATCH_CACHE"`
}

// EvictionEnabled reports whether any cache eviction policy is configured.
func (c ConvertConfig) EvictionEnabled() bool {
	return c.CacheMaxAge > 0 || c.CacheMaxBytes > 0
}

// DefaultConvertConfig returns the conversion defaults with the given cache path.
func DefaultConvertConfig(cachePath string) ConvertConfig {
	return ConvertConfig{
		Enabled:         true,
		CachePath:       cachePath,
		MaxConcurrent:   1,
		AudioCodec:      "aac",
		AudioBitrate:    "192k",
		AudioChannels:   2,
		OutputExt:       "mp4",
		RetentionGrace:  30 * time.Second,
		WatchdogMinimum: 10 * time.Minute,
		EvictInterval:   time.Hour,
		WatchCache:      true,
	}
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	metadataPath := flag.String("metadata-path", "", "Base path for metadata storage")

	serverPort := flag.String("port", "", "Server port (default: 8080)")
	readTimeout := flag.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := flag.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := flag.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")

	envFile := flag.String("env-file", ".env", "Path to .env file")

	convertEnabled := flag.String("convert-enabled", "", "Enable background conversion (default: true)")
	convertCachePath := flag.String("convert-cache-path", "", "Path for converted outputs")
	convertMaxConcurrent := flag.String("convert-max-concurrent", "", "Max concurrent conversions (default: 1)")
	ffmpegPath := flag.String("ffmpeg-path", "", "Path to ffmpeg binary (default: auto-detect)")

	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	defaults := DefaultConvertConfig("")

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Metadata: MetadataConfig{
			BasePath: getConfigValue(*metadataPath, "METADATA_PATH", ""),
		},
		Server: ServerConfig{
			Port:        getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			CORSOrigins: splitList(getConfigValue("", "SERVER_CORS_ORIGINS", "*")),
			RateLimit:   getIntConfigValue("", "SERVER_RATE_LIMIT", 60),
			RateBurst:   getIntConfigValue("", "SERVER_RATE_BURST", 20),
		},
		Convert: ConvertConfig{
			Enabled:       getBoolConfigValue(*convertEnabled, "CONVERT_ENABLED", defaults.Enabled),
			CachePath:     getConfigValue(*convertCachePath, "CONVERT_CACHE_PATH", ""),
			MaxConcurrent: getIntConfigValue(*convertMaxConcurrent, "CONVERT_MAX_CONCURRENT", defaults.MaxConcurrent),
			FFmpegPath:    getConfigValue(*ffmpegPath, "FFMPEG_PATH", ""),
			AudioCodec:    getConfigValue("", "CONVERT_AUDIO_CODEC", defaults.AudioCodec),
			AudioBitrate:  getConfigValue("", "CONVERT_AUDIO_BITRATE", defaults.AudioBitrate),
			AudioChannels: getIntConfigValue("", "CONVERT_AUDIO_CHANNELS", defaults.AudioChannels),
			OutputExt:     strings.ToLower(getConfigValue("", "CONVERT_OUTPUT_EXT", defaults.OutputExt)),
			WatchCache:    getBoolConfigValue("", "CONVERT_WATCH_CACHE", defaults.WatchCache),
		},
	}

	var err error

	// Parse server timeouts.
	if cfg.Server.ReadTimeout, err = getDurationConfigValue(*readTimeout, "SERVER_READ_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout, err = getDurationConfigValue(*writeTimeout, "SERVER_WRITE_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = getDurationConfigValue(*idleTimeout, "SERVER_IDLE_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}

	// Parse conversion durations and limits.
	if cfg.Convert.RetentionGrace, err = getDurationConfigValue("", "CONVERT_RETENTION_GRACE", defaults.RetentionGrace); err != nil {
		return nil, err
	}
	if cfg.Convert.WatchdogMinimum, err = getDurationConfigValue("", "CONVERT_WATCHDOG_MINIMUM", defaults.WatchdogMinimum); err != nil {
		return nil, err
	}
	if cfg.Convert.CacheMaxAge, err = getDurationConfigValue("", "CONVERT_CACHE_MAX_AGE", 0); err != nil {
		return nil, err
	}
	if cfg.Convert.EvictInterval, err = getDurationConfigValue("", "CONVERT_EVICT_INTERVAL", defaults.EvictInterval); err != nil {
		return nil, err
	}
	if cfg.Convert.WatchdogFactor, err = getFloatConfigValue("", "CONVERT_WATCHDOG_FACTOR", 0); err != nil {
		return nil, err
	}
	if cfg.Convert.CacheMaxBytes, err = getInt64ConfigValue("", "CONVERT_CACHE_MAX_BYTES", 0); err != nil {
		return nil, err
	}

	if err := cfg.expandMetadataPath(); err != nil {
		return nil, fmt.Errorf("invalid metadata path: %w", err)
	}

	// Defaults to {metadata}/cache/converted.
	if err := cfg.expandConvertCachePath(); err != nil {
		return nil, fmt.Errorf("invalid conversion cache path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Metadata.BasePath == "" {
		return errors.New("metadata base path cannot be empty after expansion")
	}

	if c.Server.RateLimit < 1 || c.Server.RateBurst < 1 {
		return errors.New("SERVER_RATE_LIMIT and SERVER_RATE_BURST must be positive")
	}

	return validation.New().Validate(c.Convert)
}

// DatabasePath returns the SQLite database location under the metadata directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Metadata.BasePath, "reelshelf.db")
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func (c *Config) expandMetadataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "ReelShelf", "metadata")

	expanded, err := expandPath(c.Metadata.BasePath, defaultPath)
	if err != nil {
		return err
	}
	c.Metadata.BasePath = expanded
	return nil
}

func (c *Config) expandConvertCachePath() error {
	defaultPath := filepath.Join(c.Metadata.BasePath, "cache", "converted")

	expanded, err := expandPath(c.Convert.CachePath, defaultPath)
	if err != nil {
		return err
	}
	c.Convert.CachePath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
// Unparseable values fall back to the default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strings.TrimSpace(strValue))
	if err != nil {
		return defaultValue
	}
	return result
}

// getInt64ConfigValue returns an int64 from flag, env var, or default.
func getInt64ConfigValue(flagValue, envKey string, defaultValue int64) (int64, error) {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseInt(strings.TrimSpace(strValue), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, strValue, err)
	}
	return result, nil
}

// getFloatConfigValue returns a float64 from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) (float64, error) {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(strings.TrimSpace(strValue), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, strValue, err)
	}
	return result, nil
}

// getDurationConfigValue returns a time.Duration from flag, env var, or default.
func getDurationConfigValue(flagValue, envKey string, defaultValue time.Duration) (time.Duration, error) {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue, nil
	}
	result, err := time.ParseDuration(strings.TrimSpace(strValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, strValue, err)
	}
	return result, nil
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Environment variables take precedence over the .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}

// splitList parses a comma-separated value, dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
