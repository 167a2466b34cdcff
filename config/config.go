package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	TokenTTLHours      int
	RateLimitPerMinute int
	AllowedOrigins     []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Feed and vote ledger
	FeedDefaultLimit int
	FeedMaxLimit     int
	VoteMaxRetries   int
	// Redis for token blacklist, reset tokens and profile cache
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// SMTP for password reset mails
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPTLS      bool
	// Password reset
	ResetTokenTTLMinutes int
	ResetURLBase         string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: .env -> config/config.json -> defaults -> environment variable overrides
	_ = godotenv.Load()

	if err := loadJSONConfig(filepath.Join("config", "config.json"), &cfg); err != nil {
		log.Printf("config.json ignored: %v", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// Set replaces the cached configuration. Used by tests and embedded setups that do not read the environment.
func Set(c AppConfig) {
	applyDefaults(&c)
	cfg = c
	loaded = true
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads JSON file into cfg if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	// Grouped sections are optional; flat keys at the top level are read the same way.
	sections := []map[string]any{raw}
	for _, name := range []string{"app", "database", "feed", "redis", "smtp", "log"} {
		if m, ok := raw[name].(map[string]any); ok {
			sections = append(sections, m)
		}
	}

	for _, m := range sections {
		setString(m, "AppPort", &out.AppPort)
		setString(m, "JWTSecret", &out.JWTSecret)
		setInt(m, "TokenTTLHours", &out.TokenTTLHours)
		setInt(m, "RateLimitPerMinute", &out.RateLimitPerMinute)
		setStrings(m, "AllowedOrigins", &out.AllowedOrigins)
		setString(m, "GinMode", &out.GinMode)
		setString(m, "GinPath", &out.GinPath)

		setString(m, "DBDriver", &out.DBDriver)
		setString(m, "DatabaseURI", &out.DatabaseURI)
		setString(m, "DBHost", &out.DBHost)
		setString(m, "DBPort", &out.DBPort)
		setString(m, "DBUser", &out.DBUser)
		setString(m, "DBPassword", &out.DBPassword)
		setString(m, "DBName", &out.DBName)

		setInt(m, "FeedDefaultLimit", &out.FeedDefaultLimit)
		setInt(m, "FeedMaxLimit", &out.FeedMaxLimit)
		setInt(m, "VoteMaxRetries", &out.VoteMaxRetries)

		setString(m, "RedisHost", &out.RedisHost)
		setInt(m, "RedisPort", &out.RedisPort)
		setInt(m, "RedisDB", &out.RedisDB)
		setString(m, "RedisPassword", &out.RedisPassword)

		setString(m, "SMTPHost", &out.SMTPHost)
		setInt(m, "SMTPPort", &out.SMTPPort)
		setString(m, "SMTPUsername", &out.SMTPUsername)
		setString(m, "SMTPPassword", &out.SMTPPassword)
		setString(m, "SMTPFrom", &out.SMTPFrom)
		setString(m, "SMTPFromName", &out.SMTPFromName)
		setBool(m, "SMTPTLS", &out.SMTPTLS)

		setInt(m, "ResetTokenTTLMinutes", &out.ResetTokenTTLMinutes)
		setString(m, "ResetURLBase", &out.ResetURLBase)

		setString(m, "LogLevel", &out.LogLevel)
		setString(m, "LogPath", &out.LogPath)
		setInt(m, "LogMaxSizeMB", &out.LogMaxSizeMB)
		setInt(m, "LogMaxBackups", &out.LogMaxBackups)
		setInt(m, "LogMaxAgeDays", &out.LogMaxAgeDays)
		setBool(m, "LogCompress", &out.LogCompress)
	}
	return nil
}

func setString(m map[string]any, key string, dst *string) {
	if s, ok := m[key].(string); ok && s != "" {
		*dst = s
	}
}

func setInt(m map[string]any, key string, dst *int) {
	if f, ok := m[key].(float64); ok && f != 0 {
		*dst = int(f)
	}
}

func setBool(m map[string]any, key string, dst *bool) {
	if b, ok := m[key].(bool); ok {
		*dst = b
	}
}

func setStrings(m map[string]any, key string, dst *[]string) {
	arr, ok := m[key].([]any)
	if !ok {
		return
	}
	res := make([]string, 0, len(arr))
	for _, it := range arr {
		if s, ok := it.(string); ok {
			res = append(res, s)
		}
	}
	if len(res) > 0 {
		*dst = res
	}
}

func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "4000"
	}
	if c.TokenTTLHours == 0 {
		c.TokenTTLHours = 72
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 120
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/gin.log"
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		switch c.DBDriver {
		case "postgres":
			c.DBPort = "5432"
		default:
			c.DBPort = "3306"
		}
	}
	if c.DBName == "" {
		c.DBName = "updoot"
	}
	if c.FeedDefaultLimit == 0 {
		c.FeedDefaultLimit = 10
	}
	if c.FeedMaxLimit == 0 {
		c.FeedMaxLimit = 50
	}
	if c.VoteMaxRetries == 0 {
		c.VoteMaxRetries = 5
	}
	// Empty RedisHost disables Redis; stores fall back to process memory.
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
	if c.ResetTokenTTLMinutes == 0 {
		c.ResetTokenTTLMinutes = 6 * 60
	}
	if c.ResetURLBase == "" {
		c.ResetURLBase = "http://localhost:3000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogPath == "" {
		c.LogPath = "logs/app.log"
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("TOKEN_TTL_HOURS", ""); v != "" {
		c.TokenTTLHours = mustParseInt(v)
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("DB_DRIVER", ""); v != "" {
		c.DBDriver = strings.ToLower(v)
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("FEED_DEFAULT_LIMIT", ""); v != "" {
		c.FeedDefaultLimit = mustParseInt(v)
	}
	if v := getEnv("FEED_MAX_LIMIT", ""); v != "" {
		c.FeedMaxLimit = mustParseInt(v)
	}
	if v := getEnv("VOTE_MAX_RETRIES", ""); v != "" {
		c.VoteMaxRetries = mustParseInt(v)
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("SMTP_HOST", ""); v != "" {
		c.SMTPHost = v
	}
	if v := getEnv("SMTP_PORT", ""); v != "" {
		c.SMTPPort = mustParseInt(v)
	}
	if v := getEnv("SMTP_USERNAME", ""); v != "" {
		c.SMTPUsername = v
	}
	if v := getEnv("SMTP_PASSWORD", ""); v != "" {
		c.SMTPPassword = v
	}
	if v := getEnv("SMTP_FROM", ""); v != "" {
		c.SMTPFrom = v
	}
	if v := getEnv("SMTP_FROM_NAME", ""); v != "" {
		c.SMTPFromName = v
	}
	if v := getEnv("SMTP_TLS", ""); v != "" {
		c.SMTPTLS = parseBool(v)
	}
	if v := getEnv("RESET_TOKEN_TTL_MINUTES", ""); v != "" {
		c.ResetTokenTTLMinutes = mustParseInt(v)
	}
	if v := getEnv("RESET_URL_BASE", ""); v != "" {
		c.ResetURLBase = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = parseBool(v)
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		log.Fatalf("invalid integer value %q: %v", val, err)
	}
	return i
}

func parseBool(val string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	return err == nil && b
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
