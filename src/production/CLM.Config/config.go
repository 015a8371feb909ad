package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AgentConfig holds all configuration for the claim agent
type AgentConfig struct {
	// Local management HTTP server configuration
	Server ServerConfig `json:"server"`

	// Cloud API configuration
	Cloud CloudConfig `json:"cloud"`

	// MQTT configuration (broker fallback and listener tuning)
	MQTT MQTTConfig `json:"mqtt"`

	// Claiming lifecycle configuration
	Claiming ClaimingConfig `json:"claiming"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// CORS configuration for the local management API
	CORS CORSConfig `json:"cors"`
}

// ServerConfig holds local HTTP server configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// CloudConfig holds cloud API related configuration
type CloudConfig struct {
	BaseURL        string        `json:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
	VerifyTimeout  time.Duration `json:"verify_timeout"`
}

// MQTTConfig holds MQTT listener related configuration
type MQTTConfig struct {
	UseTLS        bool          `json:"use_tls"`
	CACertPath    string        `json:"ca_cert_path"`
	KeepAlive     time.Duration `json:"keep_alive"`
	PingTimeout   time.Duration `json:"ping_timeout"`
	TopicPrefix   string        `json:"topic_prefix"`
	RetryInterval time.Duration `json:"retry_interval"`
}

// ClaimingConfig holds claiming window and button configuration
type ClaimingConfig struct {
	WindowDuration  time.Duration `json:"window_duration"`
	PollInterval    time.Duration `json:"poll_interval"`
	HoldThreshold   time.Duration `json:"hold_threshold"`
	ButtonSample    time.Duration `json:"button_sample"`
	ButtonPath      string        `json:"button_path"`
	ButtonActiveLow bool          `json:"button_active_low"`
	DiscoveryName   string        `json:"discovery_name"`
	DiscoveryDomain string        `json:"discovery_domain"`
}

// StorageConfig holds local persistence configuration
type StorageConfig struct {
	Path string `json:"path"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout or stderr
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// LoadAgentConfig loads configuration from environment variables with
// fallback defaults
func LoadAgentConfig() (*AgentConfig, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	if err := godotenv.Load(); err != nil {
		// Environment variables set directly still apply
	}

	config := &AgentConfig{
		Server: ServerConfig{
			Port:         getEnv("PORT", "9010"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		Cloud: CloudConfig{
			BaseURL:        getEnv("CLOUD_API_URL", "https://api.maplesense.io"),
			RequestTimeout: getDuration("CLOUD_REQUEST_TIMEOUT", 10*time.Second),
			VerifyTimeout:  getDuration("CLOUD_VERIFY_TIMEOUT", 8*time.Second),
		},
		MQTT: MQTTConfig{
			UseTLS:        getBool("BROKER_TLS", false),
			CACertPath:    getEnv("BROKER_CA_FILE", ""),
			KeepAlive:     getDuration("MQTT_KEEP_ALIVE", 30*time.Second),
			PingTimeout:   getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
			TopicPrefix:   getEnv("MQTT_TOPIC_PREFIX", "devices"),
			RetryInterval: getDuration("MQTT_RETRY_INTERVAL", 5*time.Second),
		},
		Claiming: ClaimingConfig{
			WindowDuration:  getDuration("CLAIM_WINDOW_DURATION", 10*time.Minute),
			PollInterval:    getDuration("CLAIM_POLL_INTERVAL", 5*time.Second),
			HoldThreshold:   getDuration("CLAIM_HOLD_THRESHOLD", 5*time.Second),
			ButtonSample:    getDuration("CLAIM_BUTTON_SAMPLE", 100*time.Millisecond),
			ButtonPath:      getEnv("CLAIM_BUTTON_GPIO_PATH", ""),
			ButtonActiveLow: getBool("CLAIM_BUTTON_ACTIVE_LOW", false),
			DiscoveryName:   getEnv("DISCOVERY_SERVICE", "_maplesense._tcp"),
			DiscoveryDomain: getEnv("DISCOVERY_DOMAIN", "local."),
		},
		Storage: StorageConfig{
			Path: getEnv("AGENT_DB_PATH", "/var/lib/maplesense/agent.db"),
		},
		Logging: LoggingConfig{
			Level:        getEnv("LOG_LEVEL", "info"),
			Format:       getEnv("LOG_FORMAT", "text"),
			Output:       getEnv("LOG_OUTPUT", "stdout"),
			EnableCaller: getBool("LOG_ENABLE_CALLER", false),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   getStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept"}),
			ExposedHeaders:   getStringSlice("CORS_EXPOSED_HEADERS", []string{"Content-Length"}),
			AllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getInt("CORS_MAX_AGE", 43200), // 12 hours
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *AgentConfig) Validate() error {
	if c.Cloud.BaseURL == "" {
		return fmt.Errorf("CLOUD_API_URL is required")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("AGENT_DB_PATH is required")
	}
	if c.Claiming.WindowDuration < time.Minute {
		log.Println("WARNING: CLAIM_WINDOW_DURATION below one minute; companion apps may not find the device in time")
	}
	if c.Claiming.PollInterval <= 0 {
		return fmt.Errorf("CLAIM_POLL_INTERVAL must be positive")
	}
	if c.Claiming.HoldThreshold <= 0 {
		return fmt.Errorf("CLAIM_HOLD_THRESHOLD must be positive")
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return intValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if value == "1" || value == "true" || value == "TRUE" {
		return true
	}
	if value == "0" || value == "false" || value == "FALSE" {
		return false
	}
	log.Fatalf("invalid %s: %q (expected true/false or 1/0)", key, value)
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return duration
}

func getStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range splitString(value, ",") {
		if trimmed := trimString(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Simple string splitting and trimming helpers
func splitString(s, sep string) []string {
	if s == "" {
		return []string{}
	}
	parts := make([]string, 0)
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			parts = append(parts, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func trimString(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}
