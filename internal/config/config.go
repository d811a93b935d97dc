// Package config provides application configuration.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	StoreEnabled    bool
	Workspace       WorkspaceConfig
	Model           ModelConfig
	Agent           AgentConfig
	ConversationLog ConversationLogConfig
}

// WorkspaceConfig defines the sandbox root.
type WorkspaceConfig struct {
	Root string
	// ResolveSymlinks evaluates symlinks scoped to Root before any access.
	ResolveSymlinks bool
}

// ModelConfig points at an OpenAI-compatible chat completions server.
type ModelConfig struct {
	BaseURL string
	Name    string
	APIKey  string
	Timeout time.Duration
}

// AgentConfig controls the conversation loop.
type AgentConfig struct {
	MaxIterations    int
	SystemPromptFile string
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8081"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/fsagent.db"),
		StoreEnabled: getEnvBool("STORE_ENABLED", true),
		Workspace: WorkspaceConfig{
			Root:            getEnv("WORKSPACE_ROOT", "./workspace"),
			ResolveSymlinks: getEnvBool("SANDBOX_RESOLVE_SYMLINKS", false),
		},
		Model: ModelConfig{
			BaseURL: getEnv("MODEL_BASE_URL", "http://127.0.0.1:8080/v1"),
			Name:    getEnv("MODEL_NAME", "qwen2.5-coder-7b"),
			APIKey:  getEnv("MODEL_API_KEY", ""),
			Timeout: getEnvDuration("MODEL_TIMEOUT", 120*time.Second),
		},
		Agent: AgentConfig{
			MaxIterations:    getEnvInt("AGENT_MAX_ITERATIONS", 25),
			SystemPromptFile: getEnv("AGENT_SYSTEM_PROMPT_FILE", ""),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Workspace.Root) == "" {
		return fmt.Errorf("WORKSPACE_ROOT cannot be empty")
	}
	if c.Model.BaseURL == "" {
		return fmt.Errorf("MODEL_BASE_URL cannot be empty")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("MODEL_NAME cannot be empty")
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be > 0")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("AGENT_MAX_ITERATIONS must be > 0")
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.StoreEnabled && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// ValidateServe checks settings only the HTTP server depends on. A model
// server on loopback must not share the port the API listens on.
func (c *Config) ValidateServe() error {
	u, err := url.Parse(c.Model.BaseURL)
	if err != nil {
		return fmt.Errorf("MODEL_BASE_URL is not a valid URL: %w", err)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	if port != c.Port {
		return nil
	}
	host := u.Hostname()
	if host == "localhost" || host == "" {
		return fmt.Errorf("MODEL_BASE_URL %s points at PORT %s", c.Model.BaseURL, c.Port)
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsUnspecified()) {
		return fmt.Errorf("MODEL_BASE_URL %s points at PORT %s", c.Model.BaseURL, c.Port)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the HTTP API.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
