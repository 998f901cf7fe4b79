package common

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Agent    AgentConfig
	Storage  StorageConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// AgentConfig holds the external analysis agent configuration. APIKey and
// BaseURL are handed to the subprocess through flags and environment; the
// orchestrator itself never calls the API.
type AgentConfig struct {
	Binary          string
	Role            string
	APIKey          string
	BaseURL         string
	MaxOutputTokens int
	KillGracePeriod time.Duration
}

// StorageConfig holds the filesystem layout for job execution.
type StorageConfig struct {
	WorkDir    string // ephemeral per-job workspaces: <WorkDir>/<jobID>/<repoName>/
	ReportsDir string // durable report artifacts: <ReportsDir>/<jobID>/<filename>
	UploadDir  string // staged archives and extraction scratch space
}

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory is applied first when present; real environment
// variables win over file entries.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Agent: AgentConfig{
			Binary:          getEnv("AGENT_BINARY", "analysis-agent"),
			Role:            getEnv("AGENT_ROLE", "security-auditor"),
			APIKey:          getEnv("ANTHROPIC_API_KEY", ""),
			BaseURL:         getEnv("ANTHROPIC_BASE_URL", ""),
			MaxOutputTokens: getEnvAsInt("AGENT_MAX_OUTPUT_TOKENS", 0),
			KillGracePeriod: getEnvAsDuration("AGENT_KILL_GRACE_PERIOD", 5*time.Second),
		},
		Storage: StorageConfig{
			WorkDir:    getEnv("AUDIT_WORK_DIR", "./work"),
			ReportsDir: getEnv("AUDIT_REPORTS_DIR", "./reports"),
			UploadDir:  getEnv("AUDIT_UPLOAD_DIR", "./uploads"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Agent.Binary == "" {
		return NewAppError("CONFIG_ERROR", "AGENT_BINARY is required", ErrInvalidInput)
	}
	if c.Storage.WorkDir == "" || c.Storage.ReportsDir == "" || c.Storage.UploadDir == "" {
		return NewAppError("CONFIG_ERROR", "storage directories are required", ErrInvalidInput)
	}
	return nil
}

// ValidateAgentCredentials checks the credentials needed before launching
// the agent. Kept separate from Validate so jobs can be accepted while the
// key is rotated; the failure then lands on the job record, not the server.
func (c *Config) ValidateAgentCredentials() error {
	if c.Agent.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "ANTHROPIC_API_KEY is not configured", ErrConfiguration)
	}
	return nil
}
