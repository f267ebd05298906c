package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken      string
	GitHubAPIURL     string
	GitHubGraphQLURL string

	// W3C group directory
	W3CAPIURL string

	// Cycle settings source; SettingsFile takes precedence over SettingsURL
	SettingsURL  string
	SettingsFile string

	// Publication
	Destination       string
	PublishRepository string
	PublishBranch     string
	Production        bool

	Debug bool

	// Default refresh cycle in hours, overridden by the cycle settings
	RefreshCycle int

	// Run history storage
	StorageType string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string
}

// Load loads the configuration from environment variables. Variables are first read from
// the given env files, or from .env when none is given.
func Load(files ...string) (*Config, error) {
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return nil, fmt.Errorf("failed to read env file: %w", err)
		}
	} else {
		// .env is optional
		_ = godotenv.Load()
	}

	return &Config{
		GitHubToken:       getEnv("GITHUB_TOKEN", ""),
		GitHubAPIURL:      getEnv("GITHUB_API_URL", "https://api.github.com/"),
		GitHubGraphQLURL:  getEnv("GITHUB_GRAPHQL_URL", "https://api.github.com/graphql"),
		W3CAPIURL:         getEnv("W3C_API_URL", "https://api.w3.org"),
		SettingsURL:       getEnv("SETTINGS_URL", "https://w3c.github.io/groups/settings.json"),
		SettingsFile:      getEnv("SETTINGS_FILE", ""),
		Destination:       getEnv("DESTINATION", "./data"),
		PublishRepository: getEnv("PUBLISH_REPOSITORY", "w3c/groups"),
		PublishBranch:     getEnv("PUBLISH_BRANCH", "main"),
		Production:        getEnvBool("PRODUCTION", false),
		Debug:             getEnvBool("DEBUG", false),
		RefreshCycle:      getEnvInt("REFRESH_CYCLE", 3),
		StorageType:       getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:        getEnv("SQLITE_PATH", "./groups.db"),
		PostgresURL:       getEnv("POSTGRES_URL", ""),
		APIPort:           getEnv("API_PORT", "8080"),
		APIHost:           getEnv("API_HOST", "localhost"),
		APIEndpoint:       getEnv("API_ENDPOINT", "http://localhost:8080"),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultValue
	}
	return v
}

// PublishOwnerRepo splits PublishRepository into owner and name
func (c *Config) PublishOwnerRepo() (string, string) {
	owner, name, _ := strings.Cut(c.PublishRepository, "/")
	return owner, name
}

// Validate validates the configuration needed to run cycles
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"}
	}
	if c.Destination == "" {
		return &ConfigError{Field: "DESTINATION", Message: "destination directory is required"}
	}
	if owner, name := c.PublishOwnerRepo(); c.Production && (owner == "" || name == "") {
		return &ConfigError{Field: "PUBLISH_REPOSITORY", Message: "must be 'owner/name' in production"}
	}
	if c.RefreshCycle < 1 || c.RefreshCycle > 24 {
		return &ConfigError{Field: "REFRESH_CYCLE", Message: "must be between 1 and 24 hours"}
	}
	return c.ValidateStorage()
}

// ValidateStorage validates the run history storage settings
func (c *Config) ValidateStorage() error {
	if c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite' or 'postgres'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
