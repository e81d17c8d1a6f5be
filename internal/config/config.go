package config

import (
	"os"
	"path/filepath"
)

// Config holds all application configuration
type Config struct {
	Port       string // Panel HTTP port
	DBPath     string // SQLite database path
	JWTSecret  string // JWT signing secret
	DataDir    string // Data directory root
	ComposeDir string // Directory holding one subdirectory per stack
	DockerBin  string // Docker CLI binary
	DockerSock string // Docker daemon socket path
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	dataDir := envOrDefault("MINIMAN_DATA_DIR", "./data")

	cfg := &Config{
		Port:       envOrDefault("MINIMAN_PORT", "8080"),
		DBPath:     envOrDefault("MINIMAN_DB_PATH", filepath.Join(dataDir, "miniman.db")),
		JWTSecret:  envOrDefault("MINIMAN_JWT_SECRET", "miniman-change-me-in-production"),
		DataDir:    dataDir,
		ComposeDir: envOrDefault("MINIMAN_COMPOSE_DIR", filepath.Join(dataDir, "docker-compose")),
		DockerBin:  envOrDefault("MINIMAN_DOCKER_BIN", "docker"),
		DockerSock: envOrDefault("MINIMAN_DOCKER_SOCK", "/var/run/docker.sock"),
	}

	// Ensure directories exist
	os.MkdirAll(dataDir, 0755)
	os.MkdirAll(cfg.ComposeDir, 0755)

	return cfg
}

func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
