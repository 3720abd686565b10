package config

import (
	"os"
	"strconv"
	"strings"
)

// Storage backends
const (
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
)

type Config struct {
	Port         string
	Environment  string
	DatabaseName string // path segment the store is served under, e.g. /docstore/_changes
	// Storage
	StorageBackend string
	DataDir        string // leveldb files and attachment blobs
	DatabaseURL    string
	TablePrefix    string
	// HTTP
	CORSOrigins string
	JWKSURL     string // empty disables bearer auth
	// Logging
	LogDir      string
	LogMaxFiles int
	// Replication
	ReplicationConfig           string // path to the jobs YAML file, optional
	ReplicationBatchSize        int
	ReplicationFetchConcurrency int
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:                        getEnv("PORT", "5984"),
		Environment:                 env,
		DatabaseName:                getEnv("DATABASE_NAME", "docstore"),
		StorageBackend:              strings.ToLower(getEnv("STORAGE_BACKEND", BackendLevelDB)),
		DataDir:                     getEnv("DATA_DIR", "./data"),
		DatabaseURL:                 getEnv("DATABASE_URL", ""),
		TablePrefix:                 getTablePrefix(env),
		CORSOrigins:                 getEnv("CORS_ORIGINS", "http://localhost:3000"),
		JWKSURL:                     getEnv("AUTH_JWKS_URL", ""),
		LogDir:                      getEnv("LOG_DIR", ""),
		LogMaxFiles:                 getEnvInt("LOG_MAX_FILES", 10),
		ReplicationConfig:           getEnv("REPLICATION_CONFIG", ""),
		ReplicationBatchSize:        getEnvInt("REPLICATION_BATCH_SIZE", DefaultReplicationBatchSize),
		ReplicationFetchConcurrency: getEnvInt("REPLICATION_FETCH_CONCURRENCY", DefaultFetchConcurrency),
	}
}

// CORSOriginList splits the comma separated CORS_ORIGINS value.
func (c *Config) CORSOriginList() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}
