package persistence

import "time"

// CleanupConfig defines retention of completed threads
type CleanupConfig struct {
	// Enabled determines if automatic cleanup is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Interval is how often cleanup runs (default: 1h)
	Interval time.Duration `json:"interval" yaml:"interval"`

	// ThreadRetention is how long to keep completed threads (default: 7d)
	ThreadRetention time.Duration `json:"thread_retention" yaml:"thread_retention"`
}

// DefaultCleanupConfig returns the default cleanup configuration
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Enabled:         false,
		Interval:        1 * time.Hour,
		ThreadRetention: 7 * 24 * time.Hour,
	}
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	PoolSize int    `json:"pool_size" yaml:"pool_size"`
	TLS      bool   `json:"tls" yaml:"tls"`
}

// SQLStoreConfig contains GORM-specific configuration
type SQLStoreConfig struct {
	// Driver is one of postgres, mysql, sqlite
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`

	// AutoMigrate creates tables on open; production deployments use `hitlflow migrate`
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`

	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// MongoStoreConfig contains MongoDB-specific configuration
type MongoStoreConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	Database string `json:"database" yaml:"database"`
}

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// KeyPrefix namespaces Redis keys and Mongo/SQL table prefixes
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	Redis   RedisStoreConfig `json:"redis" yaml:"redis"`
	SQL     SQLStoreConfig   `json:"sql" yaml:"sql"`
	Mongo   MongoStoreConfig `json:"mongo" yaml:"mongo"`
	Cleanup CleanupConfig    `json:"cleanup" yaml:"cleanup"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      StoreTypeMemory,
		BaseDir:   "./data/state",
		KeyPrefix: "hitlflow:",
		Redis: RedisStoreConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		SQL: SQLStoreConfig{
			Driver:          "sqlite",
			DSN:             "file:./data/hitlflow.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Mongo: MongoStoreConfig{
			URI:      "mongodb://localhost:27017",
			Database: "hitlflow",
		},
		Cleanup: DefaultCleanupConfig(),
	}
}
