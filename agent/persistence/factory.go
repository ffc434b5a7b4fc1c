package persistence

import (
	"fmt"

	"github.com/BaSui01/hitlflow/internal/database"
	"go.uber.org/zap"
)

// NewStateStore creates a new StateStore based on the configuration
func NewStateStore(config StoreConfig, logger *zap.Logger) (StateStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("opening state store", zap.String("type", string(config.Type)))

	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryStateStore(), nil
	case StoreTypeFile:
		return NewFileStateStore(config)
	case StoreTypeRedis:
		return NewRedisStateStore(config)
	case StoreTypeSQL:
		db, err := database.Open(config.SQL.Driver, config.SQL.DSN)
		if err != nil {
			return nil, err
		}
		pool, err := database.NewPoolManager(db, database.PoolConfig{
			MaxOpenConns:        config.SQL.MaxOpenConns,
			MaxIdleConns:        config.SQL.MaxIdleConns,
			ConnMaxLifetime:     config.SQL.ConnMaxLifetime,
			HealthCheckInterval: database.DefaultPoolConfig().HealthCheckInterval,
		}, logger)
		if err != nil {
			return nil, err
		}
		return NewSQLStateStore(pool, config.SQL.AutoMigrate)
	case StoreTypeMongo:
		return NewMongoStateStore(config)
	default:
		return nil, fmt.Errorf("unsupported state store type: %s", config.Type)
	}
}

// MustNewStateStore creates a new StateStore or panics on error.
//
// WARNING: This function should ONLY be used during application initialization
// (e.g., in main() or init()). For runtime store creation, use NewStateStore instead.
func MustNewStateStore(config StoreConfig, logger *zap.Logger) StateStore {
	store, err := NewStateStore(config, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create state store: %v", err))
	}
	return store
}
