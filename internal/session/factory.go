package session

import (
	"fmt"

	"github.com/amoylab/gameroom/internal/common/config"

	"go.uber.org/zap"
)

// NewStore creates a new session store based on configuration
func NewStore(logger *zap.Logger, cfg *config.StoreConfig) (Store, error) {
	logger.Info("Initializing session store", zap.String("type", cfg.Type))
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(logger), nil
	case "redis":
		return NewRedisStore(logger, cfg.Redis)
	case "db":
		return NewDBStore(logger, &cfg.Database)
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", cfg.Type)
	}
}
