package state

import (
	"fmt"

	"github.com/nudgebot-dev/nudgebot/pkg/config"
)

// New builds the backend selected by the configuration.
func New(cfg config.StateConfig) (Store, error) {
	switch cfg.Backend {
	case "file":
		return NewFileStore(cfg.Path)
	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisKey)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown state backend: %s", cfg.Backend)
	}
}
