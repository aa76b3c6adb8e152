package task

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/config"
)

func newJobID() string { return uuid.NewString() }

var (
	activeMu sync.Mutex
	active   Processor
)

// Init selects the process-wide processor variant from configuration,
// exactly once. Unknown backend names fall over to the in-process variant
// rather than erroring. Subsequent calls return the cached processor.
func Init(cfg *config.Config, registry *Registry, log zerolog.Logger) Processor {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active != nil {
		return active
	}

	switch strings.ToLower(strings.TrimSpace(cfg.TaskBackend)) {
	case "redis", "distributed":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		active = NewRedis(client, log)
	case "", "inprocess", "sync":
		active = NewInProcess(registry, log)
	default:
		log.Warn().Str("backend", cfg.TaskBackend).Msg("unknown task backend, using inprocess")
		active = NewInProcess(registry, log)
	}
	return active
}

// Default returns the processor selected by Init. It panics when called
// before Init; startup wiring must run first.
func Default() Processor {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active == nil {
		panic("task: Default called before Init")
	}
	return active
}

// Reset clears the cached processor. Test setup only.
func Reset() {
	activeMu.Lock()
	defer activeMu.Unlock()
	active = nil
}

// SetForTesting installs an alternate processor without going through
// configuration.
func SetForTesting(p Processor) {
	activeMu.Lock()
	defer activeMu.Unlock()
	active = p
}
