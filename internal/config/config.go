package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process-wide settings read from the environment once at
// startup. Flags on the serve command override the listen port and data dir.
type Config struct {
	DataDir       string
	Port          int
	TaskBackend   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SecretKey     string

	PortRangeStart int
	PortRangeEnd   int

	StaleThreshold time.Duration
	SweepInterval  time.Duration

	CommandTimeout time.Duration

	SupervisorUnitDir string
	ProxyConfDir      string
}

func FromEnv() *Config {
	return &Config{
		DataDir:           envString("WEBOPS_DATA_DIR", "./data"),
		Port:              envInt("WEBOPS_PORT", 8080),
		TaskBackend:       envString("WEBOPS_TASK_BACKEND", "inprocess"),
		RedisAddr:         envString("WEBOPS_REDIS_ADDR", "localhost:6379"),
		RedisPassword:     envString("WEBOPS_REDIS_PASSWORD", ""),
		RedisDB:           envInt("WEBOPS_REDIS_DB", 0),
		SecretKey:         envString("WEBOPS_SECRET_KEY", ""),
		PortRangeStart:    envInt("WEBOPS_PORT_RANGE_START", 8100),
		PortRangeEnd:      envInt("WEBOPS_PORT_RANGE_END", 8999),
		StaleThreshold:    envDuration("WEBOPS_STALE_THRESHOLD", time.Hour),
		SweepInterval:     envDuration("WEBOPS_SWEEP_INTERVAL", 5*time.Minute),
		CommandTimeout:    envDuration("WEBOPS_COMMAND_TIMEOUT", 15*time.Minute),
		SupervisorUnitDir: envString("WEBOPS_UNIT_DIR", "/etc/systemd/system"),
		ProxyConfDir:      envString("WEBOPS_PROXY_CONF_DIR", "/etc/nginx/conf.d"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
