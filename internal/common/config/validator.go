package config

import (
	"fmt"
	"strings"
)

// ValidationError lists every invalid field of a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid configuration")
	for _, p := range e.Problems {
		sb.WriteString("\n--> ")
		sb.WriteString(p)
	}
	return sb.String()
}

// Validate checks a configuration after defaults have been applied
func (c *GameRoomConfig) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port %d is out of range", c.Server.Port)
	}
	switch c.Store.Type {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			add("store.redis.addr is required for the redis store")
		}
	case "db":
		switch c.Store.Database.Type {
		case "sqlite", "mysql", "postgres":
		default:
			add("store.database.type %q is not one of sqlite, mysql, postgres", c.Store.Database.Type)
		}
		if c.Store.Database.DBName == "" {
			add("store.database.dbname is required for the db store")
		}
	default:
		add("store.type %q is not one of memory, redis, db", c.Store.Type)
	}
	if len(c.JWT.SecretKey) < 32 {
		add("jwt.secret_key must be at least 32 characters")
	}
	if c.Lifecycle.Retention < c.Lifecycle.IdleTimeout {
		add("lifecycle.retention %s is shorter than lifecycle.idle_timeout %s", c.Lifecycle.Retention, c.Lifecycle.IdleTimeout)
	}
	if c.Tracing.Enabled && c.Tracing.Protocol != "" && c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		add("tracing.protocol %q is not one of grpc, http", c.Tracing.Protocol)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
