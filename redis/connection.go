package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	log "log/slog"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sheetwithoutsheet/swscore"
	"github.com/sheetwithoutsheet/swscore/config"
)

// Config holds configuration for connecting to a Redis server.
type Config struct {
	// Host and Port of the Redis server.
	Host string
	Port int
	// Password used to authenticate, empty for none.
	Password string
	// URL is a redis:// URI. If provided, it overrides Host, Port, Password and DB.
	URL string
	// DB is the database index to select.
	DB int
	// TLSConfig contains TLS configuration for secure connections.
	TLSConfig *tls.Config
	// Timeout bounds new connection creation. Zero leaves the driver default.
	Timeout time.Duration
	// MinConnections is the number of idle connections kept open. Defaults to 1.
	MinConnections int
	// MaxConnections caps the pool. Defaults to 5.
	MaxConnections int
	// ConnectAttempts is how many times Create tries to reach the server. Values below 2 mean no retry.
	ConnectAttempts int
}

// DefaultConfig returns a Config with localhost defaults (no password, DB 0).
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           6379,
		MinConnections: 1,
		MaxConnections: 5,
	}
}

// ConfigFromEnv reads REDIS_* variables through l.
func ConfigFromEnv(l *config.Loader) (Config, error) {
	r, err := l.Redis()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Host:           r.Host,
		Port:           r.Port,
		Password:       r.Password,
		URL:            r.URL,
		Timeout:        r.Timeout,
		MinConnections: r.MinConnections,
		MaxConnections: r.MaxConnections,
	}, nil
}

func (c Config) address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// options translates c into go-redis options, applying defaults.
func (c Config) options() (*redis.Options, error) {
	var opts *redis.Options
	if c.URL != "" {
		o, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, swscore.NewError(swscore.ConfigurationError, fmt.Errorf("failed to parse redis url: %w", err), nil)
		}
		opts = o
	} else {
		if c.Host == "" || c.Port == 0 {
			return nil, swscore.NewError(swscore.ConfigurationError, fmt.Errorf("redis host and port are required"), nil)
		}
		opts = &redis.Options{
			Addr:      c.address(),
			Password:  c.Password,
			DB:        c.DB,
			TLSConfig: c.TLSConfig,
		}
	}
	if c.Timeout > 0 {
		opts.DialTimeout = c.Timeout
	}
	maxConns := c.MaxConnections
	if maxConns <= 0 {
		maxConns = 5
	}
	minConns := c.MinConnections
	if minConns > maxConns {
		minConns = maxConns
	}
	if minConns < 0 {
		minConns = 0
	}
	opts.PoolSize = maxConns
	opts.MinIdleConns = minConns
	opts.OnConnect = func(ctx context.Context, cn *redis.Conn) error {
		log.Debug("Redis connected")
		return nil
	}
	return opts, nil
}
