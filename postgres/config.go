package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sheetwithoutsheet/swscore"
	"github.com/sheetwithoutsheet/swscore/config"
)

// DefaultTimeout bounds Execute, Fetch and FetchOne when no explicit timeout is given.
const DefaultTimeout = 5 * time.Second

// Config contains configuration for connecting to a PostgreSQL server.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	// MinConnections is the number of connections the pool keeps open. Defaults to 10.
	MinConnections int
	// MaxConnections caps the pool. Defaults to 10.
	MaxConnections int
	// ConnectTimeout bounds dialing a single connection. Zero leaves the driver default.
	ConnectTimeout time.Duration
	// ConnectAttempts is how many times Create tries to reach the server. Values below 2 mean no retry.
	ConnectAttempts int
}

// DefaultConfig returns a Config with localhost defaults. User, Password and Database still need to be set.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           5432,
		MinConnections: 10,
		MaxConnections: 10,
	}
}

// ConfigFromEnv reads POSTGRES_* variables through l.
func ConfigFromEnv(l *config.Loader) (Config, error) {
	pg, err := l.Postgres()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Host:           pg.Host,
		Port:           pg.Port,
		Database:       pg.Database,
		User:           pg.User,
		Password:       pg.Password,
		MinConnections: pg.MinConnections,
		MaxConnections: pg.MaxConnections,
	}, nil
}

func (c Config) validate() error {
	var errs []error
	if c.User == "" {
		errs = append(errs, errors.New("user is required"))
	}
	if c.Password == "" {
		errs = append(errs, errors.New("password is required"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if len(errs) > 0 {
		return swscore.NewError(swscore.ConfigurationError, errors.Join(errs...), nil)
	}
	return nil
}

// poolConfig translates c into a pgxpool configuration, applying defaults.
func (c Config) poolConfig() (*pgxpool.Config, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	if c.MinConnections < 0 {
		c.MinConnections = 0
	}
	if c.MinConnections > c.MaxConnections {
		c.MinConnections = c.MaxConnections
	}

	pc, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, swscore.NewError(swscore.ConfigurationError, err, nil)
	}
	pc.ConnConfig.Host = c.Host
	pc.ConnConfig.Port = uint16(c.Port)
	pc.ConnConfig.Database = c.Database
	pc.ConnConfig.User = c.User
	pc.ConnConfig.Password = c.Password
	if c.ConnectTimeout > 0 {
		pc.ConnConfig.ConnectTimeout = c.ConnectTimeout
	}
	pc.MinConns = int32(c.MinConnections)
	pc.MaxConns = int32(c.MaxConnections)
	return pc, nil
}

func (c Config) address() string {
	return fmt.Sprintf("%s:%d/%s", c.Host, c.Port, c.Database)
}
