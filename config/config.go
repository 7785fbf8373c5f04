// Package config reads the environment variables consumed by the pool managers and the bot
// into explicit config structs. Variable names are kept stable for deployed environments.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/sheetwithoutsheet/swscore"
)

// Postgres connection settings (POSTGRES_*).
type Postgres struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	MinConnections int
	MaxConnections int
}

// Redis connection settings (REDIS_*).
type Redis struct {
	Host     string
	Port     int
	Password string
	// URL is a redis:// URI. When set it overrides Host, Port and Password.
	URL string
	// Timeout bounds new connection creation. Zero leaves the driver default.
	Timeout        time.Duration
	MinConnections int
	MaxConnections int
}

// Telegram bot settings.
type Telegram struct {
	Token string
}

// Loader reads settings from .env files and the process environment.
type Loader struct {
	v *viper.Viper
}

// NewLoader loads the given dotenv files (".env" and ".env.local" when none are given) into the
// process environment, ignoring missing ones, and returns a Loader bound to the environment.
// Variables already present in the environment win over the files.
func NewLoader(envFiles ...string) *Loader {
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_CONNECTION_MIN_SIZE", 10)
	v.SetDefault("POSTGRES_CONNECTION_MAX_SIZE", 10)
	v.SetDefault("REDIS_CONNECTION_MIN_SIZE", 1)
	v.SetDefault("REDIS_CONNECTION_MAX_SIZE", 5)
	return &Loader{v: v}
}

// Postgres returns the relational pool settings. POSTGRES_USER, POSTGRES_PASSWORD and
// POSTGRES_DB are required.
func (l *Loader) Postgres() (Postgres, error) {
	if err := l.require("POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB"); err != nil {
		return Postgres{}, err
	}
	p := &numbers{v: l.v}
	pg := Postgres{
		Host:           l.v.GetString("POSTGRES_HOST"),
		Port:           p.int("POSTGRES_PORT"),
		User:           l.v.GetString("POSTGRES_USER"),
		Password:       l.v.GetString("POSTGRES_PASSWORD"),
		Database:       l.v.GetString("POSTGRES_DB"),
		MinConnections: p.int("POSTGRES_CONNECTION_MIN_SIZE"),
		MaxConnections: p.int("POSTGRES_CONNECTION_MAX_SIZE"),
	}
	if err := p.err(); err != nil {
		return Postgres{}, err
	}
	return pg, nil
}

// Redis returns the key-value pool settings. REDIS_HOST and REDIS_PORT are required unless
// REDIS_URL is set. REDIS_TIMEOUT is in seconds and may be fractional.
func (l *Loader) Redis() (Redis, error) {
	url := l.v.GetString("REDIS_URL")
	if url == "" {
		if err := l.require("REDIS_HOST", "REDIS_PORT"); err != nil {
			return Redis{}, err
		}
	}
	p := &numbers{v: l.v}
	r := Redis{
		Host:           l.v.GetString("REDIS_HOST"),
		Port:           p.int("REDIS_PORT"),
		Password:       l.v.GetString("REDIS_PASSWORD"),
		URL:            url,
		Timeout:        time.Duration(p.float("REDIS_TIMEOUT") * float64(time.Second)),
		MinConnections: p.int("REDIS_CONNECTION_MIN_SIZE"),
		MaxConnections: p.int("REDIS_CONNECTION_MAX_SIZE"),
	}
	if err := p.err(); err != nil {
		return Redis{}, err
	}
	return r, nil
}

// Telegram returns the bot settings. TELEGRAM_BOT_TOKEN is required.
func (l *Loader) Telegram() (Telegram, error) {
	if err := l.require("TELEGRAM_BOT_TOKEN"); err != nil {
		return Telegram{}, err
	}
	return Telegram{Token: l.v.GetString("TELEGRAM_BOT_TOKEN")}, nil
}

func (l *Loader) require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if strings.TrimSpace(l.v.GetString(k)) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return swscore.NewError(swscore.ConfigurationError,
		fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", ")), missing)
}

// numbers parses numeric settings strictly and remembers every one that did not parse.
type numbers struct {
	v       *viper.Viper
	invalid []string
}

func (n *numbers) int(key string) int {
	i, err := cast.ToIntE(n.v.Get(key))
	if err != nil {
		n.invalid = append(n.invalid, fmt.Sprintf("%s=%q", key, n.v.GetString(key)))
	}
	return i
}

func (n *numbers) float(key string) float64 {
	f, err := cast.ToFloat64E(n.v.Get(key))
	if err != nil {
		n.invalid = append(n.invalid, fmt.Sprintf("%s=%q", key, n.v.GetString(key)))
	}
	return f
}

func (n *numbers) err() error {
	if len(n.invalid) == 0 {
		return nil
	}
	return swscore.NewError(swscore.ConfigurationError,
		fmt.Errorf("invalid numeric environment variables: %s", strings.Join(n.invalid, ", ")), n.invalid)
}

// ErrMissing reports whether err is a configuration error about missing or malformed variables.
func ErrMissing(err error) bool {
	var e swscore.Error
	return errors.As(err, &e) && e.Code == swscore.ConfigurationError
}
