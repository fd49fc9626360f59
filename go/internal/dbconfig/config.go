package dbconfig

import (
	"net"
	"net/url"
	"os"
	"strconv"
)

// Config holds Postgres connection settings for the sync agent and the seed
// tool. URL, when set, takes precedence over the individual fields.
type Config struct {
	URL             string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	ApplicationName string
	ConnectTimeout  int
}

// NewConfigFromEnv reads DATABASE_URL and the DB_* variables.
func NewConfigFromEnv() Config {
	return Config{
		URL:             os.Getenv("DATABASE_URL"),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", "postgres"),
		Database:        getEnv("DB_NAME", "cardsync"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		ApplicationName: getEnv("DB_APPLICATION_NAME", ""),
		ConnectTimeout:  getEnvAsInt("DB_CONNECT_TIMEOUT", 0),
	}
}

// DSN returns the Postgres connection URL with credentials escaped.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(c.ConnectTimeout))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
