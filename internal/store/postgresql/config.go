package postgresql

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

type Config struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ToMap prefers an explicit DSN; otherwise it builds one from the components
// when a host is given.
func (p *Config) ToMap() map[string]interface{} {
	dsn := strings.TrimSpace(p.DSN)
	host := strings.TrimSpace(p.Host)
	if dsn == "" && host != "" {
		port := p.Port
		if port == 0 {
			port = defaultPort
		}
		ssl := strings.TrimSpace(p.SSLMode)
		if ssl == "" {
			ssl = defaultSSLMode
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(strings.TrimSpace(p.User), p.Password),
			Host:     fmt.Sprintf("%s:%d", host, port),
			Path:     "/" + strings.TrimSpace(p.DBName),
			RawQuery: "sslmode=" + url.QueryEscape(ssl),
		}
		dsn = u.String()
	}
	return map[string]interface{}{
		"dsn": dsn,
	}
}
