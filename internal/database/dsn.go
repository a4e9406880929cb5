package database

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// buildPostgresDSN renders a postgres:// URL. Credentials and options are
// escaped by net/url, so passwords may contain any character.
func buildPostgresDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", fmt.Errorf("%w: postgres requires user and database name", errUnsupportedConfig)
	}

	query := url.Values{}
	for key, value := range cfg.Options {
		query.Set(key, value)
	}
	if query.Get("sslmode") == "" {
		query.Set("sslmode", "disable")
	}
	query.Set("timezone", "UTC")

	dsn := url.URL{
		Scheme:   "postgres",
		Host:     hostPort(cfg, "localhost", 5432),
		Path:     "/" + cfg.Name,
		RawQuery: query.Encode(),
	}
	if cfg.Password != "" {
		dsn.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		dsn.User = url.User(cfg.User)
	}
	return dsn.String(), nil
}

// buildMySQLDSN renders a go-sql-driver DSN. Times are parsed into UTC so
// session expiry comparisons agree with the application clock.
func buildMySQLDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", fmt.Errorf("%w: mysql requires user and database name", errUnsupportedConfig)
	}

	mc := mysqldriver.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = hostPort(cfg, "127.0.0.1", 3306)
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	for key, value := range cfg.Options {
		mc.Params[key] = value
	}
	return mc.FormatDSN(), nil
}

func hostPort(cfg Config, defaultHost string, defaultPort int) string {
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
