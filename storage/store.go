package storage

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"hostmon/format"
)

// Store abstracts the relational back-end samples are inserted into.
type Store interface {
	// Write executes one insert and commits it. Failures are returned as
	// *sink.PersistenceError with Sink == sink.Database.
	Write(ctx context.Context, st format.Statement) error
}

// Supported driver names, as registered with database/sql.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Params are the connection settings of a datastore.
type Params struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string // postgres only
	Path     string // sqlite only
}

// DialectFor returns the placeholder dialect of a driver.
func DialectFor(driver string) (format.Dialect, error) {
	switch driver {
	case DriverSQLite, DriverMySQL:
		return format.QuestionMark, nil
	case DriverPostgres:
		return format.Dollar, nil
	}
	return 0, fmt.Errorf("unsupported database driver %q", driver)
}

// DSN builds the data source name for driver from p.
func DSN(driver string, p Params) (string, error) {
	switch driver {
	case DriverSQLite:
		if p.Path == "" {
			return "", fmt.Errorf("sqlite path must not be empty")
		}
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", p.Path), nil

	case DriverPostgres:
		q := url.Values{}
		if p.SSLMode != "" {
			q.Set("sslmode", p.SSLMode)
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(p.User, p.Password),
			Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
			Path:     "/" + p.Name,
			RawQuery: q.Encode(),
		}
		return u.String(), nil

	case DriverMySQL:
		cfg := mysql.NewConfig()
		cfg.User = p.User
		cfg.Passwd = p.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
		cfg.DBName = p.Name
		return cfg.FormatDSN(), nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}
