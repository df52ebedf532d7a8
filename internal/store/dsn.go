package store

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/truenicoco/slidge-sub000/internal/querysql"
)

// Target is a parsed DSN: which driver to open, with what source string.
type Target struct {
	Driver  string
	Source  string
	Dialect querysql.Dialect
	Memory  bool
}

// ParseDSN maps a configuration DSN onto a database/sql driver.
func ParseDSN(dsn string) (Target, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return Target{}, fmt.Errorf("empty database DSN")
	}
	if dsn == ":memory:" {
		return memoryTarget(), nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return Target{}, fmt.Errorf("parse database DSN: %w", err)
	}

	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "":
		return Target{Driver: "sqlite3", Source: dsn, Dialect: querysql.SQLite}, nil
	case "file":
		return Target{Driver: "sqlite3", Source: dsn, Dialect: querysql.SQLite}, nil
	case "sqlite", "sqlite3":
		path := parsed.Host + parsed.Path
		if path == "" {
			return Target{}, fmt.Errorf("sqlite DSN %q has no path", dsn)
		}
		if parsed.RawQuery != "" {
			path = "file:" + path + "?" + parsed.RawQuery
		}
		return Target{Driver: "sqlite3", Source: path, Dialect: querysql.SQLite}, nil
	case "memory", "mem", "inmem":
		return memoryTarget(), nil
	case "postgres", "postgresql":
		return Target{Driver: "postgres", Source: dsn, Dialect: querysql.Postgres}, nil
	default:
		return Target{}, fmt.Errorf("unsupported database scheme: %s", scheme)
	}
}

func memoryTarget() Target {
	return Target{Driver: "sqlite3", Source: ":memory:", Dialect: querysql.SQLite, Memory: true}
}
