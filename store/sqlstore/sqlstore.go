/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package sqlstore keeps idempotent receiver keys in a SQL table so that
// duplicates are detected across restarts and across processes sharing a database.
//
// Supported drivers: mysql, postgres and sqlite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/rulego/flowmesh/api/types"
	_ "modernc.org/sqlite"
)

// Driver names.
const (
	MySQL    = "mysql"
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// DefaultTable is the table used when Config.Table is empty.
const DefaultTable = "flowmesh_idempotent"

var (
	ErrStoreClosed       = errors.New("sql store is closed")
	ErrUnsupportedDriver = errors.New("unsupported sql driver")
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var _ types.IdempotentStore = (*Store)(nil)

// Config 数据库配置
type Config struct {
	// DriverName is mysql, postgres or sqlite.
	DriverName string `json:"driverName" yaml:"driverName"`
	// Dsn 数据库连接配置，参考sql.Open参数
	Dsn string `json:"dsn" yaml:"dsn"`
	// Table 表名
	Table string `json:"table" yaml:"table"`
	// PoolSize 连接池大小，sqlite 固定为1
	PoolSize int `json:"poolSize" yaml:"poolSize"`
}

// Store records keys with their expiry time.
// A key whose expiry has passed is treated as absent.
type Store struct {
	db      *sql.DB
	dialect string
	table   string
	mu      sync.RWMutex
	closed  bool
	now     func() time.Time
}

// Open connects to the database and creates the table if needed.
func Open(ctx context.Context, config Config) (*Store, error) {
	driver := strings.ToLower(config.DriverName)
	switch driver {
	case MySQL, Postgres, SQLite:
	case "postgresql":
		driver = Postgres
	case "sqlite3":
		driver = SQLite
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, config.DriverName)
	}
	table := config.Table
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open(driver, config.Dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == SQLite {
		// :memory: databases are private to a connection
		db.SetMaxOpenConns(1)
	} else if config.PoolSize > 0 {
		db.SetMaxOpenConns(config.PoolSize)
		db.SetMaxIdleConns(config.PoolSize)
	}
	s := &Store{db: db, dialect: driver, table: table, now: time.Now}
	if err := s.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTable(ctx context.Context) error {
	var ddl string
	switch s.dialect {
	case MySQL:
		ddl = "CREATE TABLE IF NOT EXISTS %s (k VARCHAR(255) NOT NULL PRIMARY KEY, expires_at BIGINT NOT NULL)"
	case Postgres:
		ddl = "CREATE TABLE IF NOT EXISTS %s (k TEXT NOT NULL PRIMARY KEY, expires_at BIGINT NOT NULL)"
	default:
		ddl = "CREATE TABLE IF NOT EXISTS %s (k TEXT NOT NULL PRIMARY KEY, expires_at INTEGER NOT NULL)"
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(ddl, s.table)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// bind rewrites ? placeholders to $n for postgres.
func (s *Store) bind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) insertIgnore() string {
	switch s.dialect {
	case MySQL:
		return "INSERT IGNORE INTO " + s.table + " (k, expires_at) VALUES (?, ?)"
	default:
		return "INSERT INTO " + s.table + " (k, expires_at) VALUES (?, ?) ON CONFLICT (k) DO NOTHING"
	}
}

// StoreIfAbsent stores key and reports true if it was absent or expired.
// A ttl <= 0 keeps the key forever.
func (s *Store) StoreIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	now := s.now().UnixMilli()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now + ttl.Milliseconds()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx, s.bind("DELETE FROM "+s.table+" WHERE k = ? AND expires_at > 0 AND expires_at <= ?"), key, now); err != nil {
		return false, fmt.Errorf("expire key: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.bind(s.insertIgnore()), key, expiresAt)
	if err != nil {
		return false, fmt.Errorf("store key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n == 1, nil
}

// Forget removes a key so it is accepted again.
func (s *Store) Forget(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, s.bind("DELETE FROM "+s.table+" WHERE k = ?"), key)
	return err
}

// Purge deletes the expired keys and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx, s.bind("DELETE FROM "+s.table+" WHERE expires_at > 0 AND expires_at <= ?"), s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge keys: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
