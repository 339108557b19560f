// Package clickhouse owns the columnar store: schema bootstrap, the bulk
// loader, the deduplicated read API, and the gap scan.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/terrylica/gapless-crypto-clickhouse/services/config"
)

// Conn is the slice of the native driver the store needs. Narrow on purpose:
// tests substitute an in-memory fake.
type Conn interface {
	PrepareBatch(ctx context.Context, query string) (Batch, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

type Batch interface {
	Append(v ...any) error
	Send() error
}

type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

type Row interface {
	Scan(dest ...any) error
}

// driverConn adapts driver.Conn to the narrow Conn surface.
type driverConn struct {
	conn driver.Conn
}

func (d *driverConn) PrepareBatch(ctx context.Context, query string) (Batch, error) {
	return d.conn.PrepareBatch(ctx, query)
}

func (d *driverConn) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return d.conn.Query(ctx, query, args...)
}

func (d *driverConn) QueryRow(ctx context.Context, query string, args ...any) Row {
	return d.conn.QueryRow(ctx, query, args...)
}

func (d *driverConn) Exec(ctx context.Context, query string, args ...any) error {
	return d.conn.Exec(ctx, query, args...)
}

func (d *driverConn) Close() error { return d.conn.Close() }

// Open dials ClickHouse over the native protocol and verifies the connection.
func Open(ctx context.Context, cfg config.ClickHouseConfig) (Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to ClickHouse at %s: %w", cfg.Addr(), err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping ClickHouse at %s: %w", cfg.Addr(), err)
	}
	return &driverConn{conn: conn}, nil
}
