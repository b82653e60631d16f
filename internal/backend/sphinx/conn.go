package sphinx

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Row is one result row keyed by column name.
type Row map[string]string

// Response is a result set plus the SHOW META values of the same query.
type Response struct {
	Rows []Row
	Meta map[string]string
}

// Conn is a SphinxQL connection.
type Conn interface {
	Search(ctx context.Context, query string, args ...any) (*Response, error)
	Ping(ctx context.Context) error
	Close() error
}

// SQLConn speaks SphinxQL over the MySQL wire protocol.
type SQLConn struct {
	db *sql.DB
}

// Dial prepares a connection pool to searchd. Arguments are interpolated
// client side since searchd has no prepared statements.
func Dial(addr string, connectTimeout, queryTimeout time.Duration) (*SQLConn, error) {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.InterpolateParams = true
	cfg.Timeout = connectTimeout
	cfg.ReadTimeout = queryTimeout
	cfg.WriteTimeout = queryTimeout
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("configuring sphinx connection: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Minute)
	return &SQLConn{db: db}, nil
}

// Search runs query and SHOW META on one connection so the meta belongs to
// the query.
func (c *SQLConn) Search(ctx context.Context, query string, args ...any) (*Response, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to searchd: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("running sphinx query: %w", err)
	}
	result, err := readRows(rows)
	if err != nil {
		return nil, err
	}

	meta := make(map[string]string)
	metaRows, err := conn.QueryContext(ctx, "SHOW META")
	if err != nil {
		return nil, fmt.Errorf("reading sphinx meta: %w", err)
	}
	pairs, err := readRows(metaRows)
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		meta[p["Variable_name"]] = p["Value"]
	}
	return &Response{Rows: result, Meta: meta}, nil
}

func readRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading sphinx columns: %w", err)
	}
	values := make([]sql.RawBytes, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	var out []Row
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning sphinx row: %w", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = string(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sphinx rows: %w", err)
	}
	return out, nil
}

func (c *SQLConn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *SQLConn) Close() error {
	return c.db.Close()
}
