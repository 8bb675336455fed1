// Package connstore persists registered connections and the row data cached
// per table. It is the connection-data collaborator consumed by panels.
package connstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnectionExists   = errors.New("connstore: connection already exists")
	ErrConnectionNotFound = errors.New("connstore: connection not found")
	ErrInvalidConnection  = errors.New("connstore: invalid connection")
	ErrInvalidRows        = errors.New("connstore: invalid row payload")
)

// Connection is one registered database connection.
type Connection struct {
	Name      string    `json:"name"`
	Driver    string    `json:"driver"`
	DSN       string    `json:"dsn,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required fields.
func (c Connection) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConnection)
	}
	if strings.TrimSpace(c.Driver) == "" {
		return fmt.Errorf("%w: driver is required", ErrInvalidConnection)
	}
	if strings.ContainsAny(c.Name, "/\\") {
		return fmt.Errorf("%w: name %q must not contain path separators", ErrInvalidConnection, c.Name)
	}
	return nil
}

// Store is the sqlite-backed connection registry.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the store at path. ":memory:" gives a private
// in-process store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("connstore: empty database path")
	}
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("connstore open (%s): %w", path, err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connstore migrate (%s): %w", path, err)
	}
	log.Debug().Str("path", path).Msg("connstore_opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add registers a new connection.
func (s *Store) Add(ctx context.Context, conn Connection) (Connection, error) {
	conn.Name = strings.TrimSpace(conn.Name)
	conn.Driver = strings.TrimSpace(conn.Driver)
	if err := conn.Validate(); err != nil {
		return Connection{}, err
	}
	conn.CreatedAt = now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (name, driver, dsn, created_at) VALUES (?, ?, ?, ?)`,
		conn.Name, conn.Driver, conn.DSN, conn.CreatedAt,
	)
	if err != nil {
		var sqlErr sqlite.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite.ErrConstraintPrimaryKey {
			return Connection{}, fmt.Errorf("%w: %s", ErrConnectionExists, conn.Name)
		}
		return Connection{}, fmt.Errorf("connstore add %s: %w", conn.Name, err)
	}
	return conn, nil
}

// Remove deletes a connection and its cached tables.
func (s *Store) Remove(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE name = ?`, strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("connstore remove %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, name)
	}
	return nil
}

// Get returns one connection by name.
func (s *Store) Get(ctx context.Context, name string) (Connection, error) {
	var conn Connection
	err := s.db.QueryRowContext(ctx,
		`SELECT name, driver, dsn, created_at FROM connections WHERE name = ?`,
		strings.TrimSpace(name),
	).Scan(&conn.Name, &conn.Driver, &conn.DSN, &conn.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Connection{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, name)
	}
	if err != nil {
		return Connection{}, fmt.Errorf("connstore get %s: %w", name, err)
	}
	return conn, nil
}

// List returns connections ordered by name.
func (s *Store) List(ctx context.Context) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, driver, dsn, created_at FROM connections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("connstore list: %w", err)
	}
	defer rows.Close()

	out := make([]Connection, 0)
	for rows.Next() {
		var conn Connection
		if err := rows.Scan(&conn.Name, &conn.Driver, &conn.DSN, &conn.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

// PutTable stores the row payload for one table, replacing any previous one.
func (s *Store) PutTable(ctx context.Context, connection, table string, rowsJSON json.RawMessage) error {
	connection = strings.TrimSpace(connection)
	table = strings.TrimSpace(table)
	if table == "" {
		return fmt.Errorf("%w: table name is required", ErrInvalidConnection)
	}
	if len(bytes.TrimSpace(rowsJSON)) == 0 {
		rowsJSON = json.RawMessage("null")
	}
	if !json.Valid(rowsJSON) {
		return fmt.Errorf("%w: %s.%s", ErrInvalidRows, connection, table)
	}

	return withTx(s.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM connections WHERE name = ?`, connection).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrConnectionNotFound, connection)
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO connection_tables (connection, table_name, rows_json, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (connection, table_name)
			DO UPDATE SET rows_json = excluded.rows_json, updated_at = excluded.updated_at`,
			connection, table, string(rowsJSON), now(),
		)
		return err
	})
}

// TableNames lists the tables cached for connection, ordered by name.
func (s *Store) TableNames(ctx context.Context, connection string) ([]string, error) {
	if _, err := s.Get(ctx, connection); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name FROM connection_tables WHERE connection = ? ORDER BY table_name`,
		strings.TrimSpace(connection),
	)
	if err != nil {
		return nil, fmt.Errorf("connstore tables %s: %w", connection, err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Tables returns the table -> rows map for connection. An unknown connection
// reports ok=false without an error.
func (s *Store) Tables(ctx context.Context, connection string) (map[string]json.RawMessage, bool, error) {
	if _, err := s.Get(ctx, connection); err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name, rows_json FROM connection_tables WHERE connection = ?`,
		strings.TrimSpace(connection),
	)
	if err != nil {
		return nil, false, fmt.Errorf("connstore rows %s: %w", connection, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, false, err
		}
		out[name] = json.RawMessage(raw)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return out, true, nil
}
