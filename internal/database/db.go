package database

import (
	"context"
	"database/sql"
	"time"

	"cryptoalerter/internal/logger"

	_ "github.com/lib/pq"
)

// DB wraps the postgres connection pool. It is constructed once at startup
// and handed to whatever needs persistence.
type DB struct {
	conn *sql.DB
}

// Open establishes the database connection and verifies it with a ping.
func Open(connStr string) (*DB, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Set connection pool parameters
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Log.Info("Database connection established")
	return &DB{conn: conn}, nil
}

// NewWithConn wraps an existing connection, for tests.
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}
