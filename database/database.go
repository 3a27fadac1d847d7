package database

import (
	"database/sql"
	"fmt"
	"time"

	"meal-analysis-service/config"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"
)

// Database represents the database connection
type Database struct {
	db *sql.DB
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Infof("Connected to database %s at %s:%s", cfg.DBName, cfg.DBHost, cfg.DBPort)
	return &Database{db: db}, nil
}

// NewDatabaseWithDB wraps an existing connection, used by tests.
func NewDatabaseWithDB(db *sql.DB) *Database {
	return &Database{db: db}
}

// GetDB returns the underlying sql.DB
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// CreateUsersTable creates the users table if it doesn't exist
func (d *Database) CreateUsersTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		uid VARCHAR(128) NOT NULL PRIMARY KEY,
		email VARCHAR(255) DEFAULT NULL,
		nickname VARCHAR(255) NOT NULL,
		profile_image_url TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY idx_users_email (email)
	)`

	if _, err := d.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}
