package database

import (
	"database/sql"
	"fmt"

	"github.com/apex/log"
)

// Schema contains the tables owned by the report service
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(64) PRIMARY KEY,
    provider ENUM('google', 'facebook', 'twitter', 'linkedin') NOT NULL,
    provider_user_id VARCHAR(256) NOT NULL,
    name VARCHAR(256) NOT NULL DEFAULT '',
    email VARCHAR(256) NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY unique_provider_user (provider, provider_user_id)
);

CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    provider ENUM('google', 'facebook', 'twitter', 'linkedin') NOT NULL,
    provider_token TEXT,
    provider_refresh_token TEXT,
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    INDEX idx_sessions_user (user_id)
);

CREATE TABLE IF NOT EXISTS reports (
    id VARCHAR(64) PRIMARY KEY,
    title VARCHAR(512) NOT NULL DEFAULT '',
    description TEXT NOT NULL,
    severity ENUM('low', 'medium', 'high', 'critical') NOT NULL DEFAULT 'medium',
    status VARCHAR(32) NOT NULL DEFAULT 'pending',
    location_latitude DOUBLE NOT NULL,
    location_longitude DOUBLE NOT NULL,
    location_address VARCHAR(1024) NOT NULL DEFAULT '',
    image_urls JSON NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    created_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
    updated_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
    INDEX idx_reports_created (created_at),
    INDEX idx_reports_user (user_id)
);
`

// InitializeSchema creates the necessary database tables
func InitializeSchema(db *sql.DB) error {
	log.Info("Initializing database schema...")

	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info("Database schema initialized successfully")
	return nil
}
