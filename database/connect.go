package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gridwatch/config"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"
)

// DSN builds the MySQL data source name. clientFoundRows makes UPDATE report
// matched rows, so an update that changes nothing is not mistaken for a miss.
func DSN(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true&clientFoundRows=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

// Connect opens the connection pool and waits for the database to answer pings.
func Connect(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	deadline := time.Now().Add(cfg.DBPingMaxWait)
	waitInterval := time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		pingErr := db.PingContext(ctx)
		cancel()
		if pingErr == nil {
			break
		}
		if time.Now().After(deadline) {
			db.Close()
			return nil, fmt.Errorf("database ping timeout after %v: %w", cfg.DBPingMaxWait, pingErr)
		}
		log.Warnf("Database connection failed, retrying in %v: %v", waitInterval, pingErr)
		time.Sleep(waitInterval)
		waitInterval *= 2
		if waitInterval > 30*time.Second {
			waitInterval = 30 * time.Second
		}
	}

	log.Infof("Established db connection pool: open=%d idle=%d max_lifetime=%v",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	return db, nil
}
