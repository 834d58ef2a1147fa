package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cashout-mirror/src/logger"
	"cashout-mirror/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresStore(cfg *models.MConfig, log *logger.Logger) (*PostgresStore, error) {
	// Executable name doubles as the schema so several mirrors can share
	// one database.
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresStore{
		Config: cfg,
		Schema: name,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresStore) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresStore initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresStore) createTables() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."push_subscriptions" (
			endpoint TEXT PRIMARY KEY,
			p256dh TEXT NOT NULL,
			auth TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
	`, d.Schema)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create push_subscriptions: %w", err)
	}

	query = fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."notification_clicks" (
			id BIGSERIAL PRIMARY KEY,
			ts TEXT NOT NULL,
			data JSONB
		);
	`, d.Schema)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create notification_clicks: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresStore) LoadSubscriptions() ([]models.MPushSubscription, error) {
	query := fmt.Sprintf(`SELECT endpoint, p256dh, auth FROM "%s"."push_subscriptions"`, d.Schema)
	rows, err := d.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.MPushSubscription
	for rows.Next() {
		var s models.MPushSubscription
		if err := rows.Scan(&s.Endpoint, &s.Keys.P256dh, &s.Keys.Auth); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// -----------------------------------------------------------------------------

func (d *PostgresStore) ReplaceSubscriptions(subs []models.MPushSubscription) error {
	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM "%s"."push_subscriptions"`, d.Schema)); err != nil {
		return err
	}

	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO "%s"."push_subscriptions" (endpoint, p256dh, auth)
		VALUES ($1, $2, $3)
	`, d.Schema))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range subs {
		if _, err := stmt.Exec(s.Endpoint, s.Keys.P256dh, s.Keys.Auth); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresStore) SaveClick(click models.MNotificationClick) error {
	data, err := json.Marshal(click.Data)
	if err != nil {
		data = []byte("{}")
	}
	query := fmt.Sprintf(`INSERT INTO "%s"."notification_clicks" (ts, data) VALUES ($1, $2)`, d.Schema)
	_, err = d.DB.Exec(query, click.Ts, string(data))
	return err
}

// -----------------------------------------------------------------------------

func (d *PostgresStore) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
