package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"cashout-mirror/src/logger"
	"cashout-mirror/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type SQLiteStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSQLiteStore(cfg *models.MConfig, log *logger.Logger) (*SQLiteStore, error) {
	return &SQLiteStore{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteStore) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *SQLiteStore) createTables() error {
	// Subscriptions survive restarts; never dropped.
	query := `
		CREATE TABLE IF NOT EXISTS push_subscriptions (
			endpoint TEXT PRIMARY KEY,
			p256dh TEXT NOT NULL,
			auth TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create push_subscriptions: %w", err)
	}

	query = `
		CREATE TABLE IF NOT EXISTS notification_clicks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			data TEXT
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create notification_clicks: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteStore) LoadSubscriptions() ([]models.MPushSubscription, error) {
	rows, err := d.DB.Query("SELECT endpoint, p256dh, auth FROM push_subscriptions")
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

// ReplaceSubscriptions rewrites the whole set in one transaction, so a
// batch prune after a campaign costs a single write.
func (d *SQLiteStore) ReplaceSubscriptions(subs []models.MPushSubscription) error {
	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM push_subscriptions"); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO push_subscriptions (endpoint, p256dh, auth)
		VALUES (?, ?, ?)
	`)
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

func (d *SQLiteStore) SaveClick(click models.MNotificationClick) error {
	data, err := json.Marshal(click.Data)
	if err != nil {
		data = []byte("{}")
	}
	_, err = d.DB.Exec("INSERT INTO notification_clicks (ts, data) VALUES (?, ?)", click.Ts, string(data))
	return err
}

// -----------------------------------------------------------------------------

func (d *SQLiteStore) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
