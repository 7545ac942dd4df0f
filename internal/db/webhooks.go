package db

import (
	"database/sql"
	"encoding/json"
	"time"
)

const webhookColumns = `id, url, events, secret, enabled, created_at, last_delivery_at, last_status`

// CreateWebhook stores a new webhook subscription
func (db *DB) CreateWebhook(w *Webhook) (*Webhook, error) {
	events := w.Events
	if events == nil {
		events = []string{}
	}
	eventsJSON, _ := json.Marshal(events)

	result, err := db.Exec(`
		INSERT INTO webhooks (url, events, secret, enabled)
		VALUES (?, ?, ?, ?)`,
		w.URL, string(eventsJSON), w.Secret, w.Enabled,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetWebhook(id)
}

// GetWebhook retrieves a webhook by ID
func (db *DB) GetWebhook(id int64) (*Webhook, error) {
	row := db.QueryRow(`SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)
	w, err := scanWebhook(row)
	return w, notFound(err)
}

// ListWebhooks returns all webhooks
func (db *DB) ListWebhooks() ([]*Webhook, error) {
	return db.queryWebhooks(`SELECT ` + webhookColumns + ` FROM webhooks ORDER BY id`)
}

// ListEnabledWebhooks returns webhooks eligible for delivery
func (db *DB) ListEnabledWebhooks() ([]*Webhook, error) {
	return db.queryWebhooks(`SELECT ` + webhookColumns + ` FROM webhooks WHERE enabled = 1 ORDER BY id`)
}

func (db *DB) queryWebhooks(query string) ([]*Webhook, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hooks := []*Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

// SetWebhookEnabled enables or disables a webhook
func (db *DB) SetWebhookEnabled(id int64, enabled bool) error {
	res, err := db.Exec("UPDATE webhooks SET enabled = ? WHERE id = ?", enabled, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// RecordWebhookDelivery stores the outcome of the latest delivery attempt
func (db *DB) RecordWebhookDelivery(id int64, status string, at time.Time) error {
	_, err := db.Exec("UPDATE webhooks SET last_delivery_at = ?, last_status = ? WHERE id = ?",
		at.UTC(), status, id)
	return err
}

// DeleteWebhook deletes a webhook
func (db *DB) DeleteWebhook(id int64) error {
	res, err := db.Exec("DELETE FROM webhooks WHERE id = ?", id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func scanWebhook(row rowScanner) (*Webhook, error) {
	var w Webhook
	var eventsJSON string
	var lastDelivery sql.NullTime
	var lastStatus sql.NullString

	err := row.Scan(&w.ID, &w.URL, &eventsJSON, &w.Secret, &w.Enabled, &w.CreatedAt, &lastDelivery, &lastStatus)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(eventsJSON), &w.Events)
	if lastDelivery.Valid {
		w.LastDeliveryAt = &lastDelivery.Time
	}
	if lastStatus.Valid {
		w.LastStatus = &lastStatus.String
	}

	return &w, nil
}
