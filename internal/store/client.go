package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// SaveClient inserts or updates a client identity row. Called on first login
// and on credential refresh.
func (db *DB) SaveClient(c *Client) error {
	versions, err := json.Marshal(c.ServerVersions)
	if err != nil {
		return fmt.Errorf("marshal server versions: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO clients (name, access_token, homeserver, user_id, device_id, device_name, prev_batch, server_versions, lazy_loading)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			access_token = excluded.access_token,
			homeserver = excluded.homeserver,
			user_id = excluded.user_id,
			device_id = excluded.device_id,
			device_name = excluded.device_name,
			prev_batch = excluded.prev_batch,
			server_versions = excluded.server_versions,
			lazy_loading = excluded.lazy_loading`,
		c.Name, c.AccessToken, c.Homeserver, c.UserID, c.DeviceID, c.DeviceName,
		c.PrevBatch, string(versions), c.LazyLoading)
	return err
}

// GetClient returns the stored client identity, or nil if the session has no
// client row (logged-out state).
func (db *DB) GetClient(name string) (*Client, error) {
	var c Client
	var versions string
	err := db.QueryRow(`
		SELECT name, access_token, homeserver, user_id, device_id, device_name, prev_batch, server_versions, lazy_loading
		FROM clients WHERE name = ?`, name).
		Scan(&c.Name, &c.AccessToken, &c.Homeserver, &c.UserID, &c.DeviceID,
			&c.DeviceName, &c.PrevBatch, &versions, &c.LazyLoading)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if versions != "" {
		if err := json.Unmarshal([]byte(versions), &c.ServerVersions); err != nil {
			return nil, fmt.Errorf("unmarshal server versions: %w", err)
		}
	}
	return &c, nil
}

// SetClientPrevBatch persists the pagination cursor for the next incremental
// sync. Runs inside the batch scope so a rolled-back batch never advances the
// cursor past events it did not store.
func (t *Txn) SetClientPrevBatch(name, prevBatch string) error {
	_, err := t.tx.Exec(`UPDATE clients SET prev_batch = ? WHERE name = ?`, prevBatch, name)
	return err
}

// DeleteClient removes a client identity and everything cached for it. Only an
// explicit logout/clear reaches this; schema upgrades never touch the row.
func (db *DB) DeleteClient(name string) error {
	return db.WithTxn(func(t *Txn) error {
		for _, table := range []string{
			"rooms", "events", "room_states", "account_data",
			"room_account_data", "presences", "notifications_cache",
		} {
			if _, err := t.tx.Exec(`DELETE FROM ` + table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if _, err := t.tx.Exec(`DELETE FROM clients WHERE name = ?`, name); err != nil {
			return fmt.Errorf("delete client %q: %w", name, err)
		}
		return nil
	})
}
