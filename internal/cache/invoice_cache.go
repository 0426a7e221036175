// Package cache is the local sqlite mirror of fetched invoices. It
// exists so a review queue survives a backend outage; rows are stored
// in wire shape and re-normalized on the way out, so a cached read and
// a fresh fetch yield the same record.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hydrotreat/invoice-review/internal/capability"
	"github.com/hydrotreat/invoice-review/internal/record"
	"github.com/hydrotreat/invoice-review/pkg/database"
)

// ErrNotFound is returned when no cached row matches the key.
var ErrNotFound = errors.New("invoice not cached")

const schema = `
CREATE TABLE IF NOT EXISTS invoices (
	division   TEXT    NOT NULL,
	id         INTEGER NOT NULL,
	status     TEXT    NOT NULL,
	position   INTEGER NOT NULL,
	payload    TEXT    NOT NULL,
	fetched_at DATETIME NOT NULL,
	PRIMARY KEY (division, id)
);
CREATE INDEX IF NOT EXISTS idx_invoices_division_position ON invoices(division, position);
`

// InvoiceCache stores invoices per division in backend listing order.
type InvoiceCache struct {
	db     *database.DB
	logger *zap.Logger
}

// New prepares the cache schema and returns the store.
func New(db *database.DB, logger *zap.Logger) (*InvoiceCache, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	return &InvoiceCache{db: db, logger: logger}, nil
}

// PutInvoices replaces one division's cached rows with a fresh
// listing. The listing order is recorded so cached reads come back in
// the order the backend served them.
func (c *InvoiceCache) PutInvoices(division string, invoices []*record.Invoice) error {
	now := time.Now().UTC()
	return c.db.WithTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM invoices WHERE division = ?", division); err != nil {
			return fmt.Errorf("failed to clear division %s: %w", division, err)
		}
		for i, inv := range invoices {
			payload, err := record.MarshalWireShape(inv)
			if err != nil {
				return fmt.Errorf("failed to encode invoice %d: %w", inv.ID, err)
			}
			_, err = tx.Exec(
				"INSERT INTO invoices (division, id, status, position, payload, fetched_at) VALUES (?, ?, ?, ?, ?, ?)",
				division, inv.ID, inv.Status, i, string(payload), now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert invoice %d: %w", inv.ID, err)
			}
		}
		return nil
	})
}

// Put upserts a single invoice, keeping its listing position if the
// row already exists. Used after an edit or a status change so the
// cache does not go stale between refreshes.
func (c *InvoiceCache) Put(inv *record.Invoice) error {
	payload, err := record.MarshalWireShape(inv)
	if err != nil {
		return fmt.Errorf("failed to encode invoice %d: %w", inv.ID, err)
	}
	now := time.Now().UTC()

	return c.db.WithTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"UPDATE invoices SET status = ?, payload = ?, fetched_at = ? WHERE division = ? AND id = ?",
			inv.Status, string(payload), now, inv.Division, inv.ID,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected > 0 {
			return nil
		}

		// New row goes to the end of its division.
		_, err = tx.Exec(
			`INSERT INTO invoices (division, id, status, position, payload, fetched_at)
			 VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM invoices WHERE division = ?), ?, ?)`,
			inv.Division, inv.ID, inv.Status, inv.Division, string(payload), now,
		)
		return err
	})
}

// Get returns one cached invoice, re-normalized from its stored wire
// shape.
func (c *InvoiceCache) Get(key record.Key) (*record.Invoice, error) {
	var payload string
	err := c.db.QueryRow(
		"SELECT payload FROM invoices WHERE division = ? AND id = ?",
		key.Division, key.ID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%d", ErrNotFound, key.Division, key.ID)
	}
	if err != nil {
		return nil, err
	}
	return c.decode(key.Division, []byte(payload))
}

// ListDivision returns a division's cached invoices in listing order.
// Rejected invoices are visible to admins only; everyone else gets a
// queue without them, matching what the backend would serve.
func (c *InvoiceCache) ListDivision(division string, role capability.Role) ([]*record.Invoice, error) {
	query := "SELECT payload FROM invoices WHERE division = ?"
	args := []any{division}
	if role != capability.RoleAdmin {
		query += " AND status != ?"
		args = append(args, "rejected")
	}
	query += " ORDER BY position"

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*record.Invoice
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		inv, err := c.decode(division, []byte(payload))
		if err != nil {
			c.logger.Warn("Dropping undecodable cached invoice",
				zap.String("division", division),
				zap.Error(err))
			continue
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// Evict removes one invoice from the cache.
func (c *InvoiceCache) Evict(key record.Key) error {
	_, err := c.db.Exec(
		"DELETE FROM invoices WHERE division = ? AND id = ?",
		key.Division, key.ID,
	)
	return err
}

func (c *InvoiceCache) decode(division string, payload []byte) (*record.Invoice, error) {
	inv, warnings, err := record.Normalize(payload)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		c.logger.Warn("Cached invoice normalization warning",
			zap.String("division", division),
			zap.String("warning", w))
	}
	if inv.Division == "" {
		inv.Division = division
	}
	return inv, nil
}
