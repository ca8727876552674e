package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/clients"
)

// PutClient inserts a client or renames an existing one.
func (s *Store) PutClient(ctx context.Context, c *clients.Client) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clients (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			updated_at = NOW()`,
		c.ID, c.Name,
	)
	if err != nil {
		return fmt.Errorf("automation/postgres: put client: %w", err)
	}
	return nil
}

// GetClient returns a client by id.
func (s *Store) GetClient(ctx context.Context, clientID uuid.UUID) (*clients.Client, error) {
	var c clients.Client
	err := s.pool.QueryRow(ctx, `SELECT id, name FROM clients WHERE id = $1`, clientID).Scan(&c.ID, &c.Name)
	if err != nil {
		if isNoRows(err) {
			return nil, automation.ErrClientNotFound
		}
		return nil, fmt.Errorf("automation/postgres: get client: %w", err)
	}
	return &c, nil
}

// ListClients returns up to limit clients ordered by name. A limit of
// zero returns all of them.
func (s *Store) ListClients(ctx context.Context, limit int) ([]*clients.Client, error) {
	query := `SELECT id, name FROM clients ORDER BY lower(name), id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: list clients: %w", err)
	}
	defer rows.Close()

	var out []*clients.Client
	for rows.Next() {
		var c clients.Client
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("automation/postgres: scan client row: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
