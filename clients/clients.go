// Package clients defines the client directory the engine consults for
// client existence and display names. Client records are owned elsewhere;
// the engine only reads them.
package clients

import (
	"context"

	"github.com/google/uuid"
)

// Client is the slice of a client record the engine needs.
type Client struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Directory looks clients up by id.
type Directory interface {
	// GetClient returns automation.ErrClientNotFound for unknown ids.
	GetClient(ctx context.Context, clientID uuid.UUID) (*Client, error)

	// ListClients returns up to limit clients ordered by name.
	ListClients(ctx context.Context, limit int) ([]*Client, error)
}

// Names resolves display names for a set of client ids, skipping ids the
// directory does not know.
func Names(ctx context.Context, d Directory, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	for _, cid := range ids {
		if _, seen := out[cid]; seen {
			continue
		}
		c, err := d.GetClient(ctx, cid)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out[cid] = c.Name
	}
	return out, nil
}
