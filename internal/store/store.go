// Package store persists tracked incident lifecycle state. The lifecycle
// engine is the only caller; nothing else mutates these rows.
package store

import (
	"context"
	"time"

	"github.com/atxtak/cotbridge/internal/models"
)

// Store is the durable table of previously observed incidents keyed by UID.
// It is the authority for new/changed/closed decisions and must survive
// process restart so that a restart never causes duplicate creates or
// re-sends of already-closed incidents.
type Store interface {
	// Get returns the tracked incident for uid, reporting presence.
	Get(ctx context.Context, uid string) (models.TrackedIncident, bool, error)
	// Put inserts or replaces the row for inc.UID.
	Put(ctx context.Context, inc models.TrackedIncident) error
	// Delete removes the row for uid. Deleting an absent row is not an error.
	Delete(ctx context.Context, uid string) error
	// ListOpen returns every row for the source kind with ClosedEmitted false.
	ListOpen(ctx context.Context, kind models.SourceKind) ([]models.TrackedIncident, error)
	// PurgeOlderThan removes rows whose LastSeenAt predates cutoff and
	// returns how many were removed. Housekeeping only, never the hot path.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
