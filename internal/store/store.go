// Package store provides durable storage for the incident collection.
// Two interchangeable backends implement the same Store interface: a local
// JSON-file store for single-node demo deployments and a PostgreSQL store
// for shared deployments. The backend is selected once at construction
// time, never by branching at call sites.
package store

import (
	"context"
	"errors"

	"github.com/saferoam/incident-server/internal/models"
)

// ErrNotFound is returned when an incident id is absent from the store.
var ErrNotFound = errors.New("incident not found")

// Store is the persistence contract shared by both backends.
//
// Save is the single write primitive: upsert by id, with new records placed
// at the front of the collection. A Save carries the full record including
// its audit log, so a field update and its audit entry land in one write.
// Saving the same record twice must leave the store unchanged.
//
// Writes are last-write-wins: there is no optimistic-concurrency token, and
// two independent sessions saving the same incident will not be detected.
// That is accepted behavior for this system, not a bug.
type Store interface {
	// List returns all incidents, newest first by creation time.
	List(ctx context.Context) ([]models.Incident, error)
	// Get returns the incident with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Incident, error)
	// Save upserts the incident by id.
	Save(ctx context.Context, inc *models.Incident) error
	// Ping reports whether the backing medium is reachable.
	Ping(ctx context.Context) error
	// Close releases the backing resources.
	Close()
}
