package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/saferoam/incident-server/internal/models"
	"go.uber.org/zap"
)

// Local stores the incident collection as a single JSON array in one file,
// the server-side analog of the browser build's single localStorage key.
// Every operation loads, mutates and rewrites the whole array under a mutex;
// the collection is small by design (one demo deployment per node).
//
// A missing or corrupted file degrades to the seeded demo set rather than
// failing, so the dashboard is never empty on first run.
type Local struct {
	mu     sync.Mutex
	path   string
	logger *zap.SugaredLogger
}

// NewLocal creates a file-backed store at path.
func NewLocal(path string, logger *zap.SugaredLogger) (*Local, error) {
	if path == "" {
		return nil, fmt.Errorf("local store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Local{path: path, logger: logger}, nil
}

// List returns all incidents, newest first by creation time.
func (s *Local) List(ctx context.Context) ([]models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	incidents := s.load()
	sort.SliceStable(incidents, func(i, j int) bool {
		return incidents[i].ReportedAt.After(incidents[j].ReportedAt)
	})
	return incidents, nil
}

// Get returns the incident with the given id.
func (s *Local) Get(ctx context.Context, id string) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inc := range s.load() {
		if inc.ID == id {
			inc := inc
			return &inc, nil
		}
	}
	return nil, ErrNotFound
}

// Save upserts the incident: replace in place if present, otherwise insert
// at the front of the collection.
func (s *Local) Save(ctx context.Context, inc *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	incidents := s.load()
	replaced := false
	for i := range incidents {
		if incidents[i].ID == inc.ID {
			incidents[i] = *inc
			replaced = true
			break
		}
	}
	if !replaced {
		incidents = append([]models.Incident{*inc}, incidents...)
	}
	return s.persist(incidents)
}

// Ping verifies the store directory is writable.
func (s *Local) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("store dir unavailable: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *Local) Close() {}

// load reads the collection from disk, falling back to the seeded demo set
// when the file is missing or unreadable. Caller must hold the mutex.
func (s *Local) load() []models.Incident {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warnw("Incident file unreadable, using demo seed", "path", s.path, "error", err)
		}
		return s.seed()
	}
	var incidents []models.Incident
	if err := json.Unmarshal(data, &incidents); err != nil {
		s.logger.Warnw("Incident file corrupted, using demo seed", "path", s.path, "error", err)
		return s.seed()
	}
	return incidents
}

// seed generates the demo set and writes it back immediately, so the seeded
// timestamps are fixed on first access rather than drifting with every read.
// Caller must hold the mutex.
func (s *Local) seed() []models.Incident {
	incidents := SeedIncidents(time.Now().UTC())
	if err := s.persist(incidents); err != nil {
		s.logger.Warnw("Failed to persist demo seed", "path", s.path, "error", err)
	}
	return incidents
}

// persist rewrites the full collection atomically (tmp file + rename).
func (s *Local) persist(incidents []models.Incident) error {
	data, err := json.MarshalIndent(incidents, "", "  ")
	if err != nil {
		return fmt.Errorf("encode incidents: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write incidents: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit incidents: %w", err)
	}
	return nil
}

// SeedIncidents returns the two illustrative demo incidents shown on a
// fresh install: an acknowledged, already-anchored theft and a pending
// medical emergency.
func SeedIncidents(now time.Time) []models.Incident {
	twoHoursAgo := now.Add(-2 * time.Hour)
	oneHourAgo := now.Add(-1 * time.Hour)
	halfHourAgo := now.Add(-30 * time.Minute)

	return []models.Incident{
		{
			ID:                 "demo-001",
			ReporterName:       "Sarah Johnson",
			Type:               models.TypeTheft,
			Severity:           7,
			Location:           models.IncidentLocation{Lat: 40.7128, Lng: -74.0060, Address: "Times Square, NYC"},
			Notes:              "Phone stolen while taking photos. Suspect fled towards subway entrance.",
			Files:              []models.EvidenceFile{},
			Status:             models.StatusAcknowledged,
			AnchorStatus:       models.AnchorDone,
			VerificationStatus: models.VerifyPending,
			ChainTxID:          "0xdeadbeef123456789abcdef0000000000000000000000000000000000000000",
			ChainHash:          "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2",
			ReportedAt:         twoHoursAgo,
			AcknowledgedAt:     &oneHourAgo,
			AuditLog: []models.AuditLogEntry{
				{
					ID:        "audit-001",
					Timestamp: twoHoursAgo,
					Action:    "Incident Reported",
					Actor:     "System",
				},
				{
					ID:        "audit-002",
					Timestamp: oneHourAgo,
					Action:    "Evidence Anchored",
					Actor:     "System",
					Details:   "TX: 0xdeadbeef123456789abcdef0000000000000000000000000000000000000000 (MOCK)",
				},
			},
		},
		{
			ID:                 "demo-002",
			Type:               models.TypeMedical,
			Severity:           9,
			Location:           models.IncidentLocation{Lat: 40.7589, Lng: -73.9851, Address: "Central Park, NYC"},
			Notes:              "Tourist collapsed during jogging. Appears to be heat exhaustion.",
			Files:              []models.EvidenceFile{},
			Status:             models.StatusPending,
			AnchorStatus:       models.AnchorNone,
			VerificationStatus: models.VerifyPending,
			ReportedAt:         halfHourAgo,
			AuditLog: []models.AuditLogEntry{
				{
					ID:        "audit-003",
					Timestamp: halfHourAgo,
					Action:    "Incident Reported",
					Actor:     "Anonymous Reporter",
				},
			},
		},
	}
}
