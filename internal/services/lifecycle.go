// Package services contains the business logic layers. The Lifecycle
// service owns every mutation of an incident: creation, the status and
// anchor state machines, integrity verification and audit-log appends.
// Handlers never touch incident fields directly.
package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saferoam/incident-server/internal/chain"
	"github.com/saferoam/incident-server/internal/models"
	"github.com/saferoam/incident-server/internal/store"
	"go.uber.org/zap"
)

// SystemActor is the audit actor used for mutations not tied to an operator.
const SystemActor = "System"

// Options tunes the simulated parts of the lifecycle. The randomness source
// is injectable so tests can pin the verification outcome.
type Options struct {
	// AnchorDelay is the simulated ledger latency between the persisted
	// "anchoring" state and completion.
	AnchorDelay time.Duration
	// VerifyFailRate is the probability that a matching hash is still
	// reported as a mismatch (demo behavior, default 0.10 via config).
	VerifyFailRate float64
	// Rand backs both the mock transaction ids and the failure injection.
	Rand *rand.Rand
	// ExplorerBase overrides the mock block-explorer URL prefix.
	ExplorerBase string
}

// Lifecycle orchestrates incident mutations on top of a Store. Construct
// one instance at startup and pass it by reference; it holds no global state.
type Lifecycle struct {
	store          store.Store
	logger         *zap.SugaredLogger
	anchorDelay    time.Duration
	verifyFailRate float64
	explorerBase   string

	// rand.Rand is not safe for concurrent use and the service handles
	// concurrent operator requests, so every draw goes through rngMu.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewLifecycle creates the lifecycle service.
func NewLifecycle(st store.Store, logger *zap.SugaredLogger, opts Options) *Lifecycle {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Lifecycle{
		store:          st,
		logger:         logger,
		anchorDelay:    opts.AnchorDelay,
		verifyFailRate: opts.VerifyFailRate,
		rng:            rng,
		explorerBase:   opts.ExplorerBase,
	}
}

// List returns all incidents, newest first.
func (s *Lifecycle) List(ctx context.Context) ([]models.Incident, error) {
	return s.store.List(ctx)
}

// Get returns one incident by id.
func (s *Lifecycle) Get(ctx context.Context, id string) (*models.Incident, error) {
	return s.store.Get(ctx, id)
}

// Create validates the draft, assigns identity and initial state, and
// persists the record together with its evidence files and the initial
// "Incident Reported" audit entry as one write.
func (s *Lifecycle) Create(ctx context.Context, draft *models.IncidentDraft, files []models.EvidenceFile) (*models.Incident, error) {
	if !draft.Type.Valid() {
		return nil, validationf("unknown incident type %q", draft.Type)
	}
	if draft.Severity < 1 || draft.Severity > 10 {
		return nil, validationf("severity must be between 1 and 10, got %d", draft.Severity)
	}
	if err := validateLocation(draft.Location); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	actor := SystemActor
	if draft.ReporterName != "" {
		actor = draft.ReporterName
	}
	if files == nil {
		files = []models.EvidenceFile{}
	}

	inc := &models.Incident{
		ID:                 uuid.NewString(),
		ReporterName:       draft.ReporterName,
		Type:               draft.Type,
		Severity:           draft.Severity,
		Location:           draft.Location,
		Notes:              draft.Notes,
		Files:              files,
		Status:             models.StatusPending,
		AnchorStatus:       models.AnchorNone,
		VerificationStatus: models.VerifyPending,
		ReportedAt:         now,
		AuditLog: []models.AuditLogEntry{
			s.newEntry("Incident Reported", actor, ""),
		},
	}

	if err := s.store.Save(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist incident: %w", err)
	}

	s.logger.Infow("Incident created",
		"id", inc.ID,
		"type", inc.Type,
		"severity", inc.Severity,
		"bucket", models.SeverityBucket(inc.Severity),
		"files", len(inc.Files),
	)
	return inc, nil
}

// Acknowledge moves a pending incident to acknowledged, stamping
// acknowledgedAt. Any other starting state is rejected without mutation.
func (s *Lifecycle) Acknowledge(ctx context.Context, id, actor string) (*models.Incident, error) {
	inc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc.Status != models.StatusPending {
		return nil, validationf("cannot acknowledge incident in status %q", inc.Status)
	}

	now := time.Now().UTC()
	inc.Status = models.StatusAcknowledged
	inc.AcknowledgedAt = &now
	inc.AuditLog = append(inc.AuditLog, s.newEntry("Incident Acknowledged", actor, ""))

	if err := s.store.Save(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist acknowledge: %w", err)
	}
	s.logger.Infow("Incident acknowledged", "id", inc.ID, "actor", actor)
	return inc, nil
}

// Resolve moves a pending or acknowledged incident to resolved, which is
// terminal for the status machine. Anchoring and verification may still
// happen afterwards.
func (s *Lifecycle) Resolve(ctx context.Context, id, actor string) (*models.Incident, error) {
	inc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc.Status == models.StatusResolved {
		return nil, validationf("incident already resolved")
	}

	now := time.Now().UTC()
	inc.Status = models.StatusResolved
	inc.ResolvedAt = &now
	inc.AuditLog = append(inc.AuditLog, s.newEntry("Incident Resolved", actor, ""))

	if err := s.store.Save(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist resolve: %w", err)
	}
	s.logger.Infow("Incident resolved", "id", inc.ID, "actor", actor)
	return inc, nil
}

// BeginAnchor runs the mocked ledger anchoring. The intermediate
// "anchoring" state is persisted before the simulated latency so concurrent
// readers observe progress instead of a stale not_anchored. Once anchored
// the state is terminal and further calls are rejected.
//
// The anchored hash is always the canonical evidence-bundle hash, never a
// single file's digest: verification recomputes the same function.
func (s *Lifecycle) BeginAnchor(ctx context.Context, id, actor string) (*models.Incident, string, error) {
	inc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	switch inc.AnchorStatus {
	case models.AnchorInProgress:
		return nil, "", validationf("anchoring already in progress")
	case models.AnchorDone:
		return nil, "", validationf("evidence already anchored")
	}

	inc.AnchorStatus = models.AnchorInProgress
	if err := s.store.Save(ctx, inc); err != nil {
		return nil, "", fmt.Errorf("persist anchoring state: %w", err)
	}

	// Simulated ledger latency. There is no cancellation once begun.
	if s.anchorDelay > 0 {
		time.Sleep(s.anchorDelay)
	}

	txID := s.mockTxID()
	inc.ChainHash = chain.HashEvidenceBundle(inc)
	inc.ChainTxID = txID
	inc.AnchorStatus = models.AnchorDone
	inc.AuditLog = append(inc.AuditLog,
		s.newEntry("Evidence Anchored", actor, fmt.Sprintf("TX: %s (MOCK)", txID)))

	if err := s.store.Save(ctx, inc); err != nil {
		return nil, "", fmt.Errorf("persist anchored state: %w", err)
	}

	explorer := chain.ExplorerURL(s.explorerBase, txID)
	s.logger.Infow("Evidence anchored", "id", inc.ID, "tx", txID, "hash", inc.ChainHash)
	return inc, explorer, nil
}

// VerifyIntegrity recomputes the evidence-bundle hash and compares it to
// the anchored chainHash. A match yields verified, a mismatch yields
// compromised; both outcomes are terminal. A configured failure rate
// randomly reports a mismatch even on matching hashes (demo behavior);
// set it to zero for deterministic verification.
func (s *Lifecycle) VerifyIntegrity(ctx context.Context, id, actor string) (*models.Incident, error) {
	inc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc.ChainHash == "" {
		return nil, validationf("evidence has not been anchored")
	}
	if inc.VerificationStatus != models.VerifyPending {
		return nil, validationf("integrity already checked: %s", inc.VerificationStatus)
	}

	match := chain.HashEvidenceBundle(inc) == inc.ChainHash
	if match && s.verifyFailRate > 0 && s.randFloat() < s.verifyFailRate {
		match = false
	}

	now := time.Now().UTC()
	inc.VerificationAt = &now
	if match {
		inc.VerificationStatus = models.VerifyVerified
		inc.AuditLog = append(inc.AuditLog,
			s.newEntry("Integrity Verified", actor, "Evidence integrity confirmed. No tampering detected."))
	} else {
		inc.VerificationStatus = models.VerifyCompromised
		inc.AuditLog = append(inc.AuditLog,
			s.newEntry("Integrity Check Failed", actor, "Hash mismatch. Evidence may have been tampered with."))
	}

	if err := s.store.Save(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist verification: %w", err)
	}
	s.logger.Infow("Integrity check complete", "id", inc.ID, "result", inc.VerificationStatus)
	return inc, nil
}

// AppendAudit appends one entry to the incident's audit log.
func (s *Lifecycle) AppendAudit(ctx context.Context, id, action, actor, details string) (*models.Incident, error) {
	if action == "" {
		return nil, validationf("audit action is required")
	}
	inc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	inc.AuditLog = append(inc.AuditLog, s.newEntry(action, actor, details))
	if err := s.store.Save(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist audit entry: %w", err)
	}
	return inc, nil
}

// Stats aggregates the dashboard counters over the full collection.
func (s *Lifecycle) Stats(ctx context.Context) (*models.IncidentStats, error) {
	incidents, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.IncidentStats{
		Total:    len(incidents),
		ByStatus: map[string]int{},
		ByBucket: map[string]int{},
	}
	for _, inc := range incidents {
		stats.ByStatus[string(inc.Status)]++
		stats.ByBucket[models.SeverityBucket(inc.Severity)]++
		if inc.AnchorStatus == models.AnchorDone {
			stats.Anchored++
		}
		if inc.VerificationStatus == models.VerifyVerified {
			stats.Verified++
		}
		if len(inc.Files) > 0 {
			stats.WithFiles++
		}
		if stats.LastReport == nil || inc.ReportedAt.After(*stats.LastReport) {
			t := inc.ReportedAt
			stats.LastReport = &t
		}
	}
	return stats, nil
}

func (s *Lifecycle) mockTxID() string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return chain.MockTxID(s.rng)
}

func (s *Lifecycle) randFloat() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *Lifecycle) newEntry(action, actor, details string) models.AuditLogEntry {
	if actor == "" {
		actor = SystemActor
	}
	return models.AuditLogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Actor:     actor,
		Details:   details,
	}
}

func validateLocation(loc models.IncidentLocation) error {
	if loc.Lat == 0 && loc.Lng == 0 {
		return validationf("location is required")
	}
	if loc.Lat < -90 || loc.Lat > 90 {
		return validationf("latitude %v out of range", loc.Lat)
	}
	if loc.Lng < -180 || loc.Lng > 180 {
		return validationf("longitude %v out of range", loc.Lng)
	}
	return nil
}
