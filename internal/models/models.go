// Package models defines the data structures shared across the application.
// These map to the PostgreSQL schema (incidents, incident_files, audit_logs)
// and to the JSON shapes served to the dashboard.
package models

import (
	"time"
)

// IncidentType classifies a reported safety event.
type IncidentType string

const (
	TypeTheft   IncidentType = "theft"
	TypeAssault IncidentType = "assault"
	TypeMedical IncidentType = "medical"
	TypeCrowd   IncidentType = "crowd"
	TypeOther   IncidentType = "other"
)

// Valid reports whether t is one of the known incident types.
func (t IncidentType) Valid() bool {
	switch t {
	case TypeTheft, TypeAssault, TypeMedical, TypeCrowd, TypeOther:
		return true
	}
	return false
}

// IncidentStatus is the operational state of an incident.
// Transitions are strictly forward: pending -> acknowledged -> resolved.
type IncidentStatus string

const (
	StatusPending      IncidentStatus = "pending"
	StatusAcknowledged IncidentStatus = "acknowledged"
	StatusResolved     IncidentStatus = "resolved"
)

// AnchorStatus tracks the (mocked) ledger anchoring of evidence hashes.
// Transitions are strictly forward: not_anchored -> anchoring -> anchored.
type AnchorStatus string

const (
	AnchorNone       AnchorStatus = "not_anchored"
	AnchorInProgress AnchorStatus = "anchoring"
	AnchorDone       AnchorStatus = "anchored"
)

// VerificationStatus records the outcome of an integrity check against the
// anchored evidence hash. Both verified and compromised are terminal.
type VerificationStatus string

const (
	VerifyPending     VerificationStatus = "pending"
	VerifyVerified    VerificationStatus = "verified"
	VerifyCompromised VerificationStatus = "compromised"
)

// IncidentLocation is a geographic point with an optional reverse-geocoded address.
type IncidentLocation struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// EvidenceFile is an evidence attachment owned by exactly one incident.
// Hash is the hex SHA-256 digest of the file bytes; Preview is an inline
// data URL kept only for images.
type EvidenceFile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	Hash    string `json:"hash"`
	Preview string `json:"preview,omitempty"`
}

// AuditLogEntry is one immutable event in an incident's append-only history.
type AuditLogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details,omitempty"`
}

// Incident is the central entity: a reported safety event with location,
// severity, evidentiary attachments and its full audit history.
type Incident struct {
	ID                 string             `json:"id"`
	ReporterName       string             `json:"reporterName,omitempty"`
	Type               IncidentType       `json:"type"`
	Severity           int                `json:"severity"` // 1-10
	Location           IncidentLocation   `json:"location"`
	Notes              string             `json:"notes"`
	Files              []EvidenceFile     `json:"files"`
	Status             IncidentStatus     `json:"status"`
	AnchorStatus       AnchorStatus       `json:"anchorStatus"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	ChainTxID          string             `json:"chainTxId,omitempty"`
	ChainHash          string             `json:"chainHash,omitempty"`
	ReportedAt         time.Time          `json:"reportedAt"`
	AcknowledgedAt     *time.Time         `json:"acknowledgedAt,omitempty"`
	ResolvedAt         *time.Time         `json:"resolvedAt,omitempty"`
	VerificationAt     *time.Time         `json:"verificationAt,omitempty"`
	AuditLog           []AuditLogEntry    `json:"auditLog"`
}

// SeverityBucket maps the numeric 1-10 severity to its display bucket.
// The bucket is always derived, never stored.
func SeverityBucket(severity int) string {
	switch {
	case severity <= 3:
		return "low"
	case severity <= 6:
		return "medium"
	case severity <= 8:
		return "high"
	default:
		return "critical"
	}
}

// IncidentDraft is the reporter-supplied portion of a new incident.
type IncidentDraft struct {
	ReporterName string           `json:"reporterName,omitempty"`
	Type         IncidentType     `json:"type"`
	Severity     int              `json:"severity"`
	Location     IncidentLocation `json:"location"`
	Notes        string           `json:"notes"`
}

// AuditRequest is the request body for a manual audit-log append.
type AuditRequest struct {
	Action  string `json:"action"`
	Details string `json:"details,omitempty"`
}

// LoginRequest is the operator login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// IncidentStats aggregates dashboard counters over the incident collection.
type IncidentStats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByBucket   map[string]int `json:"by_bucket"`
	Anchored   int            `json:"anchored"`
	Verified   int            `json:"verified"`
	WithFiles  int            `json:"with_files"`
	LastReport *time.Time     `json:"last_report,omitempty"`
}

// HealthStatus represents the server health check response.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Store   string `json:"store,omitempty"`
}
