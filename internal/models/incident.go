package models

import (
	"fmt"
	"math"
	"time"
)

// SourceKind enumerates the upstream open-data feeds.
type SourceKind string

const (
	SourceFire    SourceKind = "fire"
	SourceTraffic SourceKind = "traffic"
)

// Kinds lists all polled source kinds in scheduling order.
func Kinds() []SourceKind {
	return []SourceKind{SourceFire, SourceTraffic}
}

// Status is the normalized incident status vocabulary. Provider strings
// outside the known set collapse to StatusUnknown rather than failing.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusClosed   Status = "closed"
	StatusUnknown  Status = "unknown"
)

// Terminal reports whether a status ends an incident's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusArchived || s == StatusClosed
}

// IncidentRecord is the source-agnostic form of one polled record, produced
// by the normalizer and consumed by the lifecycle engine.
type IncidentRecord struct {
	SourceID    string
	SourceKind  SourceKind
	PublishedAt time.Time
	Status      Status
	Latitude    float64
	Longitude   float64
	Headline    string
	Address     string
	Link        string
}

// Validate enforces the invariants the engine relies on: a stable non-empty
// source ID and finite coordinates.
func (r IncidentRecord) Validate() error {
	if r.SourceID == "" {
		return fmt.Errorf("incident record missing source id")
	}
	if r.SourceKind != SourceFire && r.SourceKind != SourceTraffic {
		return fmt.Errorf("unknown source kind %q", r.SourceKind)
	}
	if !finite(r.Latitude) || !finite(r.Longitude) {
		return fmt.Errorf("incident %s has non-finite coordinates", r.SourceID)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// UID derives the deterministic external identifier used as CoT event
// identity. Stable for the lifetime of the incident so repeated emissions
// update rather than duplicate the downstream marker.
func (r IncidentRecord) UID(namespace string) string {
	return fmt.Sprintf("%s.%s.%s", namespace, r.SourceKind, r.SourceID)
}

// TrackedIncident is the durable lifecycle row held per UID.
type TrackedIncident struct {
	UID           string     `json:"uid"`
	SourceKind    SourceKind `json:"source_kind"`
	SourceID      string     `json:"source_id"`
	LastStatus    Status     `json:"last_status"`
	Headline      string     `json:"headline"`
	Address       string     `json:"address"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	Link          string     `json:"link"`
	PublishedAt   time.Time  `json:"published_at"`
	FirstSeenAt   time.Time  `json:"first_seen_at"`
	LastSeenAt    time.Time  `json:"last_seen_at"`
	LastEmittedAt time.Time  `json:"last_emitted_at"`
	ClosedEmitted bool       `json:"closed_emitted"`
}

// Decision classifies the outcome of processing one polled record.
type Decision string

const (
	DecisionCreate   Decision = "create"
	DecisionUpdate   Decision = "update"
	DecisionSuppress Decision = "suppress"
	DecisionClose    Decision = "close"
	DecisionIgnore   Decision = "ignore"
)

// Counters is a point-in-time snapshot of per-source decision totals.
type Counters struct {
	Created    uint64 `json:"created"`
	Updated    uint64 `json:"updated"`
	Suppressed uint64 `json:"suppressed"`
	Closed     uint64 `json:"closed"`
	Ignored    uint64 `json:"ignored"`
	Rejected   uint64 `json:"rejected"`
}

// CycleHealth backs the readiness and stats endpoints for one source.
type CycleHealth struct {
	LastCycleID     string    `json:"last_cycle_id"`
	LastSuccessAt   time.Time `json:"last_success_at"`
	LastAttemptAt   time.Time `json:"last_attempt_at"`
	LastError       string    `json:"last_error,omitempty"`
	ConsecutiveErrs int       `json:"consecutive_errors"`
}
