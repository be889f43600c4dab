package cot

import (
	"fmt"
	"strings"
	"time"

	"github.com/atxtak/cotbridge/internal/models"
)

// StaleWindows holds the two validity windows the builder chooses between.
// Removal must be much shorter than Standard: the short window is what
// makes clients drop a closed incident's marker promptly.
type StaleWindows struct {
	Standard time.Duration
	Removal  time.Duration
}

// DefaultStaleWindows mirrors the operationally observed defaults.
func DefaultStaleWindows() StaleWindows {
	return StaleWindows{Standard: 10 * time.Minute, Removal: time.Minute}
}

// Build produces the CoT event for one lifecycle decision. Pure and
// deterministic given its inputs; now is injected by the caller.
func Build(rec models.IncidentRecord, uid string, decision models.Decision, now time.Time, windows StaleWindows) Event {
	stale := windows.Standard
	if decision == models.DecisionClose {
		stale = windows.Removal
	}
	ts := formatTime(now)

	return Event{
		Version: eventVersion,
		UID:     uid,
		Type:    TypeIncident,
		Time:    ts,
		Start:   ts,
		Stale:   formatTime(now.Add(stale)),
		How:     HowMachine,
		Point: Point{
			Lat: rec.Latitude,
			Lon: rec.Longitude,
			HAE: unknownSentinel,
			CE:  unknownSentinel,
			LE:  unknownSentinel,
		},
		Detail: Detail{
			Contact: Contact{Callsign: callsign(rec, decision)},
			Link:    Link{URL: rec.Link},
			Remarks: remarks(rec, decision),
		},
	}
}

// agencyPrefix maps a source feed to the agency tag shown on the marker.
func agencyPrefix(kind models.SourceKind) string {
	if kind == models.SourceFire {
		return "AFD"
	}
	return "APD"
}

func callsign(rec models.IncidentRecord, decision models.Decision) string {
	headline := rec.Headline
	if headline == "" {
		headline = "INCIDENT"
	}
	if decision == models.DecisionClose {
		return fmt.Sprintf("%s: %s - %s", agencyPrefix(rec.SourceKind), headline, closureReason(rec.Status))
	}
	return fmt.Sprintf("%s: %s", agencyPrefix(rec.SourceKind), headline)
}

func remarks(rec models.IncidentRecord, decision models.Decision) string {
	headline := rec.Headline
	if headline == "" {
		headline = "INCIDENT"
	}
	address := rec.Address
	if address == "" {
		address = "Unknown Location"
	}

	parts := []string{
		fmt.Sprintf("%s @ %s", headline, address),
		fmt.Sprintf("Status: %s", strings.ToUpper(string(rec.Status))),
	}
	if decision == models.DecisionClose {
		parts = append(parts, fmt.Sprintf("Closure: %s", closureReason(rec.Status)))
		if !rec.PublishedAt.IsZero() {
			parts = append(parts, fmt.Sprintf("Originally Reported: %s", rec.PublishedAt.UTC().Format("2006-01-02 15:04 UTC")))
		}
	}
	return strings.Join(parts, " | ")
}

func closureReason(status models.Status) string {
	switch status {
	case models.StatusArchived:
		return "INCIDENT ARCHIVED"
	case models.StatusClosed:
		return "INCIDENT CLOSED"
	default:
		return "INCIDENT NO LONGER ACTIVE"
	}
}
