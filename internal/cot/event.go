// Package cot models Cursor-on-Target events and builds them from
// lifecycle decisions.
package cot

import (
	"encoding/xml"
	"time"
)

// CoT constants shared by every event the bridge produces.
const (
	eventVersion = "2.0"
	// TypeIncident is the generic incident/event classifier.
	TypeIncident = "b-e-i"
	// HowMachine marks machine-generated events.
	HowMachine = "m-g"
	// unknownSentinel is the documented "value unknown" marker for the
	// hae/ce/le point fields. Clients require the attributes present.
	unknownSentinel = "9999999.0"
	// timeLayout is the Zulu timestamp format TAK clients expect.
	timeLayout = "2006-01-02T15:04:05.000Z"
)

// Event is a CoT event ready for XML serialization. All free-text fields
// pass through encoding/xml, so hostile provider text cannot break the
// event structure.
type Event struct {
	XMLName xml.Name `xml:"event"`
	Version string   `xml:"version,attr"`
	UID     string   `xml:"uid,attr"`
	Type    string   `xml:"type,attr"`
	Time    string   `xml:"time,attr"`
	Start   string   `xml:"start,attr"`
	Stale   string   `xml:"stale,attr"`
	How     string   `xml:"how,attr"`
	Point   Point    `xml:"point"`
	Detail  Detail   `xml:"detail"`
}

// Point carries the event location. HAE/CE/LE hold the unknown sentinel
// rather than being omitted.
type Point struct {
	Lat float64 `xml:"lat,attr"`
	Lon float64 `xml:"lon,attr"`
	HAE string  `xml:"hae,attr"`
	CE  string  `xml:"ce,attr"`
	LE  string  `xml:"le,attr"`
}

// Detail holds the display payload consumed by TAK clients.
type Detail struct {
	Contact Contact `xml:"contact"`
	Link    Link    `xml:"link"`
	Remarks string  `xml:"remarks"`
}

// Contact labels the marker on the client map.
type Contact struct {
	Callsign string `xml:"callsign,attr"`
}

// Link points back at the source record for traceability.
type Link struct {
	URL string `xml:"url,attr"`
}

// Marshal renders the event as CoT XML.
func (e Event) Marshal() ([]byte, error) {
	return xml.Marshal(e)
}

// StaleAt reports the parsed stale time, zero on malformed input.
func (e Event) StaleAt() time.Time {
	t, err := time.Parse(timeLayout, e.Stale)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
