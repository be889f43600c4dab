package feeds

import (
	"strconv"
	"strings"

	"github.com/atxtak/cotbridge/internal/models"
	"github.com/atxtak/cotbridge/internal/utils"
)

// Normalizer maps raw SODA records into incident records. Pure and
// side-effect free; rejected records never reach the lifecycle engine.
type Normalizer struct {
	statuses StatusMap
	linkFor  func(kind models.SourceKind, sourceID string) string
}

// NewNormalizer builds a normalizer using the given status vocabulary and
// permalink composer.
func NewNormalizer(statuses StatusMap, linkFor func(models.SourceKind, string) string) *Normalizer {
	if statuses == nil {
		statuses = DefaultStatusMap()
	}
	if linkFor == nil {
		linkFor = func(models.SourceKind, string) string { return "" }
	}
	return &Normalizer{statuses: statuses, linkFor: linkFor}
}

// Normalize converts one raw record. Records with a missing identifier,
// missing or non-finite coordinates, or an unparseable timestamp are
// rejected with a malformed-record error.
func (n *Normalizer) Normalize(raw RawIncident, kind models.SourceKind) (models.IncidentRecord, error) {
	id := strings.TrimSpace(raw.TrafficReportID)
	if id == "" {
		return models.IncidentRecord{}, utils.E("feeds.Normalize", utils.KindMalformedRecord,
			"record missing traffic_report_id", nil)
	}

	lat, err := parseCoordinate(raw.Latitude)
	if err != nil {
		return models.IncidentRecord{}, utils.E("feeds.Normalize", utils.KindMalformedRecord,
			"record "+id+" has invalid latitude", err)
	}
	lon, err := parseCoordinate(raw.Longitude)
	if err != nil {
		return models.IncidentRecord{}, utils.E("feeds.Normalize", utils.KindMalformedRecord,
			"record "+id+" has invalid longitude", err)
	}

	published, err := utils.ParseSODATime(raw.PublishedDate)
	if err != nil {
		return models.IncidentRecord{}, utils.E("feeds.Normalize", utils.KindMalformedRecord,
			"record "+id+" has unparseable published_date", err)
	}

	rec := models.IncidentRecord{
		SourceID:    id,
		SourceKind:  kind,
		PublishedAt: published,
		Status:      n.statuses.Lookup(raw.Status),
		Latitude:    lat,
		Longitude:   lon,
		Headline:    strings.TrimSpace(raw.IssueReported),
		Address:     strings.TrimSpace(raw.Address),
		Link:        n.linkFor(kind, id),
	}
	if err := rec.Validate(); err != nil {
		return models.IncidentRecord{}, utils.E("feeds.Normalize", utils.KindMalformedRecord,
			"record "+id+" failed validation", err)
	}
	return rec, nil
}

func parseCoordinate(value string) (float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, strconv.ErrSyntax
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}
