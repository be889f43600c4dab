package feeds

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/atxtak/cotbridge/internal/models"
)

// StatusMap translates provider status strings into the normalized
// vocabulary. Lookups are case-insensitive; unknown strings collapse to
// StatusUnknown so the lifecycle engine's transition logic stays total.
type StatusMap map[string]models.Status

// DefaultStatusMap covers the vocabulary the Austin datasets publish.
func DefaultStatusMap() StatusMap {
	return StatusMap{
		"ACTIVE":   models.StatusActive,
		"ARCHIVED": models.StatusArchived,
		"CLOSED":   models.StatusClosed,
		"RESOLVED": models.StatusClosed,
	}
}

// statusMapFile is the YAML root for status map overrides.
type statusMapFile struct {
	Statuses map[string]string `yaml:"statuses"`
}

// LoadStatusMap merges overrides from path over the defaults. An empty or
// missing path returns the defaults unchanged.
func LoadStatusMap(path string) (StatusMap, error) {
	m := DefaultStatusMap()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return nil, err
	}
	var file statusMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	for provider, normalized := range file.Statuses {
		switch models.Status(strings.ToLower(normalized)) {
		case models.StatusActive, models.StatusArchived, models.StatusClosed, models.StatusUnknown:
			m[strings.ToUpper(provider)] = models.Status(strings.ToLower(normalized))
		}
	}
	return m, nil
}

// Lookup resolves a provider status string.
func (m StatusMap) Lookup(provider string) models.Status {
	if status, ok := m[strings.ToUpper(strings.TrimSpace(provider))]; ok {
		return status
	}
	return models.StatusUnknown
}
