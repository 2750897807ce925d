package agents

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dyike/CareMesh/models"
)

//go:embed roster.yaml
var defaultRoster []byte

type roster struct {
	Hospitals []models.HospitalProfile `yaml:"hospitals"`
}

// LoadRoster reads hospital profiles from a YAML file. An empty path loads
// the built-in demo roster.
func LoadRoster(path string) ([]models.HospitalProfile, error) {
	if strings.TrimSpace(path) == "" {
		return ParseRoster(defaultRoster)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster %s: %w", path, err)
	}
	return ParseRoster(data)
}

func ParseRoster(data []byte) ([]models.HospitalProfile, error) {
	var r roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	if len(r.Hospitals) == 0 {
		return nil, fmt.Errorf("%w: roster has no hospitals", models.ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(r.Hospitals))
	for i, h := range r.Hospitals {
		if strings.TrimSpace(h.ID) == "" || strings.TrimSpace(h.Name) == "" {
			return nil, fmt.Errorf("%w: roster entry %d needs id and name", models.ErrInvalidRequest, i)
		}
		if seen[h.ID] {
			return nil, fmt.Errorf("%w: duplicate hospital %s", models.ErrInvalidRequest, h.ID)
		}
		if h.Occupancy < 0 || h.Occupancy > 100 {
			return nil, fmt.Errorf("%w: hospital %s occupancy %d out of range", models.ErrInvalidRequest, h.ID, h.Occupancy)
		}
		for kind, inv := range h.Resources {
			if inv.Available < 0 || inv.Available > inv.Total {
				return nil, fmt.Errorf("%w: hospital %s has %d/%d %s", models.ErrInvalidRequest, h.ID, inv.Available, inv.Total, kind)
			}
		}
		seen[h.ID] = true
	}
	return r.Hospitals, nil
}
