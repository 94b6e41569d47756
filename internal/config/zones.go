package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xelth-com/eckpick/internal/models"
)

type zonesFile struct {
	Zones []models.Zone `yaml:"zones"`
}

// DefaultZones is used when no ZONES_FILE is configured
func DefaultZones() []models.Zone {
	return []models.Zone{
		{ID: "ambient", Name: "Ambient", Color: "#4caf50", Sequence: 10, LocationPrefix: "WH/Stock"},
		{ID: "chilled", Name: "Chilled", Color: "#2196f3", Sequence: 20, LocationPrefix: "WH/Chilled"},
		{ID: "frozen", Name: "Frozen", Color: "#9c27b0", Sequence: 30, LocationPrefix: "WH/Frozen"},
	}
}

// LoadZones reads the zone list from a YAML file, sorted by sequence.
// An empty path yields DefaultZones.
func LoadZones(path string) ([]models.Zone, error) {
	if path == "" {
		return DefaultZones(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zones file: %w", err)
	}
	return ParseZones(data)
}

// ParseZones decodes and validates a zones document
func ParseZones(data []byte) ([]models.Zone, error) {
	var doc zonesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse zones: %w", err)
	}
	if len(doc.Zones) == 0 {
		return nil, fmt.Errorf("zones file defines no zones")
	}

	seen := make(map[string]bool, len(doc.Zones))
	for i, z := range doc.Zones {
		id := strings.TrimSpace(z.ID)
		if id == "" {
			return nil, fmt.Errorf("zone #%d has no id", i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("zone %q is defined twice", id)
		}
		seen[id] = true
		doc.Zones[i].ID = id
		if doc.Zones[i].Name == "" {
			doc.Zones[i].Name = id
		}
	}
	models.SortZones(doc.Zones)
	return doc.Zones, nil
}
