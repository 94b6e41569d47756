package models

import "sort"

// Zone is a physical warehouse area (ambient, chilled, frozen...).
// Zones are static configuration and are never persisted per session.
type Zone struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Color    string `json:"color" yaml:"color"`
	Sequence int    `json:"sequence" yaml:"sequence"`
	// LocationPrefix is the location path root owned by the zone ("WH/Stock/Cold")
	LocationPrefix string `json:"location_prefix" yaml:"location_prefix"`
}

// SortZones orders zones by sequence, then id
func SortZones(zones []Zone) {
	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].Sequence != zones[j].Sequence {
			return zones[i].Sequence < zones[j].Sequence
		}
		return zones[i].ID < zones[j].ID
	})
}

// FindZone looks a zone up by id
func FindZone(zones []Zone, id string) (Zone, bool) {
	for _, z := range zones {
		if z.ID == id {
			return z, true
		}
	}
	return Zone{}, false
}
