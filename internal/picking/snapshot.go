package picking

import (
	"time"

	"github.com/xelth-com/eckpick/internal/models"
)

// ZoneView is one zone tile with its open operation count
type ZoneView struct {
	models.Zone
	Count int `json:"count"`
}

// LocationView is one row of the location list
type LocationView struct {
	models.StockLocation
	ShortName   string                 `json:"short_name"`
	Status      *models.LocationStatus `json:"status,omitempty"`
	Badge       string                 `json:"badge"`
	Highlighted bool                   `json:"highlighted"`
}

// Snapshot is everything the UI renders for a session
type Snapshot struct {
	SessionID string            `json:"session_id"`
	Mode      Mode              `json:"mode"`
	Flow      Flow              `json:"flow"`
	Context   *models.ContextID `json:"context,omitempty"`
	Batch     *models.Batch     `json:"batch,omitempty"`
	Order     *models.Order     `json:"order,omitempty"`

	Zones   []ZoneView    `json:"zones,omitempty"`
	Zone    *models.Zone  `json:"zone,omitempty"`
	Since   *time.Time    `json:"zone_started_at,omitempty"`
	Elapsed time.Duration `json:"zone_elapsed,omitempty"`

	Locations  []LocationView         `json:"locations,omitempty"`
	Location   *models.StockLocation  `json:"location,omitempty"`
	Operations []models.Operation     `json:"operations,omitempty"`
	Status     *models.LocationStatus `json:"status,omitempty"`

	ScanAlert     *ScanAlert   `json:"scan_alert,omitempty"`
	WriteErrors   []WriteError `json:"write_errors,omitempty"`
	PendingWrites int          `json:"pending_writes"`
	CachedCount   int          `json:"cached_locations"`
}

// Snapshot renders the current state. Statuses come from the cache so that
// background refreshes show up without reopening anything.
func (s *Session) Snapshot() Snapshot {
	n := s.nav
	n.mu.Lock()
	snap := Snapshot{
		SessionID: s.ID,
		Mode:      n.st.mode,
		Flow:      n.st.flow,
		Batch:     n.st.batch,
		Order:     n.st.order,
		Zone:      n.st.zone,
	}
	if n.st.pctx != nil {
		id := n.st.pctx.ContextID()
		snap.Context = &id
	}
	if n.st.mode == ModeZoneSelect {
		for _, z := range n.zones {
			snap.Zones = append(snap.Zones, ZoneView{Zone: z, Count: n.st.zoneCounts[z.ID]})
		}
	}
	if !n.st.zoneStart.IsZero() {
		start := n.st.zoneStart
		snap.Since = &start
		snap.Elapsed = n.now().Sub(start)
	}
	if snap.Context != nil && len(n.st.locations) > 0 {
		statuses := n.cache.StatusesFor(*snap.Context)
		for _, loc := range n.st.locations {
			v := LocationView{
				StockLocation: loc,
				ShortName:     loc.ShortName(),
				Badge:         "none",
				Highlighted:   loc.ID == n.st.highlighted,
			}
			if st, ok := statuses[loc.ID]; ok {
				v.Status = &st
				v.Badge = st.Badge()
			}
			snap.Locations = append(snap.Locations, v)
		}
	}
	if n.st.location != nil {
		loc := *n.st.location
		snap.Location = &loc
		snap.Operations = cloneOperations(n.st.operations)
		st := models.ComputeLocationStatus(n.st.operations)
		snap.Status = &st
	}
	n.mu.Unlock()

	snap.ScanAlert = s.ScanAlert()
	snap.WriteErrors = s.WriteErrors()
	snap.PendingWrites = s.cache.PendingEdits()
	snap.CachedCount = s.cache.Len()
	return snap
}
