package picking

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/xelth-com/eckpick/internal/models"
)

// ZoneReport summarizes one visit of a zone; built when the picker leaves it
type ZoneReport struct {
	SessionID  string           `json:"session_id"`
	Context    models.ContextID `json:"context"`
	BatchName  string           `json:"batch_name,omitempty"`
	Zone       models.Zone      `json:"zone"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Duration   time.Duration    `json:"duration"`

	TotalLocations     int              `json:"total_locations"`
	CompletedLocations int              `json:"completed_locations"`
	Locations          []LocationReport `json:"locations"`
	Text               string           `json:"text"`
}

// LocationReport is one location of a ZoneReport. Lines are empty for
// locations whose operations were never loaded.
type LocationReport struct {
	LocationID int64                 `json:"location_id"`
	Name       string                `json:"name"`
	Status     models.LocationStatus `json:"status"`
	Duration   time.Duration         `json:"duration,omitempty"`
	Lines      []ReportLine          `json:"lines,omitempty"`
}

type ReportLine struct {
	ProductName string  `json:"product_name"`
	ProductCode string  `json:"product_code,omitempty"`
	DoneQty     float64 `json:"done_qty"`
	RequiredQty float64 `json:"required_qty"`
	UoM         string  `json:"uom"`
}

// Short reports whether less than required was picked
func (l ReportLine) Short() bool { return l.DoneQty < l.RequiredQty }

// buildZoneReport reads the current visit. Callers hold n.mu.
func (n *Navigator) buildZoneReport() ZoneReport {
	finished := n.now()
	r := ZoneReport{
		SessionID:      n.id,
		Context:        n.st.pctx.ContextID(),
		StartedAt:      n.st.zoneStart,
		FinishedAt:     finished,
		TotalLocations: len(n.st.locations),
	}
	if !n.st.zoneStart.IsZero() {
		r.Duration = finished.Sub(n.st.zoneStart)
	}
	if n.st.batch != nil {
		r.BatchName = n.st.batch.Name
	}
	if n.st.zone != nil {
		r.Zone = *n.st.zone
	}
	for _, loc := range n.st.locations {
		key := models.NewCacheKey(r.Context, loc.ID)
		lr := LocationReport{LocationID: loc.ID, Name: loc.Name}
		if status, ok := n.cache.GetStatus(key); ok {
			lr.Status = status
		}
		if lr.Status.IsFullyCompleted {
			r.CompletedLocations++
		}
		if tm := n.st.timings[loc.ID]; tm != nil && !tm.openedAt.IsZero() {
			end := tm.completedAt
			if end.IsZero() {
				end = finished
			}
			lr.Duration = end.Sub(tm.openedAt)
		}
		if ops, ok := n.cache.Peek(key); ok {
			for _, op := range ops {
				lr.Lines = append(lr.Lines, ReportLine{
					ProductName: op.ProductName,
					ProductCode: op.ProductCode,
					DoneQty:     op.DoneQty,
					RequiredQty: op.RequiredQty,
					UoM:         op.UoM,
				})
			}
		}
		r.Locations = append(r.Locations, lr)
	}
	r.Text = r.format()
	return r
}

// format renders the report as plain text for the supervisor
func (r ZoneReport) format() string {
	var b strings.Builder
	title := r.Zone.Name
	if title == "" {
		title = r.Zone.ID
	}
	if r.BatchName != "" {
		fmt.Fprintf(&b, "%s / zone %s\n", r.BatchName, title)
	} else {
		fmt.Fprintf(&b, "zone %s\n", title)
	}
	fmt.Fprintf(&b, "%d of %d locations complete in %s\n\n",
		r.CompletedLocations, r.TotalLocations, r.Duration.Round(time.Second))

	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, loc := range r.Locations {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n",
			loc.Name, loc.Status.Badge(), loc.Status.FullyDoneOps, loc.Status.TotalOps, loc.Duration.Round(time.Second))
		for _, line := range loc.Lines {
			mark := ""
			if line.Short() {
				mark = "short"
			}
			fmt.Fprintf(w, "  %s\t%s\t%g/%g %s\t%s\n",
				line.ProductName, line.ProductCode, line.DoneQty, line.RequiredQty, line.UoM, mark)
		}
	}
	w.Flush()
	return b.String()
}

// publishZoneReport builds the report before the list is left. Callers hold n.mu.
func (n *Navigator) publishZoneReport() {
	r := n.buildZoneReport()
	n.log.Info().
		Str("context", r.Context.String()).
		Str("zone", r.Zone.ID).
		Int("completed", r.CompletedLocations).
		Int("total", r.TotalLocations).
		Dur("duration", r.Duration).
		Msg("zone finished")
	n.publish(EventZoneCompleted, r)
}
