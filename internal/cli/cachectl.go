// Package cli implements cachectl, the offline tool for looking into the
// per-session cache mirrors without a running server.
//
//	cachectl
//	├── inspect <session-id>   # cached locations and their badges
//	│   └── --json
//	├── clear <session-id>     # wipe one session's store
//	└── zones                  # print the zone table
//	    └── --file, -f
//
// The store backend is selected the same way the server selects it
// (STORE_BACKEND, STORE_DIR, BADGER_PATH, PG_*).
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xelth-com/eckpick/internal/buildinfo"
	"github.com/xelth-com/eckpick/internal/config"
	"github.com/xelth-com/eckpick/internal/database"
	"github.com/xelth-com/eckpick/internal/picking/cache"
	"github.com/xelth-com/eckpick/internal/picking/store"
)

// LocationRow is one cached location as reported by inspect
type LocationRow struct {
	Key        string    `json:"key"`
	Context    string    `json:"context"`
	LocationID int64     `json:"location_id"`
	Operations int       `json:"operations"`
	Done       int       `json:"done"`
	Badge      string    `json:"badge"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Report is the inspect output
type Report struct {
	SessionID string        `json:"session_id"`
	Backend   string        `json:"backend"`
	Locations []LocationRow `json:"locations"`
	Completed int           `json:"completed"`
}

// BuildCLI assembles the cachectl command tree
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and clear picking session caches",
		Version:       buildinfo.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(buildInspectCommand())
	rootCmd.AddCommand(buildClearCommand())
	rootCmd.AddCommand(buildZonesCommand())

	return rootCmd
}

func buildInspectCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <session-id>",
		Short: "Show what a session has cached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := inspect(cmd, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printReport(cmd, report)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")

	return cmd
}

func buildClearCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear <session-id>",
		Short: "Delete everything cached for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, args[0], func(_ *config.Config, st store.Store) error {
				if err := st.Clear(); err != nil {
					return fmt.Errorf("failed to clear session %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared session %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func buildZonesCommand() *cobra.Command {
	var zonesFile string

	cmd := &cobra.Command{
		Use:   "zones",
		Short: "Print the configured picking zones",
		RunE: func(cmd *cobra.Command, args []string) error {
			if zonesFile == "" {
				zonesFile = os.Getenv("ZONES_FILE")
			}
			zones, err := config.LoadZones(zonesFile)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSEQ\tPREFIX")
			for _, z := range zones {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", z.ID, z.Name, z.Sequence, z.LocationPrefix)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&zonesFile, "file", "f", "", "Zone YAML file (defaults to ZONES_FILE)")

	return cmd
}

// withStore opens the configured backend, hands fn the session's store and
// releases everything afterwards
func withStore(cmd *cobra.Command, sessionID string, fn func(*config.Config, store.Store) error) error {
	cfg, err := config.LoadStorage()
	if err != nil {
		return err
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().
		Level(zerolog.WarnLevel)

	stores, err := database.OpenSessionStores(cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	st, err := stores.Factory(sessionID)
	if err != nil {
		return fmt.Errorf("failed to open session %s: %w", sessionID, err)
	}
	defer st.Close()

	return fn(cfg, st)
}

func inspect(cmd *cobra.Command, sessionID string) (Report, error) {
	report := Report{SessionID: sessionID, Locations: []LocationRow{}}
	err := withStore(cmd, sessionID, func(cfg *config.Config, st store.Store) error {
		report.Backend = cfg.Store.Backend
		c, err := cache.New(st)
		if err != nil {
			return err
		}
		for _, key := range c.Keys() {
			ops, _ := c.Peek(key)
			status, _ := c.GetStatus(key)
			fetched, _ := c.Timestamp(key)
			report.Locations = append(report.Locations, LocationRow{
				Key:        key.String(),
				Context:    key.Context.String(),
				LocationID: key.LocationID,
				Operations: len(ops),
				Done:       status.FullyDoneOps,
				Badge:      status.Badge(),
				FetchedAt:  fetched,
			})
			if status.IsFullyCompleted {
				report.Completed++
			}
		}
		return nil
	})
	return report, err
}

func printReport(cmd *cobra.Command, r Report) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s (%s): %d locations cached\n", r.SessionID, r.Backend, len(r.Locations))
	if len(r.Locations) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTEXT\tLOCATION\tOPS\tDONE\tSTATUS\tFETCHED")
	for _, row := range r.Locations {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n",
			row.Context, row.LocationID, row.Operations, row.Done, row.Badge, row.FetchedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d of %d locations complete\n", r.Completed, len(r.Locations))
	return nil
}
