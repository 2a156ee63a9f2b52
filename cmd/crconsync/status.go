package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"crconsync/internal/exporter"
	"crconsync/pkg/state"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cursors, counters and the configuration summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := build(cfg, appLogger, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		st, err := rt.svc.Status(cmd.Context())
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		return printStatus(os.Stdout, st)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the status as JSON")
}

func printStatus(out io.Writer, st exporter.Status) error {
	fmt.Fprintf(out, "Server ID:    %s\n", st.ServerID)
	fmt.Fprintf(out, "Enabled:      %t\n", st.Enabled)
	fmt.Fprintf(out, "Target:       %s\n", st.Target)
	fmt.Fprintf(out, "State:        %s\n", st.StateLocation)
	fmt.Fprintf(out, "Database:     %s@%s:%d/%s\n", st.Database.User, st.Database.Host, st.Database.Port, st.Database.Name)
	fmt.Fprintf(out, "Exports:      %s\n", humanize.Comma(st.ExportCount))
	fmt.Fprintf(out, "Last export:  %s\n", whenOrNever(st.LastExport))
	fmt.Fprintf(out, "Last success: %s\n", whenOrNever(st.LastSuccess))
	if st.LastError != nil {
		fmt.Fprintf(out, "Last error:   %s\n", *st.LastError)
	}
	fmt.Fprintln(out)

	batch := map[state.Table]int{
		state.LogLines:       st.BatchSize.LogLines,
		state.PlayerSessions: st.BatchSize.PlayerSessions,
		state.PlayerStats:    st.BatchSize.PlayerStats,
		state.MapHistory:     st.BatchSize.MapHistory,
	}
	table := tablewriter.NewWriter(out)
	table.Header("Table", "Last Exported ID", "Total Exported", "Batch Size")
	for _, t := range state.Tables {
		if err := table.Append([]string{
			string(t),
			strconv.FormatInt(st.LastExportedIDs.Get(t), 10),
			humanize.Comma(st.TotalExported.Get(t)),
			humanize.Comma(int64(batch[t])),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func whenOrNever(ts *state.Timestamp) string {
	if ts == nil {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", ts.Format("2006-01-02 15:04:05 UTC"), humanize.Time(ts.Time))
}
