package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report [date]",
	Short: "Print the attendance roster of a day (default today)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Bool("json", false, "Output as JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	date := ""
	if len(args) == 1 {
		date = args[0]
	}
	report, err := a.attendance.DailyReport(cmd.Context(), date)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("Attendance for %s: %d of %d present (%.1f%%)\n\n", report.Date, report.PresentCount, report.TotalIdentities, report.AttendanceRate)
	if len(report.Records) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEXTERNAL ID\tNAME\tSTATUS\tRECORDED BY")
	for _, r := range report.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Time, r.ExternalID, r.Name, r.Status, r.RecordedBy)
	}
	return tw.Flush()
}
