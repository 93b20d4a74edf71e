package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/trueface/internal/config"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent recognition actions",
	Long: `Logs prints the recognition audit trail: enrollments, matches,
verifications and misses, newest first.

Examples:
  trueface logs
  trueface logs --limit 50 --json`,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().Int("limit", 20, "Maximum number of records to show")
	logsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runLogs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()

	limit := mustGetInt(cmd, "limit")
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}

	b, cleanup, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := b.RecentActions(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing actions: %w", err)
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println("No recorded actions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tIDENTITY\tCONFIDENCE")
	for _, rec := range records {
		confidence := "-"
		if rec.Confidence != nil {
			confidence = fmt.Sprintf("%.4f", *rec.Confidence)
		}
		identity := rec.IdentityID
		if identity == "" {
			identity = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Action, identity, confidence)
	}
	return w.Flush()
}
