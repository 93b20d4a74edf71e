package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/trueface/internal/config"
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List the top-k candidate identities for a face embedding",
	Long: `Candidates returns a ranked list of enrolled identities by similarity
to the query embedding, for review workflows where a human picks among
plausible matches rather than trusting a single answer.

Scores come from the approximate index when one is built; pass
RESCORE_TOP_K=1 to re-score each candidate precisely against the store.

Examples:
  trueface candidates --embedding query.json --k 5
  trueface candidates --embedding query.json --k 10 --json`,
	RunE: runCandidates,
}

func init() {
	rootCmd.AddCommand(candidatesCmd)

	candidatesCmd.Flags().String("embedding", "", "Path to the query embedding JSON file (required)")
	candidatesCmd.Flags().Int("k", 5, "Number of candidates to return")
	candidatesCmd.Flags().Bool("json", false, "Output as JSON")
	_ = candidatesCmd.MarkFlagRequired("embedding")
}

func runCandidates(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()

	embedding, err := readEmbedding(mustGetString(cmd, "embedding"))
	if err != nil {
		return err
	}

	k := mustGetInt(cmd, "k")
	if k <= 0 {
		return fmt.Errorf("--k must be positive, got %d", k)
	}

	b, cleanup, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	engine := newEngine(cfg, b)
	results, err := engine.SearchCandidates(ctx, embedding, k)
	if err != nil {
		return fmt.Errorf("searching candidates: %w", err)
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No enrolled identities.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tCONFIDENCE\tNAME\tID")
	for i, r := range results {
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", i+1, r.Confidence, r.Name, r.IdentityID)
	}
	return w.Flush()
}
