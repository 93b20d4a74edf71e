package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/trueface/internal/config"
	"github.com/kozaktomas/trueface/internal/store"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Find the best-matching identity for a face embedding",
	Long: `Match compares a query embedding against every enrolled identity and
reports the single best match with its confidence. The confidence is the
precise cosine similarity against the identity's best face, regardless of
whether the approximate index or the exact scan produced the candidate.

A match below the threshold is reported as no match. The threshold comes
from the model profile and can be overridden with --threshold or
MATCH_THRESHOLD.

Examples:
  trueface match --embedding query.json
  trueface match --embedding query.json --threshold 0.7 --json`,
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("embedding", "", "Path to the query embedding JSON file (required)")
	matchCmd.Flags().Float64("threshold", 0, "Minimum confidence to accept a match (0 = model profile default)")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
	_ = matchCmd.MarkFlagRequired("embedding")
}

type matchOutput struct {
	Matched    bool    `json:"matched"`
	IdentityID string  `json:"identity_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()

	embedding, err := readEmbedding(mustGetString(cmd, "embedding"))
	if err != nil {
		return err
	}

	threshold := mustGetFloat64(cmd, "threshold")
	if threshold <= 0 {
		threshold = cfg.Profile().Threshold
	}

	b, cleanup, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	engine := newEngine(cfg, b)
	result, err := engine.FindBestMatch(ctx, embedding)
	if err != nil {
		return fmt.Errorf("matching: %w", err)
	}

	out := matchOutput{Threshold: threshold}
	if result != nil && result.Confidence >= threshold {
		out.Matched = true
		out.IdentityID = result.IdentityID
		out.Name = result.Name
		out.Confidence = result.Confidence
		logAction(ctx, b, store.ActionRecord{
			IdentityID: result.IdentityID,
			Action:     "matched",
			Confidence: &result.Confidence,
		})
	} else {
		if result != nil {
			out.Confidence = result.Confidence
		}
		logAction(ctx, b, store.ActionRecord{
			Action:     "no_match",
			Confidence: &out.Confidence,
		})
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if out.Matched {
		fmt.Printf("Matched %s (%s) with confidence %.4f\n", out.Name, out.IdentityID, out.Confidence)
	} else {
		fmt.Printf("No match (best confidence %.4f, threshold %.2f)\n", out.Confidence, threshold)
	}
	return nil
}
