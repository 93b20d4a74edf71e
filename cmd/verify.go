package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/trueface/internal/config"
	"github.com/kozaktomas/trueface/internal/store"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a face embedding against one claimed identity",
	Long: `Verify answers "is this face the claimed person?" by comparing the
query embedding against every enrolled face of one identity and reporting
the best similarity. It always uses the exact path; the approximate index
plays no role in a verification decision.

Examples:
  trueface verify --id 4f7c... --embedding query.json
  trueface verify --id 4f7c... --embedding query.json --threshold 0.7`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("id", "", "Identity to verify against (required)")
	verifyCmd.Flags().String("embedding", "", "Path to the query embedding JSON file (required)")
	verifyCmd.Flags().Float64("threshold", 0, "Minimum similarity to accept (0 = model profile default)")
	verifyCmd.Flags().Bool("json", false, "Output as JSON")
	_ = verifyCmd.MarkFlagRequired("id")
	_ = verifyCmd.MarkFlagRequired("embedding")
}

type verifyOutput struct {
	IdentityID string  `json:"identity_id"`
	Verified   bool    `json:"verified"`
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
}

func runVerify(cmd *cobra.Command, args []string) error {
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

	id := mustGetString(cmd, "id")
	engine := newEngine(cfg, b)
	similarity, err := engine.Verify(ctx, id, embedding)
	if err != nil {
		return fmt.Errorf("verifying against %s: %w", id, err)
	}

	out := verifyOutput{
		IdentityID: id,
		Verified:   similarity >= threshold,
		Similarity: similarity,
		Threshold:  threshold,
	}
	logAction(ctx, b, store.ActionRecord{
		IdentityID: id,
		Action:     "verified",
		Confidence: &similarity,
		Metadata:   map[string]string{"accepted": fmt.Sprintf("%t", out.Verified)},
	})

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if out.Verified {
		fmt.Printf("Verified: similarity %.4f (threshold %.2f)\n", similarity, threshold)
	} else {
		fmt.Printf("Not verified: similarity %.4f (threshold %.2f)\n", similarity, threshold)
	}
	return nil
}
