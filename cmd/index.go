package cmd

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/trueface/internal/config"
	"github.com/kozaktomas/trueface/internal/match"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the approximate search index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the approximate index from the identity store",
	Long: `Rebuild scans every enrolled face embedding and constructs a fresh
index snapshot. The index is a build-once snapshot: enrollments after a
build are only findable through the exact scan until the next rebuild.

When ANN_INDEX_PATH is set the snapshot is also persisted there so later
commands start with it instead of scanning on startup.`,
	RunE: runIndexRebuild,
}

var indexInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show metadata of the persisted index snapshot",
	RunE:  runIndexInfo,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexInfoCmd)
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()

	b, cleanup, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := b.ListAllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("listing embeddings: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No enrolled embeddings; nothing to index.")
		if path := cfg.Match.IndexPath; path != "" {
			idx, _ := match.BuildIndex(nil, match.IndexParams{})
			return idx.Save(path)
		}
		return nil
	}

	bar := progressbar.NewOptions(len(entries),
		progressbar.OptionSetDescription("Indexing embeddings"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("vectors"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	profile := cfg.Profile()
	start := time.Now()
	idx, err := match.BuildIndex(entries, match.IndexParams{
		MaxNeighbors: profile.MaxNeighbors,
		EfSearch:     profile.EfSearch,
		Progress: func(inserted, total int) {
			_ = bar.Add(1)
		},
	})
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	_ = bar.Finish()
	fmt.Printf("\nIndexed %d vectors (dim %d) in %s\n", idx.Len(), idx.Dim(), time.Since(start).Round(time.Millisecond))

	if path := cfg.Match.IndexPath; path != "" {
		if err := idx.Save(path); err != nil {
			return fmt.Errorf("persisting index: %w", err)
		}
		fmt.Printf("Saved snapshot to %s\n", path)
	}
	return nil
}

func runIndexInfo(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	path := cfg.Match.IndexPath
	if path == "" {
		return fmt.Errorf("ANN_INDEX_PATH is not configured")
	}

	meta, err := match.LoadIndexMetadata(path)
	if err != nil {
		return fmt.Errorf("no usable snapshot at %s: %w", path, err)
	}

	fmt.Printf("Snapshot: %s\n", path)
	fmt.Printf("  Points:  %d\n", meta.PointCount)
	fmt.Printf("  Dim:     %d\n", meta.Dim)
	fmt.Printf("  Built:   %s\n", meta.BuildTime.Format(time.RFC3339))
	fmt.Printf("  Version: %d\n", meta.Version)
	return nil
}
