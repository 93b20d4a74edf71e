package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trueface",
	Short: "A CLI tool for face identity enrollment and matching",
	Long: `TrueFace manages a registry of identities with face embeddings and
matches query embeddings against it using an approximate index with an
exact fallback. Embeddings are produced externally and passed in as
JSON files; this tool handles enrollment, matching, verification and
the recognition audit log.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
