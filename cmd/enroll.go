package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/trueface/internal/config"
	"github.com/kozaktomas/trueface/internal/store"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a new identity or add a face to an existing one",
	Long: `Enroll registers a face embedding in the identity store.

Without --id a new identity is created from --name and --email. With --id
the embedding is added as another face of the existing identity, which
improves match robustness across lighting and pose.

The embedding file is a JSON array of numbers, e.g. produced by an
external face embedding service.

Examples:
  # Create a new identity
  trueface enroll --name "Jane Doe" --email jane@example.com --embedding face.json

  # Add a second face to an existing identity
  trueface enroll --id 4f7c... --embedding face2.json`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("name", "", "Display name for a new identity")
	enrollCmd.Flags().String("email", "", "Email for a new identity")
	enrollCmd.Flags().String("id", "", "Existing identity to add the face to")
	enrollCmd.Flags().String("embedding", "", "Path to the embedding JSON file (required)")
	_ = enrollCmd.MarkFlagRequired("embedding")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()

	embedding, err := readEmbedding(mustGetString(cmd, "embedding"))
	if err != nil {
		return err
	}
	if dim := cfg.Profile().Dim; len(embedding) != dim {
		return fmt.Errorf("embedding has dimension %d, model %s expects %d",
			len(embedding), cfg.Embedding.Model, dim)
	}

	b, cleanup, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if id := mustGetString(cmd, "id"); id != "" {
		if err := b.AddFace(ctx, id, embedding); err != nil {
			return fmt.Errorf("adding face to %s: %w", id, err)
		}
		logAction(ctx, b, store.ActionRecord{IdentityID: id, Action: "face_added"})
		fmt.Printf("Added face to identity %s\n", id)
		return nil
	}

	name := mustGetString(cmd, "name")
	if name == "" {
		return fmt.Errorf("either --id or --name is required")
	}

	id, err := b.CreateIdentity(ctx, name, mustGetString(cmd, "email"), embedding)
	if err != nil {
		return fmt.Errorf("creating identity: %w", err)
	}
	logAction(ctx, b, store.ActionRecord{IdentityID: id, Action: "enrolled"})
	fmt.Printf("Enrolled %s as %s\n", name, id)
	fmt.Println("Note: the approximate index does not include new enrollments until 'index rebuild'.")
	return nil
}
