package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/headline-goat/statwatch/internal/store"
)

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <test-id>",
	Short: "Delete the stored history of a test",
	Long: `Delete every stored analysis pass of a test. The next analysis of the
test starts a fresh history and traffic baseline.

Examples:
  statwatch delete hero
  statwatch delete hero --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	testID := args[0]

	if !deleteYes {
		_, err := (&promptui.Prompt{
			Label:     fmt.Sprintf("Delete the history of %s", testID),
			IsConfirm: true,
		}).Run()
		if err != nil {
			// promptui reports a declined confirmation as ErrAbort
			if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	return withStore(ctx, cfg, func(s store.Store) error {
		return deleteHistory(ctx, s, testID, cmd.OutOrStdout())
	})
}

func deleteHistory(ctx context.Context, s store.Store, testID string, out io.Writer) error {
	if err := s.Delete(ctx, testID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("test '%s' not found", testID)
		}
		return fmt.Errorf("failed to delete history: %w", err)
	}
	fmt.Fprintf(out, "Deleted history of %s\n", testID)
	return nil
}
