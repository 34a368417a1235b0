package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migratePasswordsCmd = &cobra.Command{
	Use:   "migrate-passwords",
	Short: "Hash any passwords still stored in plain text",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, repo, err := openUsers(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		rep, err := newUserService(repo).MigratePlaintextPasswords(cmd.Context())
		if err != nil {
			return fmt.Errorf("migrate passwords: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Migration completed: %d updated, %d already hashed\n", rep.Updated, rep.Skipped)
		for _, id := range rep.TooLong {
			fmt.Fprintf(out, "User %d: password longer than 72 bytes was not migrated; reset it manually\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migratePasswordsCmd)
}
