package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user"
)

var adminSeed user.AdminSeed

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create the administrator account if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, repo, err := openUsers(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		u, created, err := newUserService(repo).CreateAdmin(cmd.Context(), adminSeed)
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		out := cmd.OutOrStdout()
		if !created {
			fmt.Fprintf(out, "Admin user already exists: %s (%s)\n", u.Email, u.Role)
			return nil
		}
		fmt.Fprintln(out, "Admin user created successfully!")
		fmt.Fprintf(out, "Email: %s\n", u.Email)
		fmt.Fprintf(out, "Username: %s\n", adminSeed.Username)
		fmt.Fprintln(out, "Change the password after the first login.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createAdminCmd)
	f := createAdminCmd.Flags()
	f.StringVar(&adminSeed.Email, "email", "admin@morningstar.edu", "Administrator email")
	f.StringVar(&adminSeed.Username, "username", "admin", "Administrator username")
	f.StringVar(&adminSeed.Password, "password", "admin123", "Initial password")
	f.StringVar(&adminSeed.FirstName, "first-name", "System", "First name")
	f.StringVar(&adminSeed.LastName, "last-name", "Administrator", "Last name")
}
