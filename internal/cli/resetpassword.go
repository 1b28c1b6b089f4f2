package cli

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/griffithind/dockge/internal/auth"
	"github.com/griffithind/dockge/internal/db"
)

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Reset the admin password",
	Long: `Reset the password of the admin account directly in the database.
All outstanding login tokens are revoked.`,
	RunE: runResetPassword,
}

func init() {
	rootCmd.AddCommand(resetPasswordCmd)
}

func runResetPassword(cmd *cobra.Command, args []string) error {
	store, err := db.Open(viper.GetString("data-dir"))
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.InitSecrets(); err != nil {
		return err
	}

	user, err := store.FirstActiveUser()
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("no user found, run the server and complete setup first")
	}
	pterm.Info.Printfln("Resetting password for %s", user.Username)

	password, err := promptPassword("New password: ")
	if err != nil {
		return err
	}
	if len(password) < auth.MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	if err := store.UpdateUserPassword(user, password); err != nil {
		return err
	}
	// Revoke every outstanding token.
	if err := store.RotateJWTSecret(); err != nil {
		return err
	}

	pterm.Success.Println("Password has been reset.")
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	raw, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
