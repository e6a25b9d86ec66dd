package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// LoginOptions holds options for the login command
type LoginOptions struct {
	Token     string
	ExpiresIn time.Duration
}

// NewLoginCommand creates the login command
func NewLoginCommand(global *GlobalOptions) *cobra.Command {
	opts := &LoginOptions{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log the session in and store its token",
		Long: `Without --token the stored token is reused when valid; otherwise auth.url is
printed and the final redirect URL is read from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd.Context(), cmd, global)
			if err != nil {
				return err
			}
			defer e.close()

			if opts.Token != "" {
				err = e.session.LogInWith(cmd.Context(), opts.Token, opts.ExpiresIn)
			} else {
				err = e.authorize(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "session %s: %s\n", e.session.ID(), e.session.State())
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Token, "token", "", "Use this access token instead of the web flow")
	cmd.Flags().DurationVar(&opts.ExpiresIn, "expires-in", 0, "Lifetime of --token, 0 for no expiry")

	return cmd
}

// NewLogoutCommand creates the logout command
func NewLogoutCommand(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token of the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd.Context(), cmd, global)
			if err != nil {
				return err
			}
			defer e.close()

			restored, err := e.session.Restore(cmd.Context())
			if err != nil {
				return err
			}
			if !restored {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "session %s: not logged in\n", e.session.ID())
				return err
			}
			if err := e.session.LogOut(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "session %s: logged out\n", e.session.ID())
			return err
		},
	}
}
