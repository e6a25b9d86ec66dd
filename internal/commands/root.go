// Package commands implements the vkcall command line.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gaborage/vkflow/config"
	"github.com/gaborage/vkflow/logger"
	"github.com/gaborage/vkflow/sdk"
	"github.com/gaborage/vkflow/session"
)

// GlobalOptions are shared by every command.
type GlobalOptions struct {
	ConfigFile string
	SessionID  string
	Verbose    bool
}

// NewRootCommand assembles the vkcall command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &GlobalOptions{}

	root := &cobra.Command{
		Use:   "vkcall",
		Short: "Call API methods through the vkflow engine",
		Long: `vkcall sends API calls through a vkflow session: rate limited, retried,
and recovered from authorization, captcha and validation errors interactively.

Configuration comes from vkflow.yaml and VKFLOW_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "Configuration file (default vkflow.yaml when present)")
	root.PersistentFlags().StringVarP(&opts.SessionID, "session", "s", sdk.DefaultSessionID, "Session id, also keys the stored token")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Debug logging to stderr")

	root.AddCommand(
		NewCallCommand(opts),
		NewFetchCommand(opts),
		NewLoginCommand(opts),
		NewLogoutCommand(opts),
	)
	return root
}

// env is what a command needs at run time.
type env struct {
	cfg     *config.Config
	sdk     *sdk.SDK
	session *session.Session
}

func (e *env) close() {
	_ = e.sdk.Close(context.Background())
}

// setup loads configuration and builds the SDK with terminal presenters bound
// to the command's streams.
func setup(ctx context.Context, cmd *cobra.Command, opts *GlobalOptions) (*env, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), level, true, nil)

	terminal := NewTerminal(cmd.InOrStdin(), cmd.ErrOrStderr())
	s, err := sdk.New(ctx, cfg,
		sdk.WithLogger(log),
		sdk.WithCaptchaPresenter(terminal.Captcha()),
		sdk.WithWebPresenter(terminal.Web()),
	)
	if err != nil {
		return nil, err
	}

	sess := s.Default()
	if opts.SessionID != sdk.DefaultSessionID {
		sess = s.Sessions.New(sdk.SessionOptions(cfg, opts.SessionID))
	}
	return &env{cfg: cfg, sdk: s, session: sess}, nil
}

// authorize logs the session in with auth.token when set, else with the stored
// token or the web flow.
func (e *env) authorize(ctx context.Context) error {
	if raw := e.cfg.String("auth.token", ""); raw != "" {
		return e.session.LogInWith(ctx, raw, 0)
	}
	return e.session.LogIn(ctx)
}

func printPayload(cmd *cobra.Command, payload []byte) error {
	_, err := fmt.Fprintln(cmd.OutOrStdout(), string(payload))
	return err
}
