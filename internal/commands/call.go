package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaborage/vkflow/request"
	"github.com/gaborage/vkflow/sdk"
)

// CallOptions holds options for the call command
type CallOptions struct {
	Post        bool
	MaxAttempts int
	Timeout     time.Duration
	Language    string
}

// NewCallCommand creates the call command
func NewCallCommand(global *GlobalOptions) *cobra.Command {
	opts := &CallOptions{MaxAttempts: -1}

	cmd := &cobra.Command{
		Use:   "call METHOD [key=value ...]",
		Short: "Call an API method and print the response payload",
		Example: `  vkcall call users.get user_ids=1 fields=photo_100
  vkcall call wall.post message=hello --post`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}

			e, err := setup(cmd.Context(), cmd, global)
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.authorize(cmd.Context()); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			cfg := opts.apply(sdk.RequestConfig(e.cfg))
			payload, err := e.session.Await(cmd.Context(), request.New(request.API(args[0], params), cfg))
			if err != nil {
				return err
			}
			return printPayload(cmd, payload)
		},
	}

	cmd.Flags().BoolVar(&opts.Post, "post", false, "Send parameters as a POST form")
	cmd.Flags().IntVar(&opts.MaxAttempts, "attempts", -1, "Maximum attempts, 0 for unlimited (default from config)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "Per attempt timeout (default from config)")
	cmd.Flags().StringVar(&opts.Language, "lang", "", "Response language")

	return cmd
}

func (o *CallOptions) apply(cfg request.Config) request.Config {
	var mut []request.Option
	if o.Post {
		mut = append(mut, request.WithHTTPMethod(request.MethodPost))
	}
	if o.MaxAttempts >= 0 {
		mut = append(mut, request.WithMaxAttempts(o.MaxAttempts))
	}
	if o.Timeout > 0 {
		mut = append(mut, request.WithTimeout(o.Timeout))
	}
	if o.Language != "" {
		mut = append(mut, request.WithLanguage(o.Language))
	}
	return cfg.Mutated(mut...)
}

func parseParams(args []string) (request.Parameters, error) {
	params := make(request.Parameters, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", arg)
		}
		params[key] = value
	}
	return params, nil
}
