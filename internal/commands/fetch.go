package commands

import (
	"github.com/spf13/cobra"

	"github.com/gaborage/vkflow/request"
	"github.com/gaborage/vkflow/sdk"
)

// NewFetchCommand creates the fetch command
func NewFetchCommand(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch URL",
		Short: "GET an absolute URL on the concurrent lane and print the body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context(), cmd, global)
			if err != nil {
				return err
			}
			defer e.close()

			payload, err := e.session.Await(cmd.Context(), request.New(request.URL(args[0]), sdk.RequestConfig(e.cfg)))
			if err != nil {
				return err
			}
			return printPayload(cmd, payload)
		},
	}
}
