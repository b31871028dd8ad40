package cmd

import (
	"github.com/benchroom/benchroom/cmd/instance"
	"github.com/benchroom/benchroom/cmd/session"
	"github.com/benchroom/benchroom/cmd/start"
	"github.com/benchroom/benchroom/cmd/test"
	"github.com/spf13/cobra"
)

var cmds = []*cobra.Command{
	start.Cmd,
	test.Cmd,
	instance.Cmd,
	session.Cmd,
}

// Execute builds the command tree and executes commands.
func Execute() error {
	command := &cobra.Command{
		Use:           "benchroom",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	for _, c := range cmds {
		command.AddCommand(c)
	}

	return command.Execute()
}
