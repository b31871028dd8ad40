package test

import "github.com/spf13/cobra"

// Cmd groups test catalog commands.
var Cmd = &cobra.Command{
	Use:   "test",
	Short: "Manage interview tests",
}
