// Package session holds the commands run inside a sandbox to report
// interview progress back to the server.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/benchroom/benchroom/pkg/client"
	"github.com/spf13/cobra"
)

// Cmd groups the in-sandbox session commands.
var Cmd = &cobra.Command{
	Use:   "session",
	Short: "Report interview progress from inside a sandbox",
	Long: "Session commands read INSTANCE_ID and BENCHROOM_SERVER_URL from the " +
		"sandbox environment. Without INSTANCE_ID they do nothing.",
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the timer state of this sandbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.FromEnv()
		if !c.Enabled() {
			fmt.Fprintln(cmd.OutOrStdout(), "Not running inside a benchroom sandbox.")
			return nil
		}

		st, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

var startInterviewCmd = &cobra.Command{
	Use:   "start-interview",
	Short: "Record that the candidate opened the initial interview",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.FromEnv()
		if !c.Enabled() {
			fmt.Fprintln(cmd.OutOrStdout(), "Not running inside a benchroom sandbox.")
			return nil
		}

		res, err := c.StartInterview(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Interview started for instance %s\n", res.InstanceID)
		return nil
	},
}

func init() {
	Cmd.AddCommand(statusCmd, startInterviewCmd)
}
