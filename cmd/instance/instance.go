package instance

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/benchroom/benchroom/internal/orchestrator"
	"github.com/benchroom/benchroom/pkg/client"
	"github.com/spf13/cobra"
)

var server string

// Cmd groups sandbox instance commands.
var Cmd = &cobra.Command{
	Use:     "instance",
	Aliases: []string{"instances", "i"},
	Short:   "Create, list and delete candidate sandboxes",
}

var (
	createTest      uint
	createCandidate uint
	createRepo      string
	createToken     string
	createRef       string
)

var createCmd = &cobra.Command{
	Use:     "create",
	Short:   "Provision a sandbox for a test, optionally bound to a candidate",
	Example: "benchroom instance create --test 1 --candidate 7",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &orchestrator.CreateRequest{
			TestID:    createTest,
			RepoURL:   createRepo,
			RepoToken: createToken,
			RepoRef:   createRef,
		}
		if createCandidate > 0 {
			id := createCandidate
			req.CandidateID = &id
		}

		inst, err := newClient().CreateInstance(cmd.Context(), req)
		if err != nil {
			return err
		}

		return printJSON(cmd.OutOrStdout(), inst)
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id|container>",
	Aliases: []string{"rm"},
	Short:   "Tear down a sandbox and its workspace",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().DeleteInstance(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Deleted instance %d (container %s, removed: %t)\n", res.InstanceID, res.ContainerRef, res.ContainerRemoved)
		return nil
	},
}

var (
	listTest      uint
	listCandidate uint
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sandboxes with their container state",
	RunE: func(cmd *cobra.Command, args []string) error {
		details, err := newClient().ListInstances(cmd.Context(), listTest, listCandidate)
		if err != nil {
			return err
		}

		return printTable(cmd.OutOrStdout(), details)
	},
}

func init() {
	Cmd.PersistentFlags().StringVar(&server, "server", "", "benchroom server base URL (default: BENCHROOM_SERVER_URL)")

	createCmd.Flags().UintVar(&createTest, "test", 0, "Test ID")
	createCmd.Flags().UintVar(&createCandidate, "candidate", 0, "Candidate ID (omit for an admin sandbox)")
	createCmd.Flags().StringVar(&createRepo, "repo", "", "Override the test's starter repository URL")
	createCmd.Flags().StringVar(&createToken, "token", "", "Override the repository token (literal or secret:// reference)")
	createCmd.Flags().StringVar(&createRef, "ref", "", "Branch or tag to check out")
	_ = createCmd.MarkFlagRequired("test")

	listCmd.Flags().UintVar(&listTest, "test", 0, "Only list instances of this test")
	listCmd.Flags().UintVar(&listCandidate, "candidate", 0, "Only list instances of this candidate")

	Cmd.AddCommand(createCmd, deleteCmd, listCmd)
}

func newClient() *client.Client {
	if server == "" {
		return client.FromEnv()
	}
	return client.New(server, "")
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(w io.Writer, details []*orchestrator.Detail) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTEST\tCANDIDATE\tSTATUS\tPORT\tCONTAINER")
	for _, d := range details {
		candidate := "-"
		if d.CandidateID != nil {
			candidate = fmt.Sprint(*d.CandidateID)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%s\n", d.ID, d.TestID, candidate, d.Status, d.Port, d.ContainerRef)
	}
	return tw.Flush()
}
