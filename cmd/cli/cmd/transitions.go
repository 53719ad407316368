package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var transitionsCmd = &cobra.Command{
	Use:   "transitions [execution_id]",
	Short: "Show the status history of an execution",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		res, err := client.GetTransitions(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		if len(res.Transitions) == 0 {
			cmd.Println("No transitions recorded.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "AT\tFROM\tTO")
		for _, tr := range res.Transitions {
			fmt.Fprintf(w, "%s\t%s\t%s\n", tr.At.Format(time.RFC3339Nano), tr.From, tr.To)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(transitionsCmd)
}
