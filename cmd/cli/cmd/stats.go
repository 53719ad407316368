package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// statsOrder prints statuses in lifecycle order.
var statsOrder = []string{"PENDING", "DISPATCHED", "RUNNING", "SUCCEEDED", "FAILED", "TIMED_OUT", "CANCELLED"}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count executions per status",
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		res, err := client.GetStats()
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "STATUS\tCOUNT")
		for _, st := range statsOrder {
			fmt.Fprintf(w, "%s\t%d\n", st, res.Counts[st])
		}
		fmt.Fprintf(w, "TOTAL\t%d\n", res.Total)
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
