package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions",
	Long:  `List executions newest first, optionally filtered by script, client and status.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		flags := cmd.Flags()
		var f ListFilter
		f.ScriptID, _ = flags.GetString("script")
		f.ClientID, _ = flags.GetString("client")
		f.Status, _ = flags.GetString("status")
		f.Page, _ = flags.GetInt("page")
		f.PageSize, _ = flags.GetInt("page-size")

		res, err := client.ListExecutions(f)
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		if len(res.Items) == 0 {
			cmd.Println("No executions found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "EXECUTION ID\tSCRIPT\tCLIENT\tSTATUS\tCREATED\tEXIT")
		for _, e := range res.Items {
			exit := "-"
			if e.ExitCode != nil {
				exit = fmt.Sprintf("%d", *e.ExitCode)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ID,
				e.ScriptID,
				e.ClientID,
				e.Status,
				e.CreatedAt.Format(time.RFC3339),
				exit,
			)
		}
		w.Flush()

		cmd.Printf("%d of %d executions\n", len(res.Items), res.Total)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	flags := listCmd.Flags()
	flags.String("script", "", "Filter by script id")
	flags.String("client", "", "Filter by client id")
	flags.String("status", "", "Filter by status")
	flags.IntP("page", "p", 1, "Page number, starting at 1")
	flags.IntP("page-size", "l", 20, "Number of executions per page")
}
