package cmd

import (
	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [execution_id]",
	Short: "Cancel a non-terminal execution",
	Long:  `Cancel an execution. If the client already runs it, the agent is asked to abort.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		execution, err := client.CancelExecution(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		cmd.Printf("Execution %s is now %s\n", execution.ID, colorizeStatus(execution.Status))
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
