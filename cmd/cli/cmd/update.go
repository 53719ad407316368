package cmd

import (
	"execplane/pkg/api"

	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Ask a client to update its agent",
	Long: `Queue an update job for a client. Without --version the client updates
to the latest release.

Example:
  execctl update --client client-7 --version 2.4.0`,
	Run: func(cmd *cobra.Command, args []string) {
		clientID, _ := cmd.Flags().GetString("client")
		version, _ := cmd.Flags().GetString("version")

		if clientID == "" {
			cmd.Println("Error: --client is required")
			return
		}

		client := newClient(cmd)
		if client == nil {
			return
		}

		req := api.TriggerClientUpdateRequest{ClientID: clientID}
		if version != "" {
			req.TargetVersion = &version
		}

		job, err := client.TriggerClientUpdate(req)
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		printUpdateJob(cmd, job)
	},
}

var updateStatusCmd = &cobra.Command{
	Use:   "update-status [job_id]",
	Short: "Get status of a client update job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		job, err := client.GetClientUpdate(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		printUpdateJob(cmd, job)
	},
}

func printUpdateJob(cmd *cobra.Command, job *api.ClientUpdateJobResponse) {
	target := "latest"
	if job.TargetVersion != nil {
		target = *job.TargetVersion
	}
	cmd.Printf("%sJob ID:%s      %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sClient:%s      %s\n", colorDim, colorReset, job.ClientID)
	cmd.Printf("%sVersion:%s     %s\n", colorDim, colorReset, target)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, job.Status)
	if job.Reason != nil {
		cmd.Printf("%sReason:%s      %s%s%s\n", colorDim, colorReset, colorRed, *job.Reason, colorReset)
	}
}

func init() {
	updateCmd.Flags().StringP("client", "c", "", "Client id (required)")
	updateCmd.Flags().String("version", "", "Target version (default latest)")

	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(updateStatusCmd)
}
