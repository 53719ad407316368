package cmd

import (
	"execplane/pkg/api"

	"github.com/spf13/cobra"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run a catalog script on a client",
	Long: `Trigger a catalog script on one client. The client is named either by
its id or by the common name of its certificate.

Example:
  execctl trigger --script backup --client client-7
  execctl trigger --script backup --common-name store-042.example.net`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		scriptID, _ := flags.GetString("script")
		clientID, _ := flags.GetString("client")
		commonName, _ := flags.GetString("common-name")

		if scriptID == "" {
			cmd.Println("Error: --script is required")
			return
		}
		if clientID == "" && commonName == "" {
			cmd.Println("Error: one of --client or --common-name is required")
			return
		}

		client := newClient(cmd)
		if client == nil {
			return
		}

		execution, err := client.TriggerExecution(api.TriggerExecutionRequest{
			ScriptID:   scriptID,
			ClientID:   clientID,
			CommonName: commonName,
		})
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		cmd.Printf("🚀 Execution triggered!\nID: %s\nClient: %s\nStatus: %s\n", execution.ID, execution.ClientID, colorizeStatus(execution.Status))
	},
}

func init() {
	flags := triggerCmd.Flags()
	flags.StringP("script", "s", "", "Catalog script id (required)")
	flags.StringP("client", "c", "", "Target client id")
	flags.String("common-name", "", "Target certificate common name, resolved to a client id")

	rootCmd.AddCommand(triggerCmd)
}
