package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"execplane/pkg/api"

	"github.com/spf13/cobra"
)

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Manage the script catalog",
}

var scriptPutCmd = &cobra.Command{
	Use:   "put [script_id]",
	Short: "Create or replace a catalog script",
	Long: `Create or replace a catalog script from a local file. The controller
stores the content hash that agents verify before running it.

Example:
  execctl script put backup --name "Nightly backup" --type BASH --file backup.sh --timeout 600`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		scriptType, _ := flags.GetString("type")
		file, _ := flags.GetString("file")
		timeout, _ := flags.GetInt("timeout")
		disabled, _ := flags.GetBool("disabled")

		if file == "" {
			cmd.Println("Error: --file is required")
			return
		}
		content, err := os.ReadFile(file)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		client := newClient(cmd)
		if client == nil {
			return
		}

		enabled := !disabled
		script, err := client.PutScript(args[0], api.PutScriptRequest{
			Name:           name,
			Type:           scriptType,
			Content:        string(content),
			Enabled:        &enabled,
			TimeoutSeconds: timeout,
		})
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		cmd.Printf("✓ Script saved!\n")
		printScript(cmd, script)
	},
}

var scriptGetCmd = &cobra.Command{
	Use:   "get [script_id]",
	Short: "Show a catalog script",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		script, err := client.GetScript(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		printScript(cmd, script)
	},
}

var scriptAssignCmd = &cobra.Command{
	Use:   "assign [script_id] [client_id]",
	Short: "Approve a script for a client",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		if err := client.AssignScript(args[0], args[1]); err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Printf("✓ Script %s assigned to %s\n", args[0], args[1])
	},
}

var scriptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog scripts",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		res, err := client.ListScripts()
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		if len(res.Items) == 0 {
			cmd.Println("No scripts.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tVERSION\tENABLED")
		for _, s := range res.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\n", s.ID, s.Name, s.Type, s.Version, s.Enabled)
		}
		w.Flush()
	},
}

var scriptDeleteCmd = &cobra.Command{
	Use:   "delete [script_id]",
	Short: "Remove a script and its assignments",
	Long: `Remove a script from the catalog together with its assignments.
Existing executions keep the script name and hash they were created with.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		if err := client.DeleteScript(args[0]); err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Printf("✓ Script %s deleted\n", args[0])
	},
}

var scriptUnassignCmd = &cobra.Command{
	Use:   "unassign [script_id] [client_id]",
	Short: "Withdraw a script from a client",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		if err := client.UnassignScript(args[0], args[1]); err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Printf("✓ Script %s unassigned from %s\n", args[0], args[1])
	},
}

var scriptAssignmentsCmd = &cobra.Command{
	Use:   "assignments [script_id]",
	Short: "List the clients a script is assigned to",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		res, err := client.ListAssignments(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		if len(res.Items) == 0 {
			cmd.Printf("Script %s is not assigned to any client.\n", args[0])
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "CLIENT ID\tASSIGNED")
		for _, a := range res.Items {
			fmt.Fprintf(w, "%s\t%s ago\n", a.ClientID, relativeTime(a.CreatedAt))
		}
		w.Flush()
	},
}

var scriptForClientCmd = &cobra.Command{
	Use:   "for-client [client_id]",
	Short: "List the scripts a client may run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		res, err := client.ListClientScripts(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		if len(res.Items) == 0 {
			cmd.Printf("No scripts assigned to %s.\n", args[0])
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SCRIPT ID\tNAME\tTYPE\tVERSION\tENABLED")
		for _, a := range res.Items {
			if a.Script == nil {
				fmt.Fprintf(w, "%s\t-\t-\t-\t-\n", a.ScriptID)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\n", a.ScriptID, a.Script.Name, a.Script.Type, a.Script.Version, a.Script.Enabled)
		}
		w.Flush()
	},
}

func printScript(cmd *cobra.Command, s *api.ScriptResponse) {
	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, s.ID)
	cmd.Printf("%sName:%s        %s\n", colorDim, colorReset, s.Name)
	cmd.Printf("%sType:%s        %s\n", colorDim, colorReset, s.Type)
	cmd.Printf("%sVersion:%s     %d\n", colorDim, colorReset, s.Version)
	cmd.Printf("%sHash:%s        %s\n", colorDim, colorReset, s.ContentHash)
	cmd.Printf("%sEnabled:%s     %t\n", colorDim, colorReset, s.Enabled)
	if s.TimeoutSeconds > 0 {
		cmd.Printf("%sTimeout:%s     %ds\n", colorDim, colorReset, s.TimeoutSeconds)
	}
}

func init() {
	flags := scriptPutCmd.Flags()
	flags.StringP("name", "n", "", "Display name")
	flags.String("type", "BASH", "Script type: BASH, JAVASCRIPT or LUA")
	flags.StringP("file", "f", "", "Path to the script content (required)")
	flags.Int("timeout", 0, "Per-script timeout in seconds (0 uses the controller default)")
	flags.Bool("disabled", false, "Store the script disabled")

	scriptCmd.AddCommand(
		scriptPutCmd, scriptGetCmd, scriptListCmd, scriptDeleteCmd,
		scriptAssignCmd, scriptUnassignCmd, scriptAssignmentsCmd, scriptForClientCmd,
	)
	rootCmd.AddCommand(scriptCmd)
}
