package cmd

import (
	"encoding/json"
	"os"

	"execplane/pkg/api"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export or import the script catalog",
}

var backupExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the script catalog as JSON",
	Long: `Write every script, including its content, and every assignment as JSON.
Executions and their output are not exported.

Example:
  execctl backup export --file catalog.json`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")

		client := newClient(cmd)
		if client == nil {
			return
		}

		backup, err := client.ExportCatalog()
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		raw, err := json.MarshalIndent(backup, "", "  ")
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		if file == "" {
			cmd.Println(string(raw))
			return
		}
		if err := os.WriteFile(file, append(raw, '\n'), 0o600); err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Printf("✓ Exported %d scripts and %d assignments to %s\n", len(backup.Scripts), len(backup.Assignments), file)
	},
}

var backupImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a script catalog export",
	Long: `Upsert every script and assignment of an export. Nothing is written
when any entry is invalid, and catalog entries missing from the file are kept.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			cmd.Println("Error: --file is required")
			return
		}
		raw, err := os.ReadFile(file)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		var backup api.CatalogBackup
		if err := json.Unmarshal(raw, &backup); err != nil {
			cmd.Printf("Error: %s is not a catalog export: %v\n", file, err)
			return
		}

		client := newClient(cmd)
		if client == nil {
			return
		}

		res, err := client.ImportCatalog(backup)
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Printf("✓ Imported %d scripts and %d assignments\n", res.Scripts, res.Assignments)
	},
}

func init() {
	backupExportCmd.Flags().StringP("file", "f", "", "Write to this file instead of stdout")
	backupImportCmd.Flags().StringP("file", "f", "", "Export file to load (required)")

	backupCmd.AddCommand(backupExportCmd, backupImportCmd)
	rootCmd.AddCommand(backupCmd)
}
