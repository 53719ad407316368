package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "execctl",
	Short: "Execctl is a command line tool for interacting with the execplane controller",
	Long: `execctl is the command-line interface for the execplane orchestration service.

The controller dispatches catalog scripts to remote client agents, tracks every
execution through its lifecycle and keeps the captured output for reading.

Common workflows:

  Trigger a script on a client:
    execctl trigger --script backup --client client-7

  Check execution status:
    execctl status <execution-id>

  Follow output until the execution finishes:
    execctl output <execution-id> --follow

  Ask a client to update itself:
    execctl update --client client-7 --version 2.4.0

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    EXECPLANE_URL      API endpoint (default: http://localhost:6161)
    EXECPLANE_TOKEN    API token for authentication`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".execctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("EXECPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds an API client from the bound configuration. It prints a
// hint and returns nil when no token is configured.
func newClient(cmd *cobra.Command) *ExecClient {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("API token not found. Please set it using the --token flag or the EXECPLANE_TOKEN environment variable")
		return nil
	}
	return NewExecClient(viper.GetString("url"), token)
}

func printAPIError(cmd *cobra.Command, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.execctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "execplane controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
