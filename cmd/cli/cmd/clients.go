package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "List connected clients",
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		res, err := client.ListClients()
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		if len(res.Clients) == 0 {
			cmd.Println("No connected clients.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "CLIENT ID\tVERSION\tLAST SEEN\tCIRCUIT")
		for _, c := range res.Clients {
			fmt.Fprintf(w, "%s\t%s\t%s ago\t%s\n", c.ClientID, c.Version, relativeTime(c.LastSeenAt), c.Circuit)
		}
		w.Flush()
	},
}

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Search the certificate directory",
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		commonName, _ := cmd.Flags().GetString("common-name")
		pageSize, _ := cmd.Flags().GetInt("page-size")

		res, err := client.ListCertificates(commonName, pageSize)
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		if len(res.Items) == 0 {
			cmd.Println("No certificates found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SERIAL\tCLIENT ID\tCOMMON NAME\tSTATUS")
		for _, c := range res.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.SerialNumber, c.ClientID, c.CommonName, c.Status)
		}
		w.Flush()
		cmd.Printf("%d of %d certificates\n", len(res.Items), res.Total)
	},
}

func init() {
	certsCmd.Flags().String("common-name", "", "Filter by common name")
	certsCmd.Flags().Int("page-size", 0, "Maximum number of certificates")

	rootCmd.AddCommand(clientsCmd)
	rootCmd.AddCommand(certsCmd)
}
