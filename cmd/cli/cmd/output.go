package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var outputCmd = &cobra.Command{
	Use:   "output [execution_id]",
	Short: "Print captured output of an execution",
	Long: `Print the captured output of an execution in sequence order.

With --follow the command keeps polling until the execution is terminal and
every chunk has been printed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		executionID := args[0]

		client := newClient(cmd)
		if client == nil {
			return
		}

		follow, _ := cmd.Flags().GetBool("follow")
		interval, _ := cmd.Flags().GetDuration("interval")
		from, _ := cmd.Flags().GetInt64("from")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		next := from
		for {
			win, err := client.GetOutput(executionID, next, 0)
			if err != nil {
				cmd.Printf("Error fetching output: %v\n", err)
				if !follow {
					return
				}
				if !sleepCtx(ctx, 2*time.Second) {
					return
				}
				continue
			}

			for _, chunk := range win.Chunks {
				printChunk(cmd, chunk.Stream, chunk.Payload)
				next = chunk.SequenceNumber + 1
			}

			if win.Complete {
				return
			}
			if len(win.Chunks) > 0 {
				continue
			}
			if !follow {
				return
			}
			if !sleepCtx(ctx, interval) {
				return
			}
		}
	},
}

func printChunk(cmd *cobra.Command, stream, payload string) {
	if payload == "" {
		return
	}
	out := cmd.OutOrStdout()
	if stream == "stderr" {
		out = cmd.ErrOrStderr()
	}
	if !strings.HasSuffix(payload, "\n") {
		payload += "\n"
	}
	out.Write([]byte(payload))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func init() {
	rootCmd.AddCommand(outputCmd)
	outputCmd.Flags().BoolP("follow", "f", false, "Keep polling until the execution finishes")
	outputCmd.Flags().Duration("interval", time.Second, "Poll interval while following")
	outputCmd.Flags().Int64("from", 0, "First sequence number to print")
}
