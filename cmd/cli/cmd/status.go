package cmd

import (
	"fmt"
	"time"

	"execplane/pkg/api"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [execution_id]",
	Short: "Get status of an execution",
	Long:  `Retrieve detailed status information for an execution, including its current state (PENDING, DISPATCHED, RUNNING, SUCCEEDED, FAILED, TIMED_OUT, CANCELLED), exit code, failure kind and timestamps.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		execution, err := client.GetExecution(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		printStatus(cmd, *execution)
	},
}

func printStatus(cmd *cobra.Command, execution api.ExecutionResponse) {
	icon := statusIcon(execution.Status)
	cmd.Printf("%s %sExecution Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, execution.ID)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(execution.Status))

	script := execution.ScriptID
	if execution.ScriptName != "" {
		script = fmt.Sprintf("%s (%s)", execution.ScriptID, execution.ScriptName)
	}
	cmd.Printf("%sScript:%s      %s\n", colorDim, colorReset, script)
	cmd.Printf("%sClient:%s      %s\n", colorDim, colorReset, execution.ClientID)
	cmd.Printf("%sTrigger:%s     %s\n", colorDim, colorReset, execution.TriggerType)

	if execution.ExitCode != nil {
		exitCode := *execution.ExitCode
		if exitCode == 0 {
			cmd.Printf("%sExit Code:%s   %s%d%s\n", colorDim, colorReset, colorGreen, exitCode, colorReset)
		} else {
			cmd.Printf("%sExit Code:%s   %s%d%s\n", colorDim, colorReset, colorRed, exitCode, colorReset)
		}
	} else {
		cmd.Printf("%sExit Code:%s   -\n", colorDim, colorReset)
	}

	if execution.ErrorKind != nil {
		msg := *execution.ErrorKind
		if execution.ErrorMessage != nil {
			msg += ": " + *execution.ErrorMessage
		}
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, msg, colorReset)
	}

	created := execution.CreatedAt
	cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&created))
	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(execution.StartedAt))

	switch {
	case execution.DurationMs != nil:
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(execution.FinishedAt),
			colorCyan, formatDuration(time.Duration(*execution.DurationMs)*time.Millisecond), colorReset)
	case execution.StartedAt != nil && execution.FinishedAt != nil:
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(execution.FinishedAt),
			colorCyan, formatDuration(execution.FinishedAt.Sub(*execution.StartedAt)), colorReset)
	default:
		cmd.Printf("%sFinished:%s    %s\n", colorDim, colorReset, formatTimeWithRelative(execution.FinishedAt))
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusColor(status string) string {
	switch status {
	case "SUCCEEDED":
		return colorGreen
	case "FAILED", "TIMED_OUT":
		return colorRed
	case "RUNNING", "DISPATCHED":
		return colorYellow
	case "PENDING":
		return colorCyan
	default:
		return ""
	}
}

func statusIcon(status string) string {
	switch status {
	case "SUCCEEDED":
		return colorGreen + "✓" + colorReset
	case "FAILED":
		return colorRed + "✗" + colorReset
	case "TIMED_OUT":
		return colorRed + "⌛" + colorReset
	case "CANCELLED":
		return colorDim + "⊘" + colorReset
	case "RUNNING", "DISPATCHED":
		return colorYellow + "⏳" + colorReset
	case "PENDING":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	c := statusColor(status)
	if c == "" {
		return statusIcon(status) + " " + status
	}
	return statusIcon(status) + " " + c + status + colorReset
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
