package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"snakeplane/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the jobs of a running host",
	Long: `Query the status API of a running host and show its active jobs together
with the jobs that already succeeded or failed. With --run, show the ledger
entries of a run instead (requires a host with a database configured).`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewStatusClient(viper.GetString("url"), viper.GetString("token"))

		if runID, _ := cmd.Flags().GetString("run"); runID != "" {
			subs, err := client.ListSubmissions(runID)
			if err != nil {
				cmd.Printf("Failed to get submissions: %v\n", err)
				return
			}
			printSubmissions(cmd, subs)
			return
		}

		jobs, err := client.ListJobs()
		if err != nil {
			cmd.Printf("Failed to get jobs: %v\n", err)
			return
		}
		printJobs(cmd, jobs)
	},
}

func printJobs(cmd *cobra.Command, jobs *api.JobsResponse) {
	cmd.Printf("%sJobs%s %s(%s)%s\n", colorBold, colorReset, colorDim, jobs.Plugin, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sRunning:%s     %d\n", colorDim, colorReset, len(jobs.Active))
	for _, job := range jobs.Active {
		external := job.ExternalJobID
		if external == "" {
			external = "-"
		}
		cmd.Printf("  %s %d %s %s(%s)%s\n", statusIcon(statusRunning), job.JobID, job.Name, colorDim, external, colorReset)
	}

	cmd.Printf("%sSucceeded:%s   %s\n", colorDim, colorReset, colorizeIDs(jobs.Succeeded, colorGreen))
	cmd.Printf("%sFailed:%s      %s\n", colorDim, colorReset, colorizeIDs(jobs.Failed, colorRed))
}

func printSubmissions(cmd *cobra.Command, subs *api.ListSubmissionsResponse) {
	cmd.Printf("%sRun %s%s\n", colorBold, subs.RunID, colorReset)
	cmd.Println("──────────────────────────────")
	if len(subs.Submissions) == 0 {
		cmd.Println("No submissions recorded")
		return
	}

	for _, s := range subs.Submissions {
		line := fmt.Sprintf("%d %s %s", s.JobID, s.JobName, colorizeStatus(s.Status))
		if s.ExternalJobID != "" {
			line += fmt.Sprintf(" %s(%s)%s", colorDim, s.ExternalJobID, colorReset)
		}
		if s.FinishedAt != nil {
			line += fmt.Sprintf(" %s%s%s", colorCyan, formatDuration(s.FinishedAt.Sub(s.SubmittedAt)), colorReset)
		} else {
			line += " " + formatTimeWithRelative(&s.SubmittedAt)
		}
		cmd.Println(line)
		if s.Message != nil {
			cmd.Printf("    %s%s%s\n", colorRed, *s.Message, colorReset)
		}
	}
}

// Ledger states as reported by the status API.
const (
	statusRunning   = "running"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusCancelled = "cancelled"
	statusAbandoned = "abandoned"
)

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

func statusIcon(status string) string {
	switch status {
	case statusSucceeded:
		return colorGreen + "✓" + colorReset
	case statusFailed:
		return colorRed + "✗" + colorReset
	case statusRunning:
		return colorYellow + "⏳" + colorReset
	case statusCancelled, statusAbandoned:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case statusSucceeded:
		return icon + " " + colorGreen + status + colorReset
	case statusFailed:
		return icon + " " + colorRed + status + colorReset
	case statusRunning:
		return icon + " " + colorYellow + status + colorReset
	case statusCancelled, statusAbandoned:
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func colorizeIDs(ids []int, color string) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return color + strings.Join(parts, ", ") + colorReset
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
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
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
	statusCmd.Flags().String("run", "", "Show the ledger entries of this run id")
	rootCmd.AddCommand(statusCmd)
}
