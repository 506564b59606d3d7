package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storysync/storysync/internal/config"
	"github.com/storysync/storysync/internal/ui"
)

// errPreflight is returned when neither external API is reachable.
var errPreflight = errors.New("preflight failed: neither Jira nor GitHub is reachable")

// preflightCheck probes one dependency and describes what it found.
type preflightCheck struct {
	Name  string
	Probe func(ctx context.Context) (string, error)
}

// CheckResult is the outcome of one preflight probe.
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// runPreflight probes every check. It fails only when every check fails, so
// a run that needs one of the two systems can still proceed.
func runPreflight(ctx context.Context, checks ...preflightCheck) ([]CheckResult, error) {
	results := make([]CheckResult, 0, len(checks))
	passed := 0
	for _, c := range checks {
		detail, err := c.Probe(ctx)
		r := CheckResult{Name: c.Name, OK: err == nil, Detail: detail}
		if err != nil {
			r.Detail = err.Error()
		} else {
			passed++
		}
		results = append(results, r)
	}
	if len(checks) > 0 && passed == 0 {
		return results, errPreflight
	}
	return results, nil
}

func jiraProbe(ctx context.Context) (string, error) {
	client, err := newJiraClient()
	if err != nil {
		return "", err
	}
	info, err := client.TestConnection(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s as %s (project %s)", client.BaseURL(), info.DisplayName, config.Jira().Project), nil
}

func githubProbe(ctx context.Context) (string, error) {
	gh := config.GitHub()
	if gh.Owner == "" || gh.Repo == "" {
		return "", fmt.Errorf("github.owner and github.repo are not set")
	}
	repo, err := newGitHubClient().TestConnection(ctx)
	if err != nil {
		return "", err
	}
	visibility := "public"
	if repo.Private {
		visibility = "private"
	}
	return fmt.Sprintf("%s (%s, default branch %s)", repo.FullName, visibility, repo.DefaultBranch), nil
}

var preflightCmd = &cobra.Command{
	Use:     "preflight",
	GroupID: "setup",
	Short:   "Check connectivity to Jira and GitHub",
	Long: `Checks credentials and connectivity for Jira and GitHub.
Exits non-zero only when both are unreachable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		results, err := runPreflight(commandContext(),
			preflightCheck{Name: "jira", Probe: jiraProbe},
			preflightCheck{Name: "github", Probe: githubProbe},
		)
		if jsonOutput {
			outputJSON(results)
		} else {
			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "%s %-7s %s\n", ui.StatusIcon(r.OK), r.Name, r.Detail)
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(preflightCmd)
}
