package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/storysync/storysync/internal/config"
	"github.com/storysync/storysync/internal/ui"
)

var projectKeyRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,9}$`)

var (
	initForce          bool
	initNonInteractive bool
	initLocal          config.LocalConfig
)

func validateJiraURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("Jira URL is required")
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("Jira URL must look like https://example.atlassian.net")
	}
	return nil
}

func validateProjectKey(s string) error {
	if !projectKeyRe.MatchString(strings.TrimSpace(s)) {
		return fmt.Errorf("project key must be 2-10 uppercase letters, digits or underscores, starting with a letter")
	}
	return nil
}

// validateLocalConfig checks what init is about to write. GitHub owner and
// repo are optional but must be set together.
func validateLocalConfig(cfg *config.LocalConfig) error {
	var errs []error
	if err := validateJiraURL(cfg.Jira.URL); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(cfg.Jira.Email) == "" {
		errs = append(errs, fmt.Errorf("Jira email is required"))
	}
	if err := validateProjectKey(cfg.Jira.Project); err != nil {
		errs = append(errs, err)
	}
	if (cfg.GitHub.Owner == "") != (cfg.GitHub.Repo == "") {
		errs = append(errs, fmt.Errorf("GitHub owner and repo must be given together"))
	}
	switch cfg.Storage.Backend {
	case "", "sqlite", "mysql", "dolt":
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q (want sqlite, mysql or dolt)", cfg.Storage.Backend))
	}
	return errors.Join(errs...)
}

func runInitForm(cfg *config.LocalConfig) error {
	backend := cfg.Storage.Backend
	if backend == "" {
		backend = "sqlite"
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Jira URL").
				Description("Base URL of your Jira Cloud site").
				Placeholder("https://example.atlassian.net").
				Value(&cfg.Jira.URL).
				Validate(validateJiraURL),

			huh.NewInput().
				Title("Jira email").
				Description("Account the API token belongs to").
				Value(&cfg.Jira.Email),

			huh.NewInput().
				Title("Project key").
				Placeholder("PROJ").
				Value(&cfg.Jira.Project).
				Validate(validateProjectKey),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("GitHub owner").
				Description("Organization or user that owns the repository (optional)").
				Value(&cfg.GitHub.Owner),

			huh.NewInput().
				Title("GitHub repository").
				Value(&cfg.GitHub.Repo),

			huh.NewInput().
				Title("Branch to audit").
				Placeholder("main").
				Value(&cfg.GitHub.Branch),
		),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Storage backend").
				Options(
					huh.NewOption("SQLite file (default)", "sqlite"),
					huh.NewOption("MySQL / Dolt sql-server", "mysql"),
					huh.NewOption("Embedded Dolt", "dolt"),
				).
				Value(&backend),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		return err
	}
	cfg.Storage.Backend = backend
	return nil
}

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Write .storysync/storysync.yaml for this project",
	Long: `Creates .storysync/storysync.yaml in the current directory. Values come
from flags, or from an interactive form when stdin is a terminal.

API tokens are never written to the file; export JIRA_API_TOKEN and
GITHUB_TOKEN instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := initLocal
		if cfg.Jira.Project == "" {
			cfg.Jira.Project = "PROJ"
		}
		interactive := !initNonInteractive && !jsonOutput && term.IsTerminal(int(os.Stdin.Fd()))
		if interactive {
			if err := runInitForm(&cfg); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Fprintln(os.Stderr, "Init cancelled.")
					return nil
				}
				return fmt.Errorf("form error: %w", err)
			}
		}
		cfg.Jira.URL = strings.TrimRight(strings.TrimSpace(cfg.Jira.URL), "/")
		if err := validateLocalConfig(&cfg); err != nil {
			return err
		}

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		path, err := config.WriteLocalConfig(cwd, &cfg, initForce)
		if err != nil {
			return startupError{err: err, hint: "use --force to overwrite"}
		}
		if jsonOutput {
			outputJSON(map[string]string{"config": path})
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", ui.RenderPassIcon(), path)
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("Next: export JIRA_API_TOKEN, then run 'storysync preflight'."))
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initLocal.Jira.URL, "jira-url", "", "Jira base URL")
	initCmd.Flags().StringVar(&initLocal.Jira.Email, "jira-email", "", "Jira account email")
	initCmd.Flags().StringVar(&initLocal.Jira.Project, "project", "", "Jira project key (default PROJ)")
	initCmd.Flags().StringVar(&initLocal.GitHub.Owner, "github-owner", "", "GitHub repository owner")
	initCmd.Flags().StringVar(&initLocal.GitHub.Repo, "github-repo", "", "GitHub repository name")
	initCmd.Flags().StringVar(&initLocal.GitHub.Branch, "branch", "", "Branch to audit (default main)")
	initCmd.Flags().StringVar(&initLocal.Storage.Backend, "backend", "", "Storage backend: sqlite, mysql or dolt")
	initCmd.Flags().StringVar(&initLocal.Storage.DSN, "dsn", "", "Storage DSN (default .storysync/storysync.db)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVar(&initNonInteractive, "non-interactive", false, "Never prompt; use flags only")
	rootCmd.AddCommand(initCmd)
}
