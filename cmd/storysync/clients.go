package main

import (
	"context"
	"fmt"

	"github.com/storysync/storysync/internal/config"
	"github.com/storysync/storysync/internal/debug"
	"github.com/storysync/storysync/internal/github"
	"github.com/storysync/storysync/internal/jira"
	"github.com/storysync/storysync/internal/retro"
	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/storage/factory"
	"github.com/storysync/storysync/internal/tracker"
	"github.com/storysync/storysync/internal/ui"
	"github.com/storysync/storysync/internal/worker"
)

func openStore(ctx context.Context) (storage.Storage, error) {
	store, err := factory.NewFromConfig(ctx)
	if err != nil {
		return nil, startupError{err: err, hint: "check storage.backend and storage.dsn"}
	}
	return store, nil
}

func newJiraClient() (*jira.Client, error) {
	cfg := config.Jira()
	client, err := jira.NewClient(jira.Config{
		URL:             cfg.URL,
		Username:        cfg.Email,
		APIToken:        cfg.APIToken,
		Timeout:         cfg.Timeout,
		RetryMaxElapsed: cfg.RetryMaxElapsed,
	})
	if err != nil {
		return nil, startupError{err: err, hint: "set JIRA_BASE_URL, JIRA_EMAIL and JIRA_API_TOKEN"}
	}
	return client, nil
}

func newGitHubClient() *github.Client {
	cfg := config.GitHub()
	client := github.NewClient(cfg.Token, cfg.Owner, cfg.Repo).
		WithDetailDelay(config.Retro().DetailDelay)
	if cfg.RetryMaxElapsed > 0 {
		client = client.WithRetryMaxElapsed(cfg.RetryMaxElapsed)
	}
	if cfg.Token == "" {
		debug.Logf("github: no token configured, using unauthenticated rate limits\n")
	}
	return client
}

func newFieldMapper() *jira.FieldMapper {
	cfg := config.Jira()
	return jira.NewFieldMapper(cfg.StatusMap, cfg.PriorityMap, cfg.StoryPointsField)
}

// engineFactory builds one engine per call. Each engine owns its own Jira
// client so parallel workers never share one.
func engineFactory(store storage.Storage, onMessage, onWarning func(string)) worker.EngineFactory {
	mapper := newFieldMapper()
	project := config.Jira().Project
	window := config.GetConflictWindow()
	return func() (*tracker.Engine, error) {
		client, err := newJiraClient()
		if err != nil {
			return nil, err
		}
		engine := tracker.NewEngine(client, store, mapper, project)
		engine.ConflictWindow = window
		engine.OnMessage = onMessage
		engine.OnWarning = onWarning
		return engine, nil
	}
}

// loadClassifier builds a classifier from retro.rules_file, or the built-in
// rules when none is configured.
func loadClassifier() (*retro.Classifier, error) {
	path := config.Retro().RulesFile
	if path == "" {
		return retro.NewClassifier(nil), nil
	}
	rules, err := retro.LoadRules(path)
	if err != nil {
		return nil, startupError{err: fmt.Errorf("load rules: %w", err), hint: "fix or unset retro.rules_file"}
	}
	return retro.NewClassifier(rules), nil
}

func printMessage(msg string) {
	if !jsonOutput {
		debug.PrintNormal("%s\n", msg)
	}
}

func printWarning(msg string) {
	if !jsonOutput {
		debug.PrintNormal("%s %s\n", ui.RenderWarnIcon(), ui.RenderWarn(msg))
	}
}
