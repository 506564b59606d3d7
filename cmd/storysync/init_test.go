package main

import (
	"strings"
	"testing"

	"github.com/storysync/storysync/internal/config"
)

func localConfig(url, email, project string) *config.LocalConfig {
	cfg := &config.LocalConfig{}
	cfg.Jira.URL = url
	cfg.Jira.Email = email
	cfg.Jira.Project = project
	return cfg
}

func TestValidateLocalConfig(t *testing.T) {
	ok := localConfig("https://example.atlassian.net", "dev@example.com", "PROJ")
	if err := validateLocalConfig(ok); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*config.LocalConfig)
		want   string
	}{
		{"missing url", func(c *config.LocalConfig) { c.Jira.URL = "" }, "Jira URL is required"},
		{"bad scheme", func(c *config.LocalConfig) { c.Jira.URL = "ftp://example.com" }, "must look like"},
		{"no host", func(c *config.LocalConfig) { c.Jira.URL = "https://" }, "must look like"},
		{"missing email", func(c *config.LocalConfig) { c.Jira.Email = " " }, "email is required"},
		{"lowercase project", func(c *config.LocalConfig) { c.Jira.Project = "proj" }, "project key"},
		{"owner without repo", func(c *config.LocalConfig) { c.GitHub.Owner = "acme" }, "together"},
		{"bad backend", func(c *config.LocalConfig) { c.Storage.Backend = "postgres" }, "unknown storage backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := localConfig("https://example.atlassian.net", "dev@example.com", "PROJ")
			tt.mutate(cfg)
			err := validateLocalConfig(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateLocalConfigReportsEveryProblem(t *testing.T) {
	err := validateLocalConfig(&config.LocalConfig{})
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"Jira URL", "email", "project key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
