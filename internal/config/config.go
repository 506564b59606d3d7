// Package config loads storysync settings from storysync.yaml, STORYSYNC_*
// environment variables and the conventional JIRA_* / GITHUB_* variables.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the file looked up in .storysync/ and the XDG config dir.
const ConfigFileName = "storysync.yaml"

// ProjectDirName is the per-project state directory.
const ProjectDirName = ".storysync"

var v *viper.Viper

// ConfigWarningWriter receives warnings about invalid but recoverable values.
var ConfigWarningWriter io.Writer = os.Stderr

// aliasEnv lists the un-prefixed variables accepted next to STORYSYNC_*.
var aliasEnv = map[string]string{
	"jira.url":       "JIRA_BASE_URL",
	"jira.email":     "JIRA_EMAIL",
	"jira.api_token": "JIRA_API_TOKEN",
	"jira.project":   "JIRA_PROJECT_KEY",
	"github.owner":   "GITHUB_OWNER",
	"github.repo":    "GITHUB_REPO",
	"github.token":   "GITHUB_TOKEN",
}

// Initialize builds the viper singleton. Precedence, highest first:
// Set, environment, config file, defaults.
func Initialize() error {
	return InitializeFile("")
}

// InitializeFile is Initialize with an explicit config file. An empty path
// falls back to discovery.
func InitializeFile(path string) error {
	nv := viper.New()
	nv.SetConfigType("yaml")
	setDefaults(nv)

	nv.SetEnvPrefix("STORYSYNC")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()
	for key, alias := range aliasEnv {
		envKey := "STORYSYNC_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		if err := nv.BindEnv(key, envKey, alias); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path == "" {
		path = os.Getenv("STORYSYNC_CONFIG")
	}
	if path == "" {
		path = discoverConfigFile()
	}
	if path != "" {
		nv.SetConfigFile(path)
		if err := nv.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v = nv
	return nil
}

func setDefaults(nv *viper.Viper) {
	nv.SetDefault("jira.project", "PROJ")
	nv.SetDefault("jira.story_points_field", "customfield_10016")
	nv.SetDefault("github.branch", "main")
	nv.SetDefault("storage.backend", "sqlite")
	nv.SetDefault("storage.dsn", filepath.Join(ProjectDirName, "storysync.db"))
	nv.SetDefault("storage.database", "storysync")
	nv.SetDefault("sync.conflict_window", 60*time.Second)
	nv.SetDefault("sync.pull_limit", 100)
	nv.SetDefault("sync.direction", "bidirectional")
	nv.SetDefault("retro.commit_delay", time.Second)
	nv.SetDefault("retro.detail_delay", 250*time.Millisecond)
	nv.SetDefault("retro.rules_file", "")
	nv.SetDefault("daemon.interval", 15*time.Minute)
	nv.SetDefault("http.timeout", 30*time.Second)
	nv.SetDefault("http.retry_max_elapsed", 2*time.Minute)
	nv.SetDefault("telemetry.enabled", false)
}

// discoverConfigFile walks up from the working directory looking for
// .storysync/storysync.yaml, then tries the user config directory.
func discoverConfigFile() string {
	if dir, err := os.Getwd(); err == nil {
		for {
			candidate := filepath.Join(dir, ProjectDirName, ConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configHome = filepath.Join(home, ".config")
		}
	}
	if configHome != "" {
		candidate := filepath.Join(configHome, "storysync", ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// ResetForTesting drops the singleton so the next Initialize starts clean.
func ResetForTesting() {
	v = nil
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

func GetString(key string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(v.GetString(key))
}

func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// GetStringMapString returns a nested map. Viper lower-cases map keys.
func GetStringMapString(key string) map[string]string {
	if v == nil {
		return map[string]string{}
	}
	return v.GetStringMapString(key)
}

// Set overrides a value for the lifetime of the process. No-op before
// Initialize.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}
