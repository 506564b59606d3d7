package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of storysync.yaml written by `storysync init` and
// read back without going through the viper singleton. Secrets are never
// written here; they come from the environment.
type LocalConfig struct {
	Jira struct {
		URL     string `yaml:"url,omitempty"`
		Email   string `yaml:"email,omitempty"`
		Project string `yaml:"project,omitempty"`
	} `yaml:"jira"`
	GitHub struct {
		Owner  string `yaml:"owner,omitempty"`
		Repo   string `yaml:"repo,omitempty"`
		Branch string `yaml:"branch,omitempty"`
	} `yaml:"github"`
	Storage struct {
		Backend string `yaml:"backend,omitempty"`
		DSN     string `yaml:"dsn,omitempty"`
	} `yaml:"storage"`
}

// LoadLocalConfig reads storysync.yaml from projectDir/.storysync.
// Returns an empty LocalConfig (not nil) if the file doesn't exist or can't be parsed.
func LoadLocalConfig(projectDir string) *LocalConfig {
	configPath := filepath.Join(projectDir, ProjectDirName, ConfigFileName)
	data, err := os.ReadFile(configPath) // #nosec G304 - path built from project dir
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}

// WriteLocalConfig creates projectDir/.storysync and writes cfg into it. An
// existing file is left untouched unless overwrite is set.
func WriteLocalConfig(projectDir string, cfg *LocalConfig, overwrite bool) (string, error) {
	dir := filepath.Join(projectDir, ProjectDirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	configPath := filepath.Join(dir, ConfigFileName)
	if !overwrite {
		if _, err := os.Stat(configPath); err == nil {
			return configPath, fmt.Errorf("%s already exists", configPath)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	header := []byte("# storysync configuration. Credentials belong in the environment\n# (JIRA_API_TOKEN, GITHUB_TOKEN).\n")
	if err := os.WriteFile(configPath, append(header, data...), 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", configPath, err)
	}
	return configPath, nil
}
