package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// ConfigFileName is the per-user configuration file name.
	ConfigFileName = "config.toml"
	// CredentialsFileName holds API client credentials next to the config.
	CredentialsFileName = "credentials.toml"
)

// Paths are the filesystem locations punlock works with. It is built once
// at startup and passed to whatever needs it.
type Paths struct {
	Home            string
	ConfigDir       string
	RuntimeDir      string
	StoreRoot       string
	CredentialsFile string

	// ConfigCandidates are tried in order when no --config is given.
	ConfigCandidates []string
}

// NewPaths derives Paths from the current user's environment.
func NewPaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("failed to determine home directory: %w", err)
	}
	userConfig, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("failed to determine user config directory: %w", err)
	}
	return BuildPaths(home, userConfig, os.Getenv("XDG_RUNTIME_DIR")), nil
}

// BuildPaths lays out Paths under the given base directories. An empty
// runtimeDir falls back to the system temp directory.
func BuildPaths(home, userConfigDir, runtimeDir string) Paths {
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}
	configDir := filepath.Join(userConfigDir, "punlock")

	return Paths{
		Home:            home,
		ConfigDir:       configDir,
		RuntimeDir:      runtimeDir,
		StoreRoot:       filepath.Join(runtimeDir, "punlock"),
		CredentialsFile: filepath.Join(configDir, CredentialsFileName),
		ConfigCandidates: []string{
			"punlock.toml",
			"punlock.yaml",
			filepath.Join(configDir, ConfigFileName),
			filepath.Join(configDir, "config.yaml"),
			filepath.Join("/etc/punlock", ConfigFileName),
		},
	}
}

// UserConfigFile is where a completed configuration is persisted.
func (p Paths) UserConfigFile() string {
	return filepath.Join(p.ConfigDir, ConfigFileName)
}

// Discover returns the first candidate that exists.
func Discover(candidates []string) (string, bool) {
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}
