// Package platform resolves per-user locations for funnel config, data and logs.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultAppName names the config and data directories.
const DefaultAppName = "funnel"

const (
	configFileName = "config.toml"
	logDirName     = "log"
)

// Errors returned by PathsFor.
var (
	ErrEmptyBaseDir = errors.New("empty base dir")
	ErrEmptyAppName = errors.New("empty app name")
)

// Paths holds the per-user locations of the config file, database and logs.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
	LogDir     string
}

// Options adjusts how default paths are derived.
type Options struct {
	AppName string
	DevMode bool
}

// dirName returns the directory name for opts. Dev mode appends "-dev" so dev
// data never mixes with real funnels.
func (o Options) dirName() string {
	name := strings.TrimSpace(o.AppName)
	if name == "" {
		name = DefaultAppName
	}
	if o.DevMode {
		name += "-dev"
	}
	return name
}

// baseOverrides names the env vars that replace the config and data base dirs per GOOS.
var baseOverrides = map[string]struct{ config, data string }{
	"linux":   {config: "XDG_CONFIG_HOME", data: "XDG_DATA_HOME"},
	"windows": {config: "APPDATA", data: "LOCALAPPDATA"},
}

// DefaultPaths returns the paths for DefaultAppName.
func DefaultPaths() (Paths, error) {
	return DefaultPathsWithOptions(Options{})
}

// DefaultPathsWithOptions returns the paths for opts on the running platform.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user config dir: %w", err)
	}
	dataDir, err := userDataDir(runtime.GOOS, configDir)
	if err != nil {
		return Paths{}, err
	}

	env := map[string]string{}
	if keys, ok := baseOverrides[runtime.GOOS]; ok {
		env[keys.config] = os.Getenv(keys.config)
		env[keys.data] = os.Getenv(keys.data)
	}
	return PathsFor(runtime.GOOS, env, configDir, dataDir, opts.dirName())
}

// userDataDir returns the platform data base dir. Only linux separates data
// from config by default.
func userDataDir(goos, configDir string) (string, error) {
	if goos != "linux" {
		return configDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("user home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share"), nil
}

// PathsFor resolves paths for goos from env and the user base dirs. Env
// overrides apply only on platforms listed in baseOverrides.
func PathsFor(goos string, env map[string]string, userConfigDir, userDataDir, appName string) (Paths, error) {
	if strings.TrimSpace(userConfigDir) == "" || strings.TrimSpace(userDataDir) == "" {
		return Paths{}, ErrEmptyBaseDir
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, ErrEmptyAppName
	}

	configBase, dataBase := userConfigDir, userDataDir
	if keys, ok := baseOverrides[goos]; ok {
		if v := strings.TrimSpace(env[keys.config]); v != "" {
			configBase = v
		}
		if v := strings.TrimSpace(env[keys.data]); v != "" {
			dataBase = v
		}
	}

	dataDir := filepath.Join(dataBase, appName)
	return Paths{
		ConfigPath: filepath.Join(configBase, appName, configFileName),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, appName+".db"),
		LogDir:     filepath.Join(dataDir, logDirName),
	}, nil
}
