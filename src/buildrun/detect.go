package buildrun

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"serf-ci/src/execx"
)

var (
	// ErrNoBuildCommand is returned when nothing in the working directory says how to build it.
	ErrNoBuildCommand = errors.New("could not determine how to build this repository")

	// ErrInvalidBuildConfig is returned for a .serf.yml without a usable command.
	ErrInvalidBuildConfig = errors.New("invalid .serf.yml")
)

// ConfigFile is the optional per-repository build override.
const ConfigFile = ".serf.yml"

// BuildConfig is the content of ConfigFile. Command runs directly; Script
// runs through sh -c. Command wins when both are set.
type BuildConfig struct {
	Command []string `yaml:"command"`
	Script  string   `yaml:"script"`
}

// ParseBuildConfig parses YAML content into a BuildConfig.
func ParseBuildConfig(data []byte) (*BuildConfig, error) {
	var cfg BuildConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBuildConfig, err)
	}
	return &cfg, nil
}

// Detector picks the build command for a checked-out working directory.
type Detector func(workDir string) (execx.Command, error)

type marker struct {
	path    string
	command execx.Command
}

// markers are checked in order after ConfigFile.
func markers() []marker {
	m := []marker{
		{path: "script/cibuild", command: execx.Command{Name: "sh", Args: []string{"script/cibuild"}}},
		{path: "build.sh", command: execx.Command{Name: "sh", Args: []string{"build.sh"}}},
	}
	if runtime.GOOS == "windows" {
		m = append(m, marker{path: "build.cmd", command: execx.Command{Name: "cmd", Args: []string{"/c", "build.cmd"}}})
	}
	return append(m,
		marker{path: "Makefile", command: execx.Command{Name: "make"}},
		marker{path: "package.json", command: execx.Command{Name: "sh", Args: []string{"-c", "npm install && npm test"}}},
		marker{path: "go.mod", command: execx.Command{Name: "go", Args: []string{"test", "./..."}}},
	)
}

// DetectCommand determines the build command for workDir. The returned
// command has Dir set to workDir.
func DetectCommand(workDir string) (execx.Command, error) {
	cmd, err := detect(workDir)
	if err != nil {
		return execx.Command{}, err
	}
	cmd.Dir = workDir
	return cmd, nil
}

func detect(workDir string) (execx.Command, error) {
	data, err := os.ReadFile(filepath.Join(workDir, ConfigFile))
	switch {
	case err == nil:
		cfg, err := ParseBuildConfig(data)
		if err != nil {
			return execx.Command{}, err
		}
		if len(cfg.Command) > 0 && cfg.Command[0] != "" {
			return execx.Command{Name: cfg.Command[0], Args: cfg.Command[1:]}, nil
		}
		if script := strings.TrimSpace(cfg.Script); script != "" {
			return execx.Command{Name: "sh", Args: []string{"-c", script}}, nil
		}
		return execx.Command{}, fmt.Errorf("%w: neither command nor script is set", ErrInvalidBuildConfig)
	case !errors.Is(err, os.ErrNotExist):
		return execx.Command{}, fmt.Errorf("read %s: %w", ConfigFile, err)
	}

	for _, m := range markers() {
		if info, err := os.Stat(filepath.Join(workDir, m.path)); err == nil && !info.IsDir() {
			return m.command, nil
		}
	}

	return execx.Command{}, fmt.Errorf("%w: %s", ErrNoBuildCommand, workDir)
}
