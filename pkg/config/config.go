// Package config loads compiler settings from YAML or TOML files. Values
// given on the command line override the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of a compilation
type Config struct {
	Analysis    Analysis    `yaml:"analysis" toml:"analysis"`
	Lowering    Lowering    `yaml:"lowering" toml:"lowering"`
	Diagnostics Diagnostics `yaml:"diagnostics" toml:"diagnostics"`
	Output      Output      `yaml:"output" toml:"output"`
	Preprocess  Preprocess  `yaml:"preprocess" toml:"preprocess"`
}

// Analysis configures the task region analysis
type Analysis struct {
	// DisableChecks turns region consistency violations into advisories
	DisableChecks bool `yaml:"disable_checks" toml:"disable-checks"`
	// PrintVerbosity selects analysis dumps: task, uses, dsa_missing
	PrintVerbosity []string `yaml:"print_verbosity" toml:"print-verbosity"`
}

// Lowering configures task outlining
type Lowering struct {
	MaxDepDims int   `yaml:"max_dep_dims" toml:"max-dep-dims" default:"8"`
	ArgsAlign  int64 `yaml:"args_align" toml:"args-align" default:"16"`
	TaskAlign  int64 `yaml:"task_align" toml:"task-align" default:"64"`
}

// Diagnostics configures message rendering
type Diagnostics struct {
	Color    bool   `yaml:"color" toml:"color" default:"true"`
	LogLevel string `yaml:"log_level" toml:"log-level" default:"warning"`
}

// Output configures where results are written
type Output struct {
	Dir string `yaml:"dir" toml:"dir"`
}

// Preprocess configures the external C preprocessor
type Preprocess struct {
	Include []string `yaml:"include" toml:"include"`
	Defines []string `yaml:"defines" toml:"defines"`
	Command string   `yaml:"command" toml:"command"`
}

// Verbosity levels accepted by Analysis.PrintVerbosity
var Verbosities = []string{"task", "uses", "dsa_missing"}

var logLevels = []string{"silent", "error", "warning", "verbose"}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Lowering: Lowering{
			MaxDepDims: 8,
			ArgsAlign:  16,
			TaskAlign:  64,
		},
		Diagnostics: Diagnostics{
			Color:    true,
			LogLevel: "warning",
		},
	}
}

// Load reads a configuration file over the defaults. The format is chosen
// by extension: .yaml/.yml or .toml. go-toml fills keys missing from a
// table from the default tags.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.Lowering.MaxDepDims < 1 || c.Lowering.MaxDepDims > 8 {
		errs = append(errs, fmt.Errorf("lowering.max_dep_dims must be between 1 and 8, got %d", c.Lowering.MaxDepDims))
	}
	if !powerOfTwo(c.Lowering.ArgsAlign) {
		errs = append(errs, fmt.Errorf("lowering.args_align must be a power of two, got %d", c.Lowering.ArgsAlign))
	}
	if !powerOfTwo(c.Lowering.TaskAlign) {
		errs = append(errs, fmt.Errorf("lowering.task_align must be a power of two, got %d", c.Lowering.TaskAlign))
	}
	if !contains(logLevels, c.Diagnostics.LogLevel) {
		errs = append(errs, fmt.Errorf("diagnostics.log_level must be one of %s, got %q", strings.Join(logLevels, ", "), c.Diagnostics.LogLevel))
	}
	for _, v := range c.Analysis.PrintVerbosity {
		if !contains(Verbosities, v) {
			errs = append(errs, fmt.Errorf("analysis.print_verbosity: unknown level %q", v))
		}
	}
	return errors.Join(errs...)
}

// Verbose reports whether dump level v was requested
func (a Analysis) Verbose(v string) bool {
	return contains(a.PrintVerbosity, v)
}

func powerOfTwo(n int64) bool {
	return n > 0 && n&(n-1) == 0
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
