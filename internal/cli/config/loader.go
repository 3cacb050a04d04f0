package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

var configFileUsed string

// findConfigFile returns the config file to use: an explicit path, or
// the first of bqdrift.yaml / bqdrift.yml in the working directory.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"bqdrift.yaml", "bqdrift.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load assembles configuration with precedence flags > env vars >
// config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"queries_dir": DefaultQueriesDir,
		"dataset":     DefaultDataset,
		"scratch_ttl": DefaultScratchTTL,
		"parallelism": DefaultParallelism,
		"timeout":     DefaultTimeout,
		"output":      DefaultOutput,
		"verbose":     false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// BQDRIFT_QUERIES_DIR -> queries_dir
	if err := k.Load(env.Provider("BQDRIFT_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "BQDRIFT_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			// Flag spellings that differ from config keys.
			switch f.Name {
			case "queries":
				key = "queries_dir"
			case "scratch":
				key = "scratch_project"
			case "scratch-ttl":
				key = "scratch_ttl"
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

// FileUsed returns the path of the config file read by the last Load.
func FileUsed() string { return configFileUsed }

// Validate checks settings needed by warehouse-facing commands.
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("a GCP project is required (--project or BQDRIFT_PROJECT)")
	}
	if c.Dataset == "" {
		return fmt.Errorf("a tracking dataset is required (--dataset)")
	}
	return nil
}

// ValidateQueriesDir checks that the repository directory exists.
func (c *Config) ValidateQueriesDir() error {
	if _, err := os.Stat(c.QueriesDir); os.IsNotExist(err) {
		return fmt.Errorf("queries directory does not exist: %s\nHint: create it or pass --queries", c.QueriesDir)
	}
	return nil
}
