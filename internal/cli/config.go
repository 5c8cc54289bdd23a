package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config is the YAML form of the global flags.
//
//	format: json
//	mapping: ./mapping.cue
//	dialect: postgres
//	cache: joins
type Config struct {
	Verbose *bool  `yaml:"verbose"`
	Format  string `yaml:"format"`
	Mapping string `yaml:"mapping"`
	Dialect string `yaml:"dialect"`
	Cache   string `yaml:"cache"`
}

// LoadConfig reads a config file. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// apply copies config values into opts for every flag not set on the
// command line.
func (c *Config) apply(cmd *cobra.Command, opts *RootOptions) {
	set := func(flag string, dst *string, v string) {
		if v != "" && !cmd.Flags().Changed(flag) {
			*dst = v
		}
	}
	set("format", &opts.Format, c.Format)
	set("mapping", &opts.Mapping, c.Mapping)
	set("dialect", &opts.Dialect, c.Dialect)
	set("cache", &opts.Cache, c.Cache)
	if c.Verbose != nil && !cmd.Flags().Changed("verbose") {
		opts.Verbose = *c.Verbose
	}
}
