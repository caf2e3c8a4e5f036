package main

import (
	"fmt"

	"github.com/par2verify/par2verify/internal/flags"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// configFileRun is one subcommand's overridable settings within a
// configuration file. A zero-value field (nil/empty Raw) means "not set in
// the file" and is left alone by Merge, so a CLI flag the user did pass
// always wins regardless of file contents.
type configFileRun struct {
	NoiseLevel  *flags.NoiseLevel `yaml:"noiseLevel"`
	MemoryLimit *flags.ByteSize   `yaml:"memoryLimit"`
	WantJSON    *bool             `yaml:"json"`
}

// Merge applies the file's settings onto rargs for every field the user did
// not already set explicitly on the command line, per setFlags.
func (c *configFileRun) Merge(rargs *runArgs, setFlags map[string]bool) {
	if c.NoiseLevel != nil && !setFlags["noise-level"] {
		rargs.noiseLevel = *c.NoiseLevel
	}

	if c.MemoryLimit != nil && !setFlags["memory-limit"] {
		rargs.memoryLimit = *c.MemoryLimit
	}

	if c.WantJSON != nil && !setFlags["json"] {
		rargs.wantJSON = *c.WantJSON
	}
}

// configFile is the top-level shape of a --config YAML file: a "verify"
// section and a "repair" section, each independently optional.
type configFile struct {
	Verify *configFileRun `yaml:"verify"`
	Repair *configFileRun `yaml:"repair"`
}

func parseConfigFile(fsys afero.Fs, path string) (*configFile, error) {
	raw, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg configFile

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}

	return &cfg, nil
}
