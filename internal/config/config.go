// Package config loads optional on-disk defaults for the CLI, the way
// vjache-cie/cmd/cie/config.go loads .cie/project.yaml: CLI flags always
// win, environment variables are next, and this file supplies the last
// fallback layer.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of .epub-translator.yaml.
type File struct {
	TargetLang  string `yaml:"target_lang,omitempty"`
	Parallel    int    `yaml:"parallel,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	Verbose     bool   `yaml:"verbose,omitempty"`
}

// Load reads and parses path. A missing file is not an error: it returns a
// zero-value File so callers can layer CLI-flag defaults over it uniformly.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return File{}, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, err
	}
	return f, nil
}
