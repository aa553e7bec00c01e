// Package config holds the settings of the andersen command, read from a
// YAML file:
//
//	logLevel: debug
//	trace: true
//	color: false
//	jobs: 4
//	maxFieldOffset: 64
//	maxFieldDepth: 8
package config

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type Config struct {
	LogLevel string `yaml:"logLevel"`
	// Trace logs every fact and synthesized edge at debug level.
	Trace bool `yaml:"trace"`
	Color bool `yaml:"color"`
	// Number of graphs solved concurrently.
	Jobs int `yaml:"jobs"`
	// Bounds applied to loaded graphs; zero keeps the graph's own.
	MaxFieldOffset int `yaml:"maxFieldOffset"`
	MaxFieldDepth  int `yaml:"maxFieldDepth"`
}

var ErrInvalid = errors.New("invalid configuration")

func Default() Config {
	return Config{
		LogLevel: "info",
		Color:    true,
		Jobs:     runtime.GOMAXPROCS(0),
	}
}

// Load reads the file at path on top of the defaults.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, errors.Wrap(err, "reading configuration")
	}
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return c, errors.Wrapf(err, "decoding %s", path)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(ErrInvalid, "logLevel: %v", err)
	}
	switch {
	case c.Jobs < 1:
		return errors.Wrapf(ErrInvalid, "jobs must be positive, got %d", c.Jobs)
	case c.MaxFieldOffset < 0:
		return errors.Wrapf(ErrInvalid, "maxFieldOffset must not be negative, got %d", c.MaxFieldOffset)
	case c.MaxFieldDepth < 0:
		return errors.Wrapf(ErrInvalid, "maxFieldDepth must not be negative, got %d", c.MaxFieldDepth)
	}
	return nil
}

// Level returns the parsed log level. The config must be valid.
func (c Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.Panicf("Invalid log level %q", c.LogLevel)
	}
	return lvl
}
