// Package config holds the run configuration: defaults, the optional YAML
// file and validation. Command line flags are applied on top by the CLI.
package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/PhucNguyen204/evtxgrep/internal/decoder"
	"github.com/PhucNguyen204/evtxgrep/pkg/emit"
)

type Postgres struct {
	// Empty DSN disables the sink.
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

type Config struct {
	Format      string   `yaml:"format"`
	Sorted      bool     `yaml:"sorted"`
	Width       int      `yaml:"width"`
	Header      bool     `yaml:"header"`
	InputFormat string   `yaml:"input_format"`
	Workers     int      `yaml:"workers"`
	Prefilter   bool     `yaml:"prefilter"`
	LogLevel    string   `yaml:"log_level"`
	FilterFile  string   `yaml:"filter_file"`
	Postgres    Postgres `yaml:"postgres"`
}

func Default() Config {
	return Config{
		Format:      emit.FormatTree.String(),
		Width:       emit.DefaultWidth,
		InputFormat: decoder.FormatAuto.String(),
		Workers:     1,
		Prefilter:   true,
		LogLevel:    zerolog.WarnLevel.String(),
		Postgres:    Postgres{Migrate: true},
	}
}

// Load reads path on top of Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

func (c Config) WithFormat(format string) Config {
	c.Format = format
	return c
}

func (c Config) WithSorted(sorted bool) Config {
	c.Sorted = sorted
	return c
}

func (c Config) WithWorkers(n int) Config {
	c.Workers = n
	return c
}

func (c Config) WithPrefilter(enable bool) Config {
	c.Prefilter = enable
	return c
}

func (c Config) WithDSN(dsn string) Config {
	c.Postgres.DSN = dsn
	return c
}

// Validate checks values and combinations the pipeline cannot run with.
func (c Config) Validate() error {
	if _, err := emit.ParseFormat(c.Format); err != nil {
		return err
	}
	if _, err := decoder.ParseFormat(c.InputFormat); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "log level %q", c.LogLevel)
	}
	if c.Width < 0 {
		return errors.Errorf("width must not be negative, got %d", c.Width)
	}
	if c.Workers < 1 {
		return errors.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	return nil
}

// EmitOptions converts the output settings. Call Validate first.
func (c Config) EmitOptions() emit.Options {
	format, _ := emit.ParseFormat(c.Format)
	return emit.Options{Format: format, Sorted: c.Sorted, Width: c.Width, Header: c.Header}
}
