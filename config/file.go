// Package config loads the registry process configuration from YAML, TOML
// or JSON files, overlays environment variables onto per-module sections
// and watches the file for changes.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/modreg"
)

// Static errors for configuration package
var (
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrInvalidDuration   = errors.New("invalid duration")
)

// Format identifies a file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidDuration, string(b), err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// File is the process configuration.
type File struct {
	Registry RegistrySection          `yaml:"registry" toml:"registry" json:"registry"`
	HTTP     HTTPSection              `yaml:"http" toml:"http" json:"http"`
	Log      LogSection               `yaml:"log" toml:"log" json:"log"`
	Modules  map[string]modreg.Config `yaml:"modules" toml:"modules" json:"modules"`

	// Source describes where the file was loaded from.
	Source Source `yaml:"-" toml:"-" json:"-"`
}

// RegistrySection configures the registry itself.
type RegistrySection struct {
	BatchTimeout       Duration `yaml:"batch_timeout" toml:"batch_timeout" json:"batch_timeout"`
	HealthCheckTimeout Duration `yaml:"health_check_timeout" toml:"health_check_timeout" json:"health_check_timeout"`
	HealthPollSchedule string   `yaml:"health_poll_schedule" toml:"health_poll_schedule" json:"health_poll_schedule"`
	HistoryLimit       int      `yaml:"history_limit" toml:"history_limit" json:"history_limit"`
}

// HTTPSection configures the read-only HTTP view.
type HTTPSection struct {
	Addr string `yaml:"addr" toml:"addr" json:"addr"`
}

// LogSection selects logger output.
type LogSection struct {
	Format string `yaml:"format" toml:"format" json:"format"`
	Level  string `yaml:"level" toml:"level" json:"level"`
}

// Source represents a loaded configuration source.
type Source struct {
	Location string    `json:"location"`
	Format   Format    `json:"format"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *File {
	return &File{
		Registry: RegistrySection{
			BatchTimeout:       Duration(30 * time.Second),
			HealthCheckTimeout: Duration(2 * time.Second),
			HealthPollSchedule: "@every 30s",
		},
		HTTP:    HTTPSection{Addr: ":8080"},
		Log:     LogSection{Format: "console", Level: "info"},
		Modules: map[string]modreg.Config{},
	}
}

// Load reads path, choosing the decoder from its extension. Values absent
// from the file keep their defaults.
func Load(path string) (*File, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	f, err := Decode(bytes.NewReader(data), format)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	f.Source = Source{Location: path, Format: format, LoadedAt: time.Now()}
	return f, nil
}

// Decode reads a configuration in the given format on top of Defaults.
func Decode(r io.Reader, format Format) (*File, error) {
	f := Defaults()
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(f); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	case FormatTOML:
		if _, err := toml.NewDecoder(r).Decode(f); err != nil {
			return nil, err
		}
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(f); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if f.Modules == nil {
		f.Modules = map[string]modreg.Config{}
	}
	return f, nil
}

// RegistryOptions converts the registry section to registry options.
func (f *File) RegistryOptions() []modreg.Option {
	var opts []modreg.Option
	if d := f.Registry.BatchTimeout.Std(); d > 0 {
		opts = append(opts, modreg.WithBatchTimeout(d))
	}
	if d := f.Registry.HealthCheckTimeout.Std(); d > 0 {
		opts = append(opts, modreg.WithHealthCheckTimeout(d))
	}
	if f.Registry.HistoryLimit > 0 {
		opts = append(opts, modreg.WithHistoryLimit(f.Registry.HistoryLimit))
	}
	return opts
}
