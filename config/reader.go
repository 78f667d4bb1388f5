// Package config reads the configuration file of an object mapping run.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gopkg.in/yaml.v3"

	"go.viam.com/objectmap/logging"
	"go.viam.com/objectmap/services/objectmapping"
)

// Config is the top level configuration of an object mapping run.
type Config struct {
	ConfigFilePath string               `json:"-"`
	Mapping        objectmapping.Config `json:"-"`
	LogLevel       string               `json:"log_level"`
	// History is the path of the SQLite frame history. Empty disables it.
	History string `json:"history"`
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	if err := c.Mapping.Validate("mapping"); err != nil {
		return err
	}
	if _, err := logging.LevelFromString(c.LogLevel); err != nil {
		return goutils.NewConfigValidationError("log_level", err)
	}
	return nil
}

// Read reads a config from the given file. Environment variables in the file are expanded first.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader. The format is chosen by the extension of
// originalPath: .yaml and .yml are YAML, anything else is JSON.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	attrs := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(originalPath)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(r).Decode(&attrs); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrap(err, "failed to decode config from yaml")
		}
	default:
		if err := json.NewDecoder(r).Decode(&attrs); err != nil {
			return nil, errors.Wrap(err, "failed to decode config from json")
		}
	}
	return FromAttributes(originalPath, attrs)
}

// FromAttributes builds a config out of a decoded attribute map. The "mapping" section is decoded
// over the mapping defaults.
func FromAttributes(originalPath string, attrs map[string]interface{}) (*Config, error) {
	cfg := &Config{ConfigFilePath: originalPath}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: cfg})
	if err != nil {
		return nil, errors.Wrap(err, "error creating decoder")
	}
	top := map[string]interface{}{}
	for k, v := range attrs {
		if k != "mapping" {
			top[k] = v
		}
	}
	if err := decoder.Decode(top); err != nil {
		return nil, errors.Wrap(err, "error decoding config")
	}

	mapping, ok := attrs["mapping"]
	if !ok || mapping == nil {
		mapping = map[string]interface{}{}
	}
	section, ok := mapping.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("mapping must be an object, got %T", mapping)
	}
	if cfg.Mapping, err = objectmapping.DecodeAttributes(section); err != nil {
		return nil, errors.Wrap(err, "failed to decode mapping")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
