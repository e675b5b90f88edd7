// Package config loads the service configuration for the pipeline binary
// from a YAML file, with credentials allowed to come from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gcsops/crm-pipeline/pkg/crm"
	"github.com/gcsops/crm-pipeline/pkg/pipeline"
	"github.com/gcsops/crm-pipeline/pkg/ratelimit"
)

// File models the service configuration file.
type File struct {
	CRM struct {
		BaseURL        string `yaml:"base_url"`
		Token          string `yaml:"token"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"crm"`

	Owners struct {
		IDs           []string `yaml:"ids"`
		ExcludedIDs   []string `yaml:"excluded_ids"`
		ExcludedNames []string `yaml:"excluded_names"`
	} `yaml:"owners"`

	Fetch struct {
		PageSize      int `yaml:"page_size"`
		Workers       int `yaml:"workers"`
		MaxConcurrent int `yaml:"max_concurrent"`
		MinIntervalMS int `yaml:"min_interval_ms"`
	} `yaml:"fetch"`

	Cache struct {
		TTL       string `yaml:"ttl"`
		RedisAddr string `yaml:"redis_addr"`
	} `yaml:"cache"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Load reads and validates the config file. The CRM token may be supplied
// via the CRM_TOKEN environment variable instead of the file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config bytes.
func FromYAML(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if f.CRM.Token == "" {
		f.CRM.Token = os.Getenv("CRM_TOKEN")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate ensures the config meets required structure.
func (f *File) Validate() error {
	if f.CRM.BaseURL == "" {
		return fmt.Errorf("config: crm.base_url is required")
	}
	if f.CRM.Token == "" {
		return fmt.Errorf("config: crm.token or CRM_TOKEN is required")
	}
	if len(f.Owners.IDs) == 0 {
		return fmt.Errorf("config: owners.ids is required")
	}
	if f.Cache.TTL != "" {
		if _, err := time.ParseDuration(f.Cache.TTL); err != nil {
			return fmt.Errorf("config: cache.ttl: %w", err)
		}
	}
	return nil
}

// Pipeline converts the file into a pipeline configuration.
func (f *File) Pipeline() pipeline.Config {
	cfg := pipeline.Config{
		CRM: crm.Config{
			BaseURL: f.CRM.BaseURL,
			Token:   f.CRM.Token,
			Timeout: time.Duration(f.CRM.TimeoutSeconds) * time.Second,
		},
		OwnerIDs: f.Owners.IDs,
		PageSize: f.Fetch.PageSize,
		Workers:  f.Fetch.Workers,
		Limiter: ratelimit.Config{
			MaxConcurrent: f.Fetch.MaxConcurrent,
			MinInterval:   time.Duration(f.Fetch.MinIntervalMS) * time.Millisecond,
		},
		ExcludedOwnerIDs:       f.Owners.ExcludedIDs,
		ExcludedNameSubstrings: f.Owners.ExcludedNames,
	}
	if f.Cache.TTL != "" {
		ttl, _ := time.ParseDuration(f.Cache.TTL)
		cfg.CacheTTL = ttl
	}
	return cfg
}

// Addr returns the listen address, defaulting to :8080.
func (f *File) Addr() string {
	if f.Server.Addr == "" {
		return ":8080"
	}
	return f.Server.Addr
}
