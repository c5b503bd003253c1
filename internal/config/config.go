// Package config loads dflow's two-part configuration, mirroring the
// split the teacher already makes between `.env` secrets and in-code
// defaults/flags: environment secrets via godotenv, and pipeline shape
// (extractor/parallelizer/sinkers/intervals — spec.md §9's "basic config
// + variant" shape) via a YAML file.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Pipeline describes one replication run end to end: where to read from,
// how to fan rows out, and where to write them.
type Pipeline struct {
	Extractor    ExtractorConfig    `yaml:"extractor"`
	Parallelizer ParallelizerConfig `yaml:"parallelizer"`
	Sinkers      []SinkerConfig     `yaml:"sinkers"`

	BufferSize         int `yaml:"buffer_size"`
	BatchSinkInterval  int `yaml:"batch_sink_interval_ms"`
	CheckpointInterval int `yaml:"checkpoint_interval_ms"`
}

type ExtractorConfig struct {
	// Kind is one of "mysql", "pg".
	Kind string `yaml:"kind"`

	URLEnv string `yaml:"url_env"` // name of the .env key holding the DSN/URL

	// MySQL
	ServerID uint32 `yaml:"server_id"`

	// Postgres
	Slot       string   `yaml:"slot"`
	Publication string  `yaml:"publication"`
	Tables     []string `yaml:"tables"`
}

type ParallelizerConfig struct {
	// Kind is one of "serial", "partition", "merge", "redis".
	Kind    string `yaml:"kind"`
	Workers int    `yaml:"workers"`
}

type SinkerConfig struct {
	// Kind is one of "mongo", "redis", "kafka", "clickhouse", "starrocks".
	Kind   string `yaml:"kind"`
	ID     string `yaml:"id"`
	URLEnv string `yaml:"url_env"`
	Extra  map[string]string `yaml:"extra"`
}

// Load reads and parses a pipeline YAML file.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if p.BufferSize == 0 {
		p.BufferSize = 16384
	}
	if p.BatchSinkInterval == 0 {
		p.BatchSinkInterval = 200
	}
	if p.CheckpointInterval == 0 {
		p.CheckpointInterval = 3000
	}
	if p.Parallelizer.Workers == 0 {
		p.Parallelizer.Workers = 8
	}
	return &p, nil
}

// LoadEnv loads secrets from a .env file (if present) exactly as the
// teacher's main() does with godotenv.Load(), then returns a lookup that
// falls back to the process environment.
func LoadEnv(path string) (func(key string) string, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return nil, fmt.Errorf("config: load env %s: %w", path, err)
			}
		}
	}
	return os.Getenv, nil
}
