package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"
)

// ReplicationJob is one scheduled replication against a remote peer.
type ReplicationJob struct {
	Name              string        `yaml:"name"`
	Remote            string        `yaml:"remote"`    // base URL of the remote database
	Direction         string        `yaml:"direction"` // pull or push
	Interval          time.Duration `yaml:"interval"`
	Token             string        `yaml:"token,omitempty"`
	BatchSize         int           `yaml:"batch_size,omitempty"`
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty"` // 0 means unlimited
}

// ReplicationConfig is the contents of the REPLICATION_CONFIG file.
//
//	jobs:
//	  - name: upstream
//	    remote: https://couch.example.com/notes
//	    direction: pull
//	    interval: 30s
type ReplicationConfig struct {
	Jobs []ReplicationJob `yaml:"jobs"`
}

// LoadReplicationConfig reads and validates a jobs file.
func LoadReplicationConfig(path string) (*ReplicationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replication config: %w", err)
	}
	return ParseReplicationConfig(data)
}

// ParseReplicationConfig decodes and validates YAML job definitions.
func ParseReplicationConfig(data []byte) (*ReplicationConfig, error) {
	var cfg ReplicationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse replication config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every job and rejects duplicate names.
func (c *ReplicationConfig) Validate() error {
	seen := make(map[string]bool, len(c.Jobs))
	for i := range c.Jobs {
		job := &c.Jobs[i]
		if err := job.Validate(); err != nil {
			return fmt.Errorf("replication job %d: %w", i, err)
		}
		if seen[job.Name] {
			return fmt.Errorf("replication job %q defined twice", job.Name)
		}
		seen[job.Name] = true
	}
	return nil
}

func (j *ReplicationJob) Validate() error {
	return validation.ValidateStruct(j,
		validation.Field(&j.Name, validation.Required),
		validation.Field(&j.Remote, validation.Required, is.URL),
		validation.Field(&j.Direction, validation.Required, validation.In("pull", "push")),
		validation.Field(&j.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&j.BatchSize, validation.Min(0)),
		validation.Field(&j.RequestsPerSecond, validation.Min(0.0)),
	)
}
