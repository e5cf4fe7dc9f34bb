// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package topology

// Config is the configuration snapshot the topology is built from.
type Config struct {
	Regions map[string]int `mapstructure:"regions" yaml:"regions"`
	Shards  []ShardConfig  `mapstructure:"shards" yaml:"shards"`
}

// ShardConfig describes a single shard.
type ShardConfig struct {
	ID       int              `mapstructure:"id" yaml:"id"`
	Primary  EndpointConfig   `mapstructure:"primary" yaml:"primary"`
	Replicas []EndpointConfig `mapstructure:"replicas" yaml:"replicas"`
}

// EndpointConfig describes how to reach a single endpoint.
type EndpointConfig struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        int    `mapstructure:"port" yaml:"port"`
	Database    string `mapstructure:"database" yaml:"database"`
	Credentials string `mapstructure:"credentials" yaml:"credentials,omitempty"`
}

func (config EndpointConfig) ref(role Role) EndpointRef {
	return EndpointRef{
		Host:        config.Host,
		Port:        config.Port,
		Database:    config.Database,
		Credentials: config.Credentials,
		Role:        role,
	}
}

// DefaultRegions is the region catalogue of the e-learning deployment:
// six regions served by three shards.
func DefaultRegions() map[string]int {
	return map[string]int{
		"north_america": 1,
		"south_america": 1,
		"europe":        2,
		"africa":        2,
		"asia":          3,
		"oceania":       3,
	}
}
