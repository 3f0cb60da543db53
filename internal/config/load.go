package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, for example
// LOGSEARCH_SHARDING_NODES for the "sharding.nodes" key.
const EnvPrefix = "LOGSEARCH"

// ConfigFileFlag names the flag pointing at an optional YAML/TOML/JSON file.
const ConfigFileFlag = "config"

// BindFlags registers one flag per configuration key, with NewConfig defaults.
func BindFlags(flags *pflag.FlagSet) {
	d := NewConfig()

	flags.StringP(ConfigFileFlag, "c", "", "Configuration file to read from.")
	flags.String("listen", d.Listen, "HTTP listen address.")
	flags.String("log-level", d.LogLevel, "Log level: debug, info, warn, error.")
	flags.String("log-format", d.LogFormat, "Log format: json or console.")

	flags.Bool("horizontal-scaling.enabled", d.HorizontalScaling.Enabled, "Partition log sources across live instances.")
	flags.String("horizontal-scaling.instance-id", d.HorizontalScaling.InstanceID, "Instance id, generated from the hostname when empty.")
	flags.Duration("horizontal-scaling.heartbeat-interval", d.HorizontalScaling.HeartbeatInterval, "Interval between local heartbeats.")
	flags.Duration("horizontal-scaling.heartbeat-timeout", d.HorizontalScaling.HeartbeatTimeout, "Instances silent for longer are removed.")
	flags.StringSlice("horizontal-scaling.peers", d.HorizontalScaling.Peers, "Base URLs of peer instances to announce to.")
	flags.String("horizontal-scaling.advertise-url", d.HorizontalScaling.AdvertiseURL, "Base URL peers can reach this instance on.")

	flags.Bool("sharding.enabled", d.Sharding.Enabled, "Route searches across shard nodes.")
	flags.String("sharding.local-node-id", d.Sharding.LocalNodeID, "Id of this node in the shard registry.")
	flags.String("sharding.local-node-url", d.Sharding.LocalNodeURL, "URL of this node in the shard registry.")
	flags.String("sharding.type", d.Sharding.Type, "TIME_BASED, SOURCE_BASED or BALANCED.")
	flags.Int("sharding.number-of-shards", d.Sharding.NumberOfShards, "Number of logical shards.")
	flags.StringSlice("sharding.nodes", d.Sharding.Nodes, "URLs of remote shard nodes.")
	flags.Duration("sharding.node-timeout", d.Sharding.NodeTimeout, "Per-node timeout during fan-out.")
	flags.Duration("sharding.time-bucket", d.Sharding.TimeBucket, "Width of a TIME_BASED bucket.")
	flags.Int("sharding.max-parallel", d.Sharding.MaxParallel, "Maximum concurrent node requests per search.")

	flags.Bool("search-cache.enabled", d.SearchCache.Enabled, "Cache merged sharded search results.")
	flags.Int64("search-cache.max-size", d.SearchCache.MaxSize, "Maximum number of cached results.")
	flags.Duration("search-cache.expiration", d.SearchCache.Expiration, "Time to live of a cached result.")
}

// Load merges flags, environment and the optional config file, in that
// priority order, and validates the result.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, errors.Wrap(err, "cannot bind flags")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path := v.GetString(ConfigFileFlag); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "error reading configuration file %q", path)
		}
	}

	cfg := NewConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "cannot decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
