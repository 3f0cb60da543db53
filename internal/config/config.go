// Package config defines the process configuration and binds it to flags,
// LOGSEARCH_* environment variables and an optional config file.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/dreamware/logsearch/internal/cache"
	"github.com/dreamware/logsearch/internal/cluster"
)

// Config is the whole process configuration.
type Config struct {
	Listen            string            `mapstructure:"listen" validate:"required"`
	LogLevel          string            `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	LogFormat         string            `mapstructure:"log-format" validate:"oneof=json console"`
	HorizontalScaling HorizontalScaling `mapstructure:"horizontal-scaling"`
	Sharding          Sharding          `mapstructure:"sharding"`
	SearchCache       cache.Config      `mapstructure:"search-cache"`
}

// HorizontalScaling configures membership and source partitioning.
type HorizontalScaling struct {
	Enabled           bool          `mapstructure:"enabled"`
	InstanceID        string        `mapstructure:"instance-id"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat-interval" validate:"min=1ms"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat-timeout" validate:"gtfield=HeartbeatInterval"`
	Peers             []string      `mapstructure:"peers" validate:"dive,url"`
	AdvertiseURL      string        `mapstructure:"advertise-url" validate:"required,url"`
}

// Sharding configures the shard router.
type Sharding struct {
	Enabled        bool          `mapstructure:"enabled"`
	LocalNodeID    string        `mapstructure:"local-node-id" validate:"required"`
	LocalNodeURL   string        `mapstructure:"local-node-url" validate:"required,url"`
	Type           string        `mapstructure:"type" validate:"oneof=TIME_BASED SOURCE_BASED BALANCED"`
	NumberOfShards int           `mapstructure:"number-of-shards" validate:"min=1"`
	Nodes          []string      `mapstructure:"nodes" validate:"dive,url"`
	NodeTimeout    time.Duration `mapstructure:"node-timeout" validate:"min=1ms"`
	TimeBucket     time.Duration `mapstructure:"time-bucket" validate:"min=1ms"`
	MaxParallel    int           `mapstructure:"max-parallel" validate:"min=1"`
}

// NewConfig returns the defaults.
func NewConfig() Config {
	return Config{
		Listen:    ":8080",
		LogLevel:  "info",
		LogFormat: "json",
		HorizontalScaling: HorizontalScaling{
			HeartbeatInterval: 10 * time.Second,
			HeartbeatTimeout:  30 * time.Second,
			Peers:             []string{},
			AdvertiseURL:      "http://localhost:8080",
		},
		Sharding: Sharding{
			LocalNodeID:    "node1",
			LocalNodeURL:   "http://localhost:8080",
			Type:           string(cluster.ShardingTimeBased),
			NumberOfShards: 3,
			Nodes:          []string{},
			NodeTimeout:    10 * time.Second,
			TimeBucket:     time.Hour,
			MaxParallel:    10,
		},
		SearchCache: cache.NewConfig(),
	}
}

// Validate checks the struct tags and returns every violation in one error.
func (c Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		// Use config key names in error messages
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" {
			return fld.Name
		}
		return name
	})

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		path := strings.TrimPrefix(e.Namespace(), "Config.")
		msgs = append(msgs, fmt.Sprintf(`key="%s", value="%v", failed "%s" validation`, path, e.Value(), e.ActualTag()))
	}
	return errors.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// ShardConfiguration converts the sharding section into the router's initial configuration.
func (c Config) ShardConfiguration() cluster.ShardConfiguration {
	out := cluster.DefaultShardConfiguration()
	out.ShardingEnabled = c.Sharding.Enabled
	out.ShardingType = cluster.ShardingType(c.Sharding.Type)
	out.NumberOfShards = c.Sharding.NumberOfShards
	out.ShardNodes = append([]string{}, c.Sharding.Nodes...)
	return out
}
