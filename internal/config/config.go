/*
Package config loads the optional YAML configuration file shared by the edgegate programs.
Command-line options override anything found here; the file mostly exists so a deployment can
carry its server inventory and decision parameters without a long flag list.
*/
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config mirrors the YAML layout. Zero values mean "not set" and leave the flag or system default
// in force.
type Config struct {
	Gateway struct {
		ListenAddress string `mapstructure:"listen_addr"`
		LogLevel      string `mapstructure:"log_level"`
		RequestRate   int    `mapstructure:"request_rate"` // Inbound requests/second, 0 = unlimited
	} `mapstructure:"gateway"`

	Decision struct {
		Algorithm          string        `mapstructure:"algorithm"`
		MaxWorkers         int           `mapstructure:"max_workers"`
		ConsiderThroughput bool          `mapstructure:"consider_throughput"`
		ThroughputPeriod   time.Duration `mapstructure:"throughput_period"`
		ExpectedThroughput int           `mapstructure:"expected_throughput"`
	} `mapstructure:"decision"`

	Servers  map[string]string `mapstructure:"servers"`   // name -> address
	TaskPort int               `mapstructure:"task_port"` // Downstream task port
}

// Load reads and unmarshals the YAML file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("EDGEGATE")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &c, nil
}
