// Package config reads the YAML configuration of programs that supervise children
// with childwait, from the environment or a custom path.
package config

import (
	"io/ioutil"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/square/childwait/pkg/logging"
	"github.com/square/childwait/pkg/util"
	"github.com/square/childwait/pkg/util/param"
)

const (
	DefaultPruneAfter = 7 * 24 * time.Hour

	// Can be given as journal_path to disable the exit journal.
	NoJournalSentinelValue = "none"
)

type AppConfig struct {
	Childwait Config `yaml:"childwait"`
}

type LogDestination struct {
	Type logging.OutType `yaml:"type"`
	Path string          `yaml:"path"`
}

type Config struct {
	LogLevel             string           `yaml:"log_level,omitempty"`
	ExtraLogDestinations []LogDestination `yaml:"extra_log_destinations,omitempty"`

	// JournalPath is the sqlite database that reaped children are recorded in.
	JournalPath string `yaml:"journal_path,omitempty"`
	// Journal rows older than this are deleted at startup.
	PruneAfter time.Duration `yaml:"prune_after,omitempty"`

	// MetricsAddress, if set, is where the metrics registry is served as JSON.
	MetricsAddress string `yaml:"metrics_address,omitempty"`

	// Timeout bounds how long each child is waited for. Zero waits forever.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// KillOnTimeout kills a child that outlives Timeout instead of abandoning it
	// to the orphan queue.
	KillOnTimeout bool `yaml:"kill_on_timeout,omitempty"`

	// Params sets package level tunables, see the param package.
	Params param.Values `yaml:"params"`
}

func LoadFromEnvironment() (*Config, error) {
	env := os.Getenv("CONFIG_PATH")
	if env == "" {
		return nil, util.Errorf("No value was found for the environment variable CONFIG_PATH")
	}
	return LoadConfigFile(env)
}

func LoadConfigFile(configPath string) (*Config, error) {
	configBytes, err := ioutil.ReadFile(configPath)
	if err != nil {
		return nil, util.Errorf("reading config file: %s", err)
	}
	return UnmarshalConfig(configBytes)
}

// UnmarshalConfig parses a configuration and fills in defaults. An empty document is
// a valid configuration.
func UnmarshalConfig(config []byte) (*Config, error) {
	appConfig := AppConfig{}
	err := yaml.Unmarshal(config, &appConfig)
	if err != nil {
		return nil, util.Errorf("The config file was malformatted - %s", err)
	}
	cfg := &appConfig.Childwait
	if cfg.PruneAfter == 0 {
		cfg.PruneAfter = DefaultPruneAfter
	}
	if cfg.PruneAfter < 0 {
		return nil, util.Errorf("prune_after must be positive, was %s", cfg.PruneAfter)
	}
	if cfg.Timeout < 0 {
		return nil, util.Errorf("timeout must not be negative, was %s", cfg.Timeout)
	}
	for _, dest := range cfg.ExtraLogDestinations {
		if dest.Type != logging.OutSocket && dest.Type != logging.OutStderr {
			return nil, util.Errorf("Unknown log destination type %q", dest.Type)
		}
	}
	return cfg, nil
}

// JournalEnabled reports whether reaped children should be recorded.
func (c *Config) JournalEnabled() bool {
	return c.JournalPath != "" && c.JournalPath != NoJournalSentinelValue
}

// Apply configures logger and the package level params.
func (c *Config) Apply(logger logging.Logger) error {
	if c.LogLevel != "" {
		if err := logger.SetLevel(c.LogLevel); err != nil {
			return err
		}
	}
	for _, dest := range c.ExtraLogDestinations {
		logger.WithFields(logrus.Fields{
			"type": dest.Type,
			"path": dest.Path,
		}).Infoln("Adding log destination")
		if err := logger.AddHook(dest.Type, dest.Path); err != nil {
			logger.WithError(err).Errorf("Unable to add log hook. Proceeding.")
		}
	}
	return param.Parse(c.Params)
}
