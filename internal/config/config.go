// Package config implements process-level configuration for the noded
// runtime: compile-time defaults, overridden by a YAML file, overridden
// by `NODED_*` environment variables, overridden by CLI flags.
//
// Grounded on cellorg's internal/config.Config: zero-value default
// filling after YAML unmarshal, a BaseDir-relative glob expansion for
// a list of document patterns (here, contract files instead of cells),
// and the same layered-override shape.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/onex/noderuntime/internal/contract"
)

// Profile selects which contracts the registry constructs at startup.
type Profile string

const (
	ProfileMain     Profile = "main"
	ProfileEffects  Profile = "effects"
	ProfileAll      Profile = "all"
	ProfileLocalDev Profile = "local-dev"
)

// Config is the top-level process document (conventionally `noded.yaml`).
type Config struct {
	AppName string `yaml:"app_name"`
	Debug   bool   `yaml:"debug"`

	Profile     Profile `yaml:"profile"`
	MaxInFlight int     `yaml:"max_in_flight"`

	Broker BrokerConfig `yaml:"broker"`

	// ContractGlobs names one or more glob patterns (relative to BaseDir
	// when not absolute) matching contract YAML documents, the way
	// cellorg's Config.Cells expands via filepath.Glob.
	ContractGlobs []string `yaml:"contracts"`
	BaseDir       string   `yaml:"basedir"`

	Handlers HandlersConfig `yaml:"handlers"`

	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`
}

// BrokerConfig names the broker bootstrap addresses and the consumer
// group: the host's single consumer uses ConsumerGroupPrefix as its group
// id for every node. A contract's `consumer_group` is parsed but not
// applied.
type BrokerConfig struct {
	Bootstrap           []string `yaml:"bootstrap"`
	ConsumerGroupPrefix string   `yaml:"consumer_group_prefix"`
	DLQTopic             string   `yaml:"dlq_topic"`
	MaxPollRecords       int      `yaml:"max_poll_records"`
}

// HandlerPoolConfig bounds one protocol handler's connection pool and
// per-request timeout.
type HandlerPoolConfig struct {
	MinConns      int `yaml:"min_conns"`
	MaxConns      int `yaml:"max_conns"`
	TimeoutMS     int `yaml:"timeout_ms"`
}

// HandlersConfig carries pool sizes per protocol kind as read from the
// config file. No handler reads these values: pools and timeouts are sized
// from each contract's own `connection` block only.
type HandlersConfig struct {
	REST  HandlerPoolConfig `yaml:"rest"`
	Graph HandlerPoolConfig `yaml:"graph"`
	SQL   HandlerPoolConfig `yaml:"sql"`
}

const (
	defaultMaxInFlight           = 100
	defaultShutdownTimeoutSec    = 30
	defaultMaxPollRecords        = 100
	defaultConsumerGroupPrefix   = "noded"
)

// Load reads filename, fills compile-time defaults for anything left
// zero, then applies NODED_* environment overrides.
func Load(filename string) (*Config, error) {
	var cfg Config
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", filename, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", filename, err)
		}
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Profile == "" {
		c.Profile = ProfileAll
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = defaultMaxInFlight
	}
	if c.ShutdownTimeoutSeconds == 0 {
		c.ShutdownTimeoutSeconds = defaultShutdownTimeoutSec
	}
	if c.Broker.MaxPollRecords == 0 {
		c.Broker.MaxPollRecords = defaultMaxPollRecords
	}
	if c.Broker.ConsumerGroupPrefix == "" {
		c.Broker.ConsumerGroupPrefix = defaultConsumerGroupPrefix
	}
}

// applyEnv overrides fields from NODED_* environment variables, the
// layer above the config file and below CLI flags.
func applyEnv(c *Config) {
	if v := os.Getenv("NODED_PROFILE"); v != "" {
		c.Profile = Profile(v)
	}
	if v := os.Getenv("NODED_MAX_IN_FLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxInFlight = n
		}
	}
	if v := os.Getenv("NODED_BROKER_BOOTSTRAP"); v != "" {
		c.Broker.Bootstrap = strings.Split(v, ",")
	}
	if v := os.Getenv("NODED_CONSUMER_GROUP_PREFIX"); v != "" {
		c.Broker.ConsumerGroupPrefix = v
	}
	if v := os.Getenv("NODED_DLQ_TOPIC"); v != "" {
		c.Broker.DLQTopic = v
	}
	if v := os.Getenv("NODED_DEBUG"); v != "" {
		c.Debug = v == "1" || strings.EqualFold(v, "true")
	}
}

func (c *Config) validate() error {
	if c.MaxInFlight < 1 || c.MaxInFlight > 1000 {
		return fmt.Errorf("config: max_in_flight must be in [1, 1000], got %d", c.MaxInFlight)
	}
	switch c.Profile {
	case ProfileMain, ProfileEffects, ProfileAll, ProfileLocalDev:
	default:
		return fmt.Errorf("config: unknown profile %q", c.Profile)
	}
	return nil
}

// EnvMap returns the process environment as a map, the "env." scope
// bound into every substitution.
func EnvMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	return env
}

// ProfileIncludes reports whether a node of the given kind is constructed
// under profile. "all" and "local-dev" construct every node; "main"
// constructs the orchestration/reduction side (compute, reducer,
// orchestrator); "effects" constructs only nodes that call external
// systems.
func ProfileIncludes(profile Profile, kind contract.Kind) bool {
	switch profile {
	case ProfileAll, ProfileLocalDev:
		return true
	case ProfileEffects:
		return kind == contract.KindEffect
	case ProfileMain:
		return kind == contract.KindCompute || kind == contract.KindReducer || kind == contract.KindOrchestrator
	default:
		return false
	}
}

// ContractFiles expands ContractGlobs (relative to BaseDir when not
// absolute) into a sorted, deduplicated list of contract document paths,
// the way cellorg's Config.LoadCells expands Cells via filepath.Glob.
func (c *Config) ContractFiles() ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range c.ContractGlobs {
		resolved := pattern
		if !filepath.IsAbs(resolved) && c.BaseDir != "" {
			resolved = filepath.Join(c.BaseDir, resolved)
		}
		matches, err := filepath.Glob(resolved)
		if err != nil {
			return nil, fmt.Errorf("config: invalid glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}
