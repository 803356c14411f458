package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/multiscale/costeer/pkg/log"
)

// Mode selects which transport.Fabric implementation a binary wires up
// (spec.md §9 "coroutine-style concurrency" design note; spec.md §4.3).
type Mode string

const (
	ModeSingleHost  Mode = "single-host"
	ModeDistributed Mode = "distributed"
)

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// PortRange is the [min, max] bind range spec.md §4.3/§6 describes.
type PortRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type RegistryConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

type CCConfig struct {
	ID             string `yaml:"id"`
	OrchAddress    string `yaml:"orchestrator_address"`
	PublishAddress string `yaml:"publish_address"`
	PullAddress    string `yaml:"pull_address"`
}

type OrchestratorConfig struct {
	ID              string `yaml:"id"`
	SteeringAddress string `yaml:"steering_address"`
}

// CompanionConfig describes one Action this deployment launches (spec.md
// §3 "Action"). Goal must be "simulator" or "interscale-hub".
type CompanionConfig struct {
	ID           string   `yaml:"id"`
	ActionID     string   `yaml:"action_id"`
	Goal         string   `yaml:"goal"`
	Cmd          []string `yaml:"cmd"`
	CPU          int      `yaml:"cpu"`
	Ranks        int      `yaml:"ranks"`
	ExpectedHubs int      `yaml:"expected_hubs"`
}

type HealthMonitorConfig struct {
	IntervalSeconds  int    `yaml:"interval_seconds"`
	Retries          int    `yaml:"retries"`
	RetryDelayMillis int    `yaml:"retry_delay_millis"`
	AlarmAddress     string `yaml:"alarm_address"`
}

type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Config is the top-level structure every cmd/<role> binary loads. The
// core packages never parse YAML themselves; they take the fields they
// need as plain Go values.
type Config struct {
	Mode            Mode                `yaml:"mode"`
	DataDir         string              `yaml:"data_dir"`
	PresharedKeyHex string              `yaml:"preshared_key"`
	Log             LogConfig           `yaml:"log"`
	PortRange       PortRange           `yaml:"port_range"`
	Registry        RegistryConfig      `yaml:"registry"`
	CC              CCConfig            `yaml:"cc"`
	Orchestrator    OrchestratorConfig  `yaml:"orchestrator"`
	Companions      []CompanionConfig   `yaml:"companions"`
	HealthMonitor   HealthMonitorConfig `yaml:"health_monitor"`
	Metrics         MetricsConfig       `yaml:"metrics"`
}

// New returns a Config populated with defaults sufficient to run a
// single-host deployment with no file at all.
func New() *Config {
	return &Config{
		Mode:      ModeSingleHost,
		DataDir:   "./costeer-data",
		Log:       LogConfig{Level: "info"},
		PortRange: PortRange{Min: 17000, Max: 17999},
		Registry: RegistryConfig{
			ID:      "registry-1",
			Address: "127.0.0.1:17000",
		},
		CC: CCConfig{
			ID:             "cc-1",
			OrchAddress:    "127.0.0.1:17010",
			PublishAddress: "127.0.0.1:17011",
			PullAddress:    "127.0.0.1:17012",
		},
		Orchestrator: OrchestratorConfig{
			ID:              "orchestrator-1",
			SteeringAddress: "127.0.0.1:17020",
		},
		HealthMonitor: HealthMonitorConfig{
			IntervalSeconds:  5,
			Retries:          2,
			RetryDelayMillis: 200,
			AlarmAddress:     "127.0.0.1:17030",
		},
		Metrics: MetricsConfig{Address: "127.0.0.1:17090"},
	}
}

// Load reads path over the New defaults, then applies environment
// overrides. A missing file is not an error, so deployments that configure
// entirely through the environment don't need to ship one.
func Load(path string) (*Config, error) {
	cfg := New()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// envPrefix namespaces every override so costeer's variables never
// collide with unrelated host environment variables.
const envPrefix = "COSTEER_"

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(envPrefix + "MODE")); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := strings.TrimSpace(os.Getenv(envPrefix + "DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv(envPrefix + "PRESHARED_KEY")); v != "" {
		cfg.PresharedKeyHex = v
	}
	if v := strings.TrimSpace(os.Getenv(envPrefix + "LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(envPrefix + "LOG_JSON")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.JSON = b
		}
	}
	if v := strings.TrimSpace(os.Getenv(envPrefix + "REGISTRY_ADDRESS")); v != "" {
		cfg.Registry.Address = v
	}
	if v := strings.TrimSpace(os.Getenv(envPrefix + "ORCHESTRATOR_STEERING_ADDRESS")); v != "" {
		cfg.Orchestrator.SteeringAddress = v
	}
}

// LogLevel converts the configured level string into the log.Level
// pkg/log.Init expects, defaulting to info on an unrecognized value.
func (c *Config) LogLevel() log.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
