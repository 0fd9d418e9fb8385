// Package config loads the station configuration from configs/config.yml
// with environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"beverage_dispenser/internal/hardware"
	"beverage_dispenser/internal/housekeeping"
	"beverage_dispenser/internal/service"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DISPENSER_SERVER_PORT.
const EnvPrefix = "DISPENSER"

type Config struct {
	Server       ServerConfig               `mapstructure:"server"`
	Log          LogConfig                  `mapstructure:"log"`
	DB           DBConfig                   `mapstructure:"db"`
	Hardware     HardwareConfig             `mapstructure:"hardware"`
	Flow         service.FlowConfig         `mapstructure:"flow"`
	Cup          service.CupDispenserConfig `mapstructure:"cup"`
	Delivery     service.DeliveryConfig     `mapstructure:"delivery"`
	Sequence     service.SequenceConfig     `mapstructure:"sequence"`
	Errors       ErrorsConfig               `mapstructure:"errors"`
	Monitor      MonitorConfig              `mapstructure:"monitor"`
	Beverages    BeveragesConfig            `mapstructure:"beverages"`
	Housekeeping housekeeping.Config        `mapstructure:"housekeeping"`
}

type ServerConfig struct {
	Port              string        `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	StreamInterval    time.Duration `mapstructure:"stream_interval"` // websocket state push period
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type HardwareConfig struct {
	Sim SimConfig `mapstructure:"sim"`
}

// SimConfig is the simulated rig plus its physics tick.
type SimConfig struct {
	hardware.RigConfig `mapstructure:",squash"`
	Tick               time.Duration `mapstructure:"tick"`
}

type ErrorsConfig struct {
	MaxHistory int `mapstructure:"max_history"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type BeveragesConfig struct {
	File string `mapstructure:"file"`
}

// Station returns the component tuning for service.NewService.
func (c Config) Station() service.Config {
	return service.Config{
		Flow:       c.Flow,
		Cup:        c.Cup,
		Delivery:   c.Delivery,
		Sequence:   c.Sequence,
		MaxErrors:  c.Errors.MaxHistory,
		Controller: service.ControllerConfig{MonitorInterval: c.Monitor.Interval},
	}
}

// Load reads the configuration. An empty path looks for configs/config.yml
// and falls back to defaults when it is absent; an explicit path must exist.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.stream_interval", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("db.path", "dispenser.db")

	sim := hardware.DefaultRigConfig()
	v.SetDefault("hardware.sim.line_flow_rate", sim.LineFlowRate)
	v.SetDefault("hardware.sim.ml_per_pulse", sim.MlPerPulse)
	v.SetDefault("hardware.sim.feed_travel", sim.FeedTravel)
	v.SetDefault("hardware.sim.delivery_travel", sim.DeliveryTravel)
	v.SetDefault("hardware.sim.pickup_delay", sim.PickupDelay)
	v.SetDefault("hardware.sim.cup_capacity_ml", sim.CupCapacityMl)
	v.SetDefault("hardware.sim.cup_tare_g", sim.CupTareG)
	v.SetDefault("hardware.sim.tick", 20*time.Millisecond)

	v.SetDefault("flow.ml_per_pulse", service.DefaultMlPerPulse)
	v.SetDefault("flow.poll_interval", service.DefaultPollInterval)
	v.SetDefault("flow.timeout_factor", service.DefaultTimeoutFactor)
	v.SetDefault("flow.settle_delay", service.DefaultSettleDelay)

	v.SetDefault("cup.release_hold", service.DefaultReleaseHold)
	v.SetDefault("cup.drop_delay", service.DefaultDropDelay)
	v.SetDefault("cup.detection_timeout", service.DefaultDetectionTimeout)
	v.SetDefault("cup.poll_interval", service.DefaultPollInterval)

	v.SetDefault("delivery.speed", service.DefaultConveyorSpeed)
	v.SetDefault("delivery.timeout", service.DefaultDeliveryTimeout)
	v.SetDefault("delivery.poll_interval", service.DefaultPollInterval)

	v.SetDefault("sequence.max_retries", service.DefaultMaxRetries)
	v.SetDefault("sequence.retry_delay", service.DefaultRetryDelay)

	v.SetDefault("errors.max_history", service.DefaultMaxErrors)
	v.SetDefault("monitor.interval", service.DefaultMonitorInterval)
	v.SetDefault("beverages.file", "configs/beverages.yml")

	v.SetDefault("housekeeping.checkpoint_spec", "@every 1m")
	v.SetDefault("housekeeping.prune_spec", "@daily")
	v.SetDefault("housekeeping.retention", 30*24*time.Hour)
}

func (c Config) validate() error {
	switch {
	case c.Server.Port == "":
		return errors.New("config: server.port is empty")
	case c.Sequence.MaxRetries < 1:
		return fmt.Errorf("config: sequence.max_retries must be at least 1, got %d", c.Sequence.MaxRetries)
	case c.Delivery.Speed <= 0 || c.Delivery.Speed > 1:
		return fmt.Errorf("config: delivery.speed must be within (0,1], got %.2f", c.Delivery.Speed)
	case c.Flow.MlPerPulse <= 0:
		return fmt.Errorf("config: flow.ml_per_pulse must be positive, got %.3f", c.Flow.MlPerPulse)
	case c.Hardware.Sim.Tick <= 0:
		return fmt.Errorf("config: hardware.sim.tick must be positive, got %s", c.Hardware.Sim.Tick)
	}
	return nil
}
