// Package config loads simulator settings from defaults, an optional config
// file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/ukydev/fleet-simulator/internal/db"
	"github.com/ukydev/fleet-simulator/internal/geofence"
	"github.com/ukydev/fleet-simulator/internal/notifier"
	"github.com/ukydev/fleet-simulator/internal/simulation"
)

// EnvPrefix prefixes every environment override, e.g. FLEETSIM_LOG_LEVEL.
const EnvPrefix = "FLEETSIM"

// Directory sources.
const (
	DirectoryBackend = "backend"
	DirectoryMongo   = "mongo"
)

// State store drivers.
const (
	StateFile   = "file"
	StateSQLite = "sqlite"
	StateMongo  = "mongo"
)

type BackendConfig struct {
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	AuthToken string        `mapstructure:"auth_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// JWTSecret, when set, mints short-lived service tokens for the backend.
	JWTSecret string `mapstructure:"jwt_secret"`
}

type SimulationConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// TickSeconds overrides TickInterval when at least 1.
	TickSeconds        int           `mapstructure:"tick_seconds"`
	Concurrency        int           `mapstructure:"concurrency"`
	Seed               int64         `mapstructure:"seed"`
	InitialMileageMax  float64       `mapstructure:"initial_mileage_max"`
	MaxDistancePerTick float64       `mapstructure:"max_distance_per_tick"`
	Directory          string        `mapstructure:"directory"`
	ResetDefects       bool          `mapstructure:"reset_defects"`
	StopTimeout        time.Duration `mapstructure:"stop_timeout"`
}

type GeofenceConfig struct {
	Boxes    []geofence.Box `mapstructure:"boxes"`
	Polygons []string       `mapstructure:"polygons"`

	// Corridors limit the regions to points on one of these WKT polygons.
	// The default territory uses geofence.RouteCorridors when none are set.
	Corridors   []string `mapstructure:"corridors"`
	MaxAttempts int      `mapstructure:"max_attempts"`
}

type StateConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type MQTTConfig struct {
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         int           `mapstructure:"qos"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
	// Mirror copies telemetry and notifications into Mongo.
	Mirror bool `mapstructure:"mirror"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type OpsConfig struct {
	Addr       string        `mapstructure:"addr"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full simulator configuration.
type Config struct {
	Backend    BackendConfig     `mapstructure:"backend"`
	Simulation SimulationConfig  `mapstructure:"simulation"`
	Policy     simulation.Policy `mapstructure:"policy"`
	Geofence   GeofenceConfig    `mapstructure:"geofence"`
	State      StateConfig       `mapstructure:"state"`
	MQTT       MQTTConfig        `mapstructure:"mqtt"`
	Mongo      MongoConfig       `mapstructure:"mongo"`
	AMQP       AMQPConfig        `mapstructure:"amqp"`
	Ops        OpsConfig         `mapstructure:"ops"`
	Log        LogConfig         `mapstructure:"log"`
}

// legacyEnv keeps the environment names of earlier simulator releases.
var legacyEnv = map[string][]string{
	"backend.url":             {"API_BASE_URL", "SUPABASE_URL"},
	"backend.api_key":         {"SUPABASE_KEY"},
	"backend.auth_token":      {"SIM_AUTH_TOKEN"},
	"simulation.tick_seconds": {"SIM_TICK_SECONDS"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", "http://localhost:8081/rest/v1")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.auth_token", "")
	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("backend.jwt_secret", "")

	v.SetDefault("simulation.tick_interval", 5*time.Second)
	v.SetDefault("simulation.tick_seconds", 0)
	v.SetDefault("simulation.concurrency", 16)
	v.SetDefault("simulation.seed", 0)
	v.SetDefault("simulation.initial_mileage_max", simulation.DefaultInitialMileageMax)
	v.SetDefault("simulation.max_distance_per_tick", 0.0)
	v.SetDefault("simulation.directory", DirectoryBackend)
	v.SetDefault("simulation.reset_defects", true)
	v.SetDefault("simulation.stop_timeout", 15*time.Second)

	p := simulation.DefaultPolicy()
	v.SetDefault("policy.min_speed", p.MinSpeed)
	v.SetDefault("policy.max_speed", p.MaxSpeed)
	v.SetDefault("policy.resume_speed_variation", p.ResumeSpeedVariation)
	v.SetDefault("policy.speed_variation_chance", p.SpeedVariationChance)
	v.SetDefault("policy.speed_variation_delta", p.SpeedVariationDelta)
	v.SetDefault("policy.reconcile_interval", p.ReconcileInterval)
	v.SetDefault("policy.pause_probability", p.PauseProbability)
	v.SetDefault("policy.defect_on_pause_probability", p.DefectOnPauseProbability)
	v.SetDefault("policy.pause_min", p.PauseMin)
	v.SetDefault("policy.pause_max", p.PauseMax)
	v.SetDefault("policy.defect_dwell_min", p.DefectDwellMin)
	v.SetDefault("policy.defect_dwell_max", p.DefectDwellMax)
	v.SetDefault("policy.notification_interval", p.NotificationInterval)
	v.SetDefault("policy.max_defect_notifications", p.MaxDefectNotifications)
	v.SetDefault("policy.max_return_notifications", p.MaxReturnNotifications)

	v.SetDefault("geofence.boxes", []geofence.Box{})
	v.SetDefault("geofence.polygons", []string{})
	v.SetDefault("geofence.corridors", []string{})
	v.SetDefault("geofence.max_attempts", geofence.DefaultMaxAttempts)

	v.SetDefault("state.driver", StateFile)
	v.SetDefault("state.path", "vehicle_state.json")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "fleet-simulator")
	v.SetDefault("mqtt.topic_prefix", "fleet")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.timeout", 5*time.Second)

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "fleetsim")
	v.SetDefault("mongo.mirror", false)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", notifier.DefaultExchange)

	v.SetDefault("ops.addr", ":9090")
	v.SetDefault("ops.jwt_secret", "")
	v.SetDefault("ops.rate_limit", 120)
	v.SetDefault("ops.rate_window", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration. configFile may be empty, in which case a
// fleetsim.{yaml,json,toml} in the working directory is used when present.
// envFile names a dotenv file; a missing one is ignored.
func Load(configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		envName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, envName}, names...)...); err != nil {
			return nil, err
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("fleetsim")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		log.WithField("file", used).Debug("Loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Simulation.TickSeconds >= 1 {
		cfg.Simulation.TickInterval = time.Duration(cfg.Simulation.TickSeconds) * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Simulation.TickInterval <= 0 {
		errs = append(errs, errors.New("simulation.tick_interval must be positive"))
	}
	switch c.Simulation.Directory {
	case DirectoryBackend:
		if c.Backend.URL == "" {
			errs = append(errs, errors.New("backend.url is required"))
		}
	case DirectoryMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("mongo.uri is required for the mongo directory"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown simulation.directory %q", c.Simulation.Directory))
	}
	switch c.State.Driver {
	case StateFile, StateSQLite:
		if c.State.Path == "" {
			errs = append(errs, errors.New("state.path is required"))
		}
	case StateMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("mongo.uri is required for the mongo state store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state.driver %q", c.State.Driver))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}
	return errors.Join(errs...)
}

// NeedsMongo reports whether any component is backed by MongoDB.
func (c *Config) NeedsMongo() bool {
	return c.Simulation.Directory == DirectoryMongo || c.State.Driver == StateMongo || c.Mongo.Mirror
}

// MongoURI returns the configured URI or the default one.
func (c *Config) MongoURI() string {
	if c.Mongo.URI != "" {
		return c.Mongo.URI
	}
	return db.DefaultMongoURI
}

// SetupLogging applies the log level and format to the standard logger.
func SetupLogging(c LogConfig) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	switch strings.ToLower(c.Format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	return nil
}
