package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Device kinds understood by the command line.
const (
	KindArm   = "arm"
	KindBelt  = "belt"
	KindBrain = "brain"
)

// Config is the root configuration structure for a mini fulfilment centre process.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Hardware HardwareConfig `yaml:"hardware"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Shadow   ShadowConfig   `yaml:"shadow"`
	Upload   UploadConfig   `yaml:"upload"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Brain    BrainConfig    `yaml:"brain"`
}

// DeviceConfig identifies the device and sets its loop cadence.
type DeviceConfig struct {
	// ID is the device identifier carried in every stage and telemetry message.
	ID string `yaml:"id"`

	// Kind selects the controller: "arm", "belt" or "brain".
	Kind string `yaml:"kind"`

	// CommandKey is the shadow delta key this device obeys
	// (e.g. "sort_arm_cmd", "inv_arm_cmd", "convey_cmd").
	CommandKey string `yaml:"command_key"`

	// StageTopic receives stage begin/end events.
	StageTopic string `yaml:"stage_topic"`

	// TelemetryTopic receives periodic telemetry messages.
	TelemetryTopic string `yaml:"telemetry_topic"`

	// ControlPeriod is the pause between passes of the stage loop.
	ControlPeriod time.Duration `yaml:"control_period"`

	// TelemetryPeriod is the fixed telemetry publish period.
	TelemetryPeriod time.Duration `yaml:"telemetry_period"`

	// SensorPrefix builds telemetry sensor ids, e.g. "arm_servo_id" -> "arm_servo_id_01".
	SensorPrefix string `yaml:"sensor_prefix"`

	// TelemetryVersion is the schema date carried in telemetry messages.
	TelemetryVersion string `yaml:"telemetry_version"`

	// BeltSpeed is the wheel speed used by the conveyor while rolling.
	BeltSpeed int `yaml:"belt_speed"`
}

// HardwareConfig describes the actuator group and its transport.
type HardwareConfig struct {
	// Driver selects the actuator bus implementation. Only "sim" ships today.
	Driver string `yaml:"driver"`

	// Actuators lists the group members in iteration order.
	Actuators []ActuatorConfig `yaml:"actuators"`

	// OpTimeout bounds every register read or write.
	OpTimeout time.Duration `yaml:"op_timeout"`

	// CacheTTL is how long a reading stays valid after it was observed.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// CacheCapacity caps the number of cached readings across the group.
	CacheCapacity int `yaml:"cache_capacity"`

	// Sim tunes the simulated bus and detector.
	Sim SimConfig `yaml:"sim"`
}

// ActuatorConfig maps a logical actuator name to its bus id.
type ActuatorConfig struct {
	Name    string `yaml:"name"`
	ServoID int    `yaml:"servo_id"`
}

// SimConfig tunes the simulated hardware.
type SimConfig struct {
	// DetectEvery makes the simulated camera find a box on every Nth sample.
	// Zero means it never finds one.
	DetectEvery int `yaml:"detect_every"`

	// ImageDir is where the simulated camera writes captured frames.
	ImageDir string `yaml:"image_dir"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Timeouts  MQTTTimeoutsConfig  `yaml:"timeouts"`
}

// MQTTTimeoutsConfig bounds broker round trips. A stage event or
// telemetry sample that cannot be acknowledged within Publish is reported
// as failed and the loop carries on.
type MQTTTimeoutsConfig struct {
	Connect time.Duration `yaml:"connect"`
	Publish time.Duration `yaml:"publish"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// ShadowConfig names the shared shadow document.
type ShadowConfig struct {
	// ThingName is the shadow every device watches for commands.
	ThingName string `yaml:"thing_name"`

	// RequestTimeout bounds get/update requests before the
	// "REQUEST TIME OUT" sentinel is delivered.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// UploadConfig controls the best-effort artefact upload of the find stage.
type UploadConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains SQLite journal settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains the local status server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// BrainConfig configures the master brain routing service.
type BrainConfig struct {
	// SortArmID, InvArmID and ButtonID are the device ids the router reacts to.
	SortArmID string `yaml:"sort_arm_id"`
	InvArmID  string `yaml:"inv_arm_id"`
	ButtonID  string `yaml:"button_id"`

	// Topics are the stage and button topics the brain listens to.
	Topics []string `yaml:"topics"`

	// UploadDir stores artefacts posted by the arms.
	UploadDir string `yaml:"upload_dir"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. .env file in the working directory, if present
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: MINIFC_SECTION_KEY
// For example: MINIFC_MQTT_HOST, MINIFC_DEVICE_ID
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// A missing .env is the normal case on a provisioned device.
	_ = godotenv.Load() //nolint:errcheck // optional file

	applyEnvOverrides(cfg)
	applyKindDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ControlPeriod:   300 * time.Millisecond,
			TelemetryPeriod: time.Second,
			BeltSpeed:       950,
		},
		Hardware: HardwareConfig{
			Driver:        "sim",
			OpTimeout:     500 * time.Millisecond,
			CacheTTL:      120 * time.Second,
			CacheCapacity: 256,
			Sim: SimConfig{
				DetectEvery: 3,
				ImageDir:    os.TempDir(),
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Timeouts: MQTTTimeoutsConfig{
				Connect: 10 * time.Second,
				Publish: 5 * time.Second,
			},
		},
		Shadow: ShadowConfig{
			ThingName:      "master_brain",
			RequestTimeout: 5 * time.Second,
		},
		Upload: UploadConfig{
			Timeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/minifc.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Brain: BrainConfig{
			SortArmID: "sort_arm_ggd",
			InvArmID:  "inv_arm_ggd",
			ButtonID:  "button_ggd",
			Topics:    []string{"/arm/stages", "/convey/stages", "/button"},
			UploadDir: "./data/uploads",
		},
	}
}

// applyKindDefaults fills per-kind defaults the YAML left empty.
func applyKindDefaults(cfg *Config) {
	d := &cfg.Device
	switch d.Kind {
	case KindArm:
		setDefault(&d.CommandKey, "sort_arm_cmd")
		setDefault(&d.StageTopic, "/arm/stages")
		setDefault(&d.TelemetryTopic, "/arm/telemetry")
		setDefault(&d.SensorPrefix, "arm_servo_id")
		setDefault(&d.TelemetryVersion, "2017-06-08")
	case KindBelt:
		setDefault(&d.CommandKey, "convey_cmd")
		setDefault(&d.StageTopic, "/convey/stages")
		setDefault(&d.TelemetryTopic, "/convey/telemetry")
		setDefault(&d.SensorPrefix, "belt_id")
		setDefault(&d.TelemetryVersion, "2017-07-05")
	}
	setDefault(&cfg.MQTT.Broker.ClientID, d.ID)
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MINIFC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("MINIFC_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}

	// MQTT
	if v := os.Getenv("MINIFC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MINIFC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MINIFC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Shadow
	if v := os.Getenv("MINIFC_SHADOW_THING"); v != "" {
		cfg.Shadow.ThingName = v
	}

	// Upload
	if v := os.Getenv("MINIFC_UPLOAD_URL"); v != "" {
		cfg.Upload.URL = v
	}

	// InfluxDB
	if v := os.Getenv("MINIFC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Database
	if v := os.Getenv("MINIFC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch c.Device.Kind {
	case KindArm, KindBelt:
		if len(c.Hardware.Actuators) == 0 {
			errs = append(errs, "hardware.actuators must list at least one actuator")
		}
		if c.Device.CommandKey == "" {
			errs = append(errs, "device.command_key is required")
		}
		if c.Device.ControlPeriod <= 0 {
			errs = append(errs, "device.control_period must be positive")
		}
		if c.Device.TelemetryPeriod <= 0 {
			errs = append(errs, "device.telemetry_period must be positive")
		}
	case KindBrain:
	default:
		errs = append(errs, fmt.Sprintf("device.kind %q must be arm, belt or brain", c.Device.Kind))
	}

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}

	seen := make(map[string]bool, len(c.Hardware.Actuators))
	for _, a := range c.Hardware.Actuators {
		if a.Name == "" {
			errs = append(errs, "hardware.actuators[].name is required")
			continue
		}
		if seen[a.Name] {
			errs = append(errs, fmt.Sprintf("hardware.actuators: duplicate name %q", a.Name))
		}
		seen[a.Name] = true
	}

	if c.Hardware.CacheTTL <= 0 {
		errs = append(errs, "hardware.cache_ttl must be positive")
	}
	if c.Hardware.CacheCapacity <= 0 {
		errs = append(errs, "hardware.cache_capacity must be positive")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Timeouts.Connect <= 0 || c.MQTT.Timeouts.Publish <= 0 {
		errs = append(errs, "mqtt.timeouts.connect and mqtt.timeouts.publish must be positive")
	}
	if c.Shadow.ThingName == "" {
		errs = append(errs, "shadow.thing_name is required")
	}

	if c.Upload.Enabled && c.Upload.URL == "" {
		errs = append(errs, "upload.url is required when upload is enabled")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
