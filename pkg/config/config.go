// Package config loads and validates the daemon's static configuration:
// logging, telemetry, VM identity, transport tuning, the directory backend,
// the control-plane REST/database surface, metrics, and Kerberos
// authentication. Dynamic state (peer bootstrap entries, export audit) lives
// in the control plane database instead, keeping pkg/config limited to
// static settings and pkg/controlplane/store to dynamic state.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (HYPERDMABUF_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hyperbridge/dmabridge/pkg/controlplane/api"
	"github.com/hyperbridge/dmabridge/pkg/controlplane/store"
)

// Config is the daemon's complete static configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// VM identifies this bridge instance and bounds its handle allocator.
	VM VMConfig `mapstructure:"vm" yaml:"vm"`

	// Transport tunes the ring-buffer/notification layer (component D).
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Directory configures peer discovery/bootstrap publication (component D).
	Directory DirectoryConfig `mapstructure:"directory" yaml:"directory"`

	// ShutdownTimeout bounds graceful drain of in-flight verbs.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the control plane's persistence (peer/export audit).
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Metrics configures the Prometheus metrics HTTP server.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ControlPlane configures the REST control surface (component J).
	ControlPlane api.APIConfig `mapstructure:"controlplane" yaml:"controlplane"`

	// Kerberos configures optional control-plane authentication.
	Kerberos KerberosConfig `mapstructure:"kerberos" yaml:"kerberos"`
}

// VMConfig identifies this daemon's VM id and bounds per-VM resources.
type VMConfig struct {
	// SelfVM is this instance's VM identifier, the high byte of every
	// handle it mints.
	SelfVM uint32 `mapstructure:"self_vm" validate:"required" yaml:"self_vm"`

	// MaxSlots bounds the handle allocator's live-handle count.
	// Default: 1000
	MaxSlots int `mapstructure:"max_slots" validate:"omitempty,gt=0" yaml:"max_slots"`

	// ArenaPath is the backing file for this VM's grant-table arena, the
	// mmap'd region pkg/shareengine carves page-sharing grants out of.
	ArenaPath string `mapstructure:"arena_path" validate:"required" yaml:"arena_path"`
}

// TransportConfig tunes the ring-buffer transport and its notification loop.
type TransportConfig struct {
	// Backend selects the transport implementation: "shm" (ring buffer over
	// the shared page, the production path) or "grpc" (dev/CI substitute).
	Backend string `mapstructure:"backend" validate:"omitempty,oneof=shm grpc" yaml:"backend"`

	// RingSlots is the number of frame slots per direction per peer ring.
	RingSlots int `mapstructure:"ring_slots" validate:"omitempty,gt=0" yaml:"ring_slots"`

	// SyncSendTimeout bounds a synchronous OPS_TO_SOURCE round trip.
	SyncSendTimeout time.Duration `mapstructure:"sync_send_timeout" yaml:"sync_send_timeout"`

	// WorkerPoolSize sizes the EXPORT dispatch worker pool.
	WorkerPoolSize int `mapstructure:"worker_pool_size" validate:"omitempty,gt=0" yaml:"worker_pool_size"`

	// GRPCAddr is the listen/dial address when Backend is "grpc".
	GRPCAddr string `mapstructure:"grpc_addr" yaml:"grpc_addr"`
}

// DirectoryConfig selects the peer-discovery/bootstrap backend.
type DirectoryConfig struct {
	// Backend selects "memory" (tests), "fsnotify" (watched directory tree),
	// or "badger" (persistent embedded KV).
	Backend string `mapstructure:"backend" validate:"omitempty,oneof=memory fsnotify badger" yaml:"backend"`

	// Path is the directory tree (fsnotify) or data directory (badger) the
	// backend reads/writes.
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing export.
type TelemetryConfig struct {
	Enabled    bool            `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string          `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool            `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64         `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
	Profiling  ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// KerberosConfig configures optional Kerberos authentication on the
// control-plane REST surface.
type KerberosConfig struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	KeytabPath       string        `mapstructure:"keytab_path" yaml:"keytab_path"`
	ServicePrincipal string        `mapstructure:"service_principal" yaml:"service_principal"`
	Krb5Conf         string        `mapstructure:"krb5_conf" yaml:"krb5_conf"`
	MaxClockSkew     time.Duration `mapstructure:"max_clock_skew" yaml:"max_clock_skew"`
	ContextTTL       time.Duration `mapstructure:"context_ttl" yaml:"context_ttl"`

	IdentityMapping IdentityMappingConfig `mapstructure:"identity_mapping" yaml:"identity_mapping"`
}

// IdentityMappingConfig controls how Kerberos principals resolve to VM
// ownership (pkg/auth/kerberos.StaticMapper).
type IdentityMappingConfig struct {
	// Strategy selects the mapping approach. Only "static" is implemented.
	Strategy string `mapstructure:"strategy" yaml:"strategy"`

	// StaticMap maps "principal@REALM" to the VM that principal authenticates as.
	StaticMap map[string]StaticVMIdentity `mapstructure:"static_map" yaml:"static_map"`

	// DefaultVM is not read by StaticMapper, which rejects every principal
	// absent from StaticMap.
	DefaultVM uint32 `mapstructure:"default_vm" yaml:"default_vm"`
}

// StaticVMIdentity is one static principal-to-VM mapping entry.
type StaticVMIdentity struct {
	VM uint32 `mapstructure:"vm" yaml:"vm"`
}

// Load reads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, producing an actionable error if the
// default config file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"initialize one first:\n"+
				"  hyperdmabufd init\n\n"+
				"or specify a custom path:\n"+
				"  hyperdmabufd start --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in YAML form.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate runs struct-tag validation via go-playground/validator plus the
// database sub-config's own Validate.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}
	return cfg.Database.Validate()
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("HYPERDMABUF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(durationDecodeHook())
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hyperdmabuf")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "hyperdmabuf")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default path.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir exposes the configuration directory for the init command.
func GetConfigDir() string {
	return getConfigDir()
}
