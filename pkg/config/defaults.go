package config

import (
	"path/filepath"
	"time"
)

// GetDefaultConfig returns a fully-populated Config suitable for local
// development and single-peer testing.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if !cfg.Telemetry.Insecure && cfg.Telemetry.Endpoint == "localhost:4317" {
		cfg.Telemetry.Insecure = true
	}
	if len(cfg.Telemetry.Profiling.ProfileTypes) == 0 {
		cfg.Telemetry.Profiling.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"}
	}
	if cfg.Telemetry.Profiling.Endpoint == "" {
		cfg.Telemetry.Profiling.Endpoint = "http://localhost:4040"
	}

	if cfg.VM.MaxSlots == 0 {
		cfg.VM.MaxSlots = 1000
	}
	if cfg.VM.ArenaPath == "" {
		cfg.VM.ArenaPath = filepath.Join(getConfigDir(), "arena.bin")
	}

	if cfg.Transport.Backend == "" {
		cfg.Transport.Backend = "shm"
	}
	if cfg.Transport.RingSlots == 0 {
		cfg.Transport.RingSlots = 256
	}
	if cfg.Transport.SyncSendTimeout == 0 {
		cfg.Transport.SyncSendTimeout = 5 * time.Second
	}
	if cfg.Transport.WorkerPoolSize == 0 {
		cfg.Transport.WorkerPoolSize = 4
	}
	if cfg.Transport.GRPCAddr == "" {
		cfg.Transport.GRPCAddr = "localhost:7800"
	}

	if cfg.Directory.Backend == "" {
		cfg.Directory.Backend = "memory"
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	cfg.Database.ApplyDefaults()

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}

	if cfg.ControlPlane.Port == 0 {
		cfg.ControlPlane.Port = 8080
	}
	if cfg.ControlPlane.ReadTimeout == 0 {
		cfg.ControlPlane.ReadTimeout = 10 * time.Second
	}
	if cfg.ControlPlane.WriteTimeout == 0 {
		cfg.ControlPlane.WriteTimeout = 10 * time.Second
	}
	if cfg.ControlPlane.IdleTimeout == 0 {
		cfg.ControlPlane.IdleTimeout = 60 * time.Second
	}
	if cfg.ControlPlane.JWT.TTL == 0 {
		cfg.ControlPlane.JWT.TTL = 8 * time.Hour
	}

	if cfg.Kerberos.Krb5Conf == "" {
		cfg.Kerberos.Krb5Conf = "/etc/krb5.conf"
	}
	if cfg.Kerberos.MaxClockSkew == 0 {
		cfg.Kerberos.MaxClockSkew = 5 * time.Minute
	}
	if cfg.Kerberos.ContextTTL == 0 {
		cfg.Kerberos.ContextTTL = 8 * time.Hour
	}
	if cfg.Kerberos.IdentityMapping.Strategy == "" {
		cfg.Kerberos.IdentityMapping.Strategy = "static"
	}
}
