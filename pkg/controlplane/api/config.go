package api

import "time"

// APIConfig configures the control plane's REST server.
type APIConfig struct {
	// Port is the HTTP port the control-plane REST surface listens on.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	JWT JWTConfig `mapstructure:"jwt" yaml:"jwt"`
}

// JWTConfig configures session-token signing for authenticated verb calls.
type JWTConfig struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	Secret string `mapstructure:"secret" validate:"omitempty,min=32" yaml:"secret"`

	// TTL is how long an issued session token remains valid.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}
