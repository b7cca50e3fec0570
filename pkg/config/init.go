package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperbridge/dmabridge/pkg/session"
)

// configTemplate is the YAML written by InitConfig/InitConfigToPath. It is
// not produced via yaml.Marshal(GetDefaultConfig()) because a hand-written
// template can carry comments explaining each section; jwtSecret is filled
// in at generation time so every fresh daemon gets its own signing key.
const configTemplate = `# HyperDMABuf Configuration File
#
# This file configures the cross-VM DMA-buffer bridge daemon. Environment
# variables prefixed HYPERDMABUF_ override any value here (e.g.
# HYPERDMABUF_VM_SELF_VM=3).

logging:
  level: INFO
  format: text
  output: stderr

telemetry:
  enabled: false
  endpoint: localhost:4317
  insecure: true
  sample_rate: 1.0
  profiling:
    enabled: false
    endpoint: http://localhost:4040

vm:
  self_vm: 1
  max_slots: 1000
  arena_path: ""

transport:
  backend: shm
  ring_slots: 256
  sync_send_timeout: 5s
  worker_pool_size: 4
  grpc_addr: localhost:7800

directory:
  backend: memory
  path: ""

shutdown_timeout: 30s

database:
  type: sqlite
  sqlite:
    path: ""

metrics:
  enabled: false
  port: 9090

controlplane:
  port: 8080
  read_timeout: 10s
  write_timeout: 10s
  idle_timeout: 60s
  jwt:
    secret: %q
    ttl: 8h

kerberos:
  enabled: false
  keytab_path: ""
  service_principal: ""
  krb5_conf: /etc/krb5.conf
  max_clock_skew: 5m
  context_ttl: 8h
  identity_mapping:
    strategy: static
    static_map: {}
    default_vm: 0
`

// InitConfig writes a sample configuration file to the default location
// ($XDG_CONFIG_HOME/hyperdmabuf/config.yaml), refusing to overwrite an
// existing file unless force is set.
func InitConfig(force bool) (string, error) {
	return GetDefaultConfigPath(), InitConfigToPath(GetDefaultConfigPath(), force)
}

// InitConfigToPath writes a sample configuration file to path, refusing to
// overwrite an existing file unless force is set.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	secret, err := session.GenerateSecret()
	if err != nil {
		return fmt.Errorf("failed to generate JWT secret: %w", err)
	}

	content := fmt.Sprintf(configTemplate, secret)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
