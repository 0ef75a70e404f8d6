package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for a wiredrop send or receive process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Hardware  HardwareConfig  `yaml:"hardware"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ServerConfig controls the HTTPS listener wiredrop binds for the transfer.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	TLSCertFile  string        `yaml:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file"`
	BindTimeout  time.Duration `yaml:"bind_timeout"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// TransferConfig governs chunk size and request concurrency for a session.
//
// Local and Tunnel mirror the two presets the original ArchDrop CLI offers:
// a large chunk size for same-LAN transfers, and a small one tuned for
// request/response overhead over a relay tunnel.
type TransferConfig struct {
	ChunkSize   int `yaml:"chunk_size"`
	Concurrency int `yaml:"concurrency"`
}

// Local returns the preset used for same-network transfers: large chunks,
// higher request concurrency.
func Local() TransferConfig {
	return TransferConfig{
		ChunkSize:   10 * 1024 * 1024,
		Concurrency: 8,
	}
}

// Tunnel returns the preset used when traffic passes through a relay
// tunnel: small chunks keep individual request/response latency down,
// and concurrency is capped to avoid overwhelming the tunnel.
func Tunnel() TransferConfig {
	return TransferConfig{
		ChunkSize:   1 * 1024 * 1024,
		Concurrency: 2,
	}
}

func (t TransferConfig) Validate() error {
	if t.ChunkSize <= 0 {
		return fmt.Errorf("transfer.chunk_size must be positive, got %d", t.ChunkSize)
	}
	if t.Concurrency <= 0 {
		return fmt.Errorf("transfer.concurrency must be positive, got %d", t.Concurrency)
	}
	return nil
}

// HardwareConfig lets an operator disable hardware-accelerated AES paths,
// e.g. for reproducing a bug on a machine that otherwise has AES-NI.
type HardwareConfig struct {
	EnableAESNI    bool `yaml:"enable_aes_ni"`
	EnableARMv8AES bool `yaml:"enable_armv8_aes"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Exporter     string `yaml:"exporter"` // "stdout" or "otlp"
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

type AuditConfig struct {
	Enabled   bool `yaml:"enabled"`
	MaxEvents int  `yaml:"max_events"`
}

// Default returns a Config with the Local transfer preset and sane ambient
// defaults, suitable for overriding field-by-field from YAML.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   ":8443",
			BindTimeout:  15 * time.Second,
			DrainTimeout: 30 * time.Second,
		},
		Transfer: Local(),
		Hardware: HardwareConfig{
			EnableAESNI:    true,
			EnableARMv8AES: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9090",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			ServiceName: "wiredrop",
		},
		Audit: AuditConfig{
			Enabled:   true,
			MaxEvents: 1000,
		},
	}
}

// Validate checks the configuration for internally-inconsistent values.
// It does not touch the filesystem or network.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	if err := c.Transfer.Validate(); err != nil {
		return err
	}
	switch c.Tracing.Exporter {
	case "", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be \"stdout\" or \"otlp\", got %q", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when tracing.exporter is \"otlp\"")
	}
	return nil
}
