// Package config handles configuration management for the proxy: layered
// flag/env/file loading via cobra+viper, the same pattern the teacher's
// config.go uses, narrowed to the fields this proxy actually needs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quicproxy/internal/logging"
	"quicproxy/internal/rewrite"
)

// RewriteRule is one pattern/replacement pair loaded from config, fed
// straight into internal/rewrite.New.
type RewriteRule struct {
	Pattern     string `mapstructure:"pattern"`
	Replacement string `mapstructure:"replacement"`
}

// Config holds all configuration for the proxy server, narrowed from the
// teacher's sprawling Config struct down to the fields spec.md §2/§6/§9
// names: the backend origin, rewrite rules, protocol capability flags, and
// the listen/admin/TLS settings every component actually consults.
type Config struct {
	// Backend and rewriting
	ProxyPass           string        `mapstructure:"proxy_pass"`
	ProxyTimeoutMs      int           `mapstructure:"proxy_timeout_ms"`
	Rewrites            []RewriteRule `mapstructure:"rewrites"`
	RewriteBeforeRebase bool          `mapstructure:"rewrite_before_rebase"`

	// Protocol capability flags (spec.md §9 Open Questions)
	UsingHTTP2 bool `mapstructure:"using_http2"`
	UsingQUIC  bool `mapstructure:"using_quic"`
	UsingSPDY  bool `mapstructure:"using_spdy"` // deprecated; see ResolveSPDY

	// Listener addresses
	ListenAddr string `mapstructure:"listen_addr"`
	ListenPort int    `mapstructure:"listen_port"`
	AdminAddr  string `mapstructure:"admin_addr"`
	AdminPort  int    `mapstructure:"admin_port"`

	// TLS
	TLSCertPath string `mapstructure:"tls_cert_path"`
	TLSKeyPath  string `mapstructure:"tls_key_path"`

	// Logging
	LogLevel       string `mapstructure:"log_level"`
	SyslogEndpoint string `mapstructure:"syslog_endpoint"`

	// QUIC transport tuning
	MaxIdleTimeoutMs   int   `mapstructure:"max_idle_timeout_ms"`
	HandshakeTimeoutMs int   `mapstructure:"handshake_timeout_ms"`
	MaxIncomingStreams int64 `mapstructure:"max_incoming_streams"`

	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// NewConfig creates a new configuration with default values.
func NewConfig() *Config {
	return &Config{
		ProxyTimeoutMs:      30000,
		RewriteBeforeRebase: true,
		UsingHTTP2:          true,
		UsingQUIC:           true,
		ListenAddr:          "0.0.0.0",
		ListenPort:          8443,
		AdminAddr:           "0.0.0.0",
		AdminPort:           8081,
		LogLevel:            "info",
		MaxIdleTimeoutMs:    30000,
		HandshakeTimeoutMs:  10000,
		MaxIncomingStreams:  1000,
		EnableMetrics:       true,
	}
}

// Load creates a new configuration from command line flags, environment
// variables, and an optional config file, the same three-layer precedence
// the teacher's Load uses (flags > env > file > defaults).
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(v, cmd); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	v.SetEnvPrefix("QUICPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("proxy_pass", "")
	v.SetDefault("proxy_timeout_ms", 30000)
	v.SetDefault("rewrite_before_rebase", true)

	v.SetDefault("using_http2", true)
	v.SetDefault("using_quic", true)
	v.SetDefault("using_spdy", false)

	v.SetDefault("listen_addr", "0.0.0.0")
	v.SetDefault("listen_port", 8443)
	v.SetDefault("admin_addr", "0.0.0.0")
	v.SetDefault("admin_port", 8081)

	v.SetDefault("tls_cert_path", "")
	v.SetDefault("tls_key_path", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("syslog_endpoint", os.Getenv("SYSLOG_ENDPOINT"))

	v.SetDefault("max_idle_timeout_ms", 30000)
	v.SetDefault("handshake_timeout_ms", 10000)
	v.SetDefault("max_incoming_streams", 1000)

	v.SetDefault("enable_metrics", true)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	flagBindings := map[string]string{
		"proxy-pass":   "proxy_pass",
		"listen-addr":  "listen_addr",
		"listen-port":  "listen_port",
		"admin-addr":   "admin_addr",
		"admin-port":   "admin_port",
		"tls-cert":     "tls_cert_path",
		"tls-key":      "tls_key_path",
		"log-level":    "log_level",
		"using-http2":  "using_http2",
		"using-quic":   "using_quic",
		"using-spdy":   "using_spdy",
	}

	for flag, configKey := range flagBindings {
		if cmd.Flags().Lookup(flag) == nil {
			continue
		}
		if err := v.BindPFlag(configKey, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.ProxyPass == "" {
		return fmt.Errorf("proxy_pass is required")
	}

	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		return fmt.Errorf("invalid listen_port: %d", cfg.ListenPort)
	}
	if cfg.AdminPort <= 0 || cfg.AdminPort > 65535 {
		return fmt.Errorf("invalid admin_port: %d", cfg.AdminPort)
	}
	if cfg.ListenPort == cfg.AdminPort {
		return fmt.Errorf("listen_port and admin_port cannot be the same")
	}

	if cfg.ProxyTimeoutMs < 0 {
		return fmt.Errorf("proxy_timeout_ms must not be negative")
	}

	for i, r := range cfg.Rewrites {
		if r.Pattern == "" {
			return fmt.Errorf("rewrites[%d].pattern is required", i)
		}
	}

	return nil
}

// ResolveSPDY implements spec.md §9 Open Question 2: using_spdy is
// deprecated, so a configured true is logged and folded into using_http2
// instead of honored as its own protocol.
func (c *Config) ResolveSPDY(logger *logging.Logger) {
	if !c.UsingSPDY {
		return
	}
	if logger != nil {
		logger.Warn("using_spdy is deprecated, enabling HTTP/2 instead")
	}
	c.UsingHTTP2 = true
	c.UsingSPDY = false
}

// Capabilities returns the set of protocol capabilities this configuration
// advertises, the narrowed form of the teacher's GetCapabilities.
func (c *Config) Capabilities() []string {
	var caps []string
	if c.UsingQUIC {
		caps = append(caps, "quic")
	}
	if c.UsingHTTP2 {
		caps = append(caps, "http2")
	}
	return caps
}

// Rewriter builds the configured URL rewriter, or nil if no rules are set.
func (c *Config) Rewriter() (*rewrite.Rewriter, error) {
	if len(c.Rewrites) == 0 {
		return nil, nil
	}
	rules := make([]rewrite.Rule, len(c.Rewrites))
	for i, r := range c.Rewrites {
		rules[i] = rewrite.Rule{Pattern: r.Pattern, Replacement: r.Replacement}
	}
	return rewrite.New(rules)
}

// StreamDeadline is the per-stream backend round-trip deadline fetcher.Task
// enforces, derived from ProxyTimeoutMs.
func (c *Config) StreamDeadline() time.Duration {
	return time.Duration(c.ProxyTimeoutMs) * time.Millisecond
}

// MaxIdleTimeout is the QUIC connection idle timeout.
func (c *Config) MaxIdleTimeout() time.Duration {
	return time.Duration(c.MaxIdleTimeoutMs) * time.Millisecond
}

// HandshakeTimeout is the QUIC handshake idle timeout.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

// GetListenAddress returns the full QUIC listen address.
func (c *Config) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.ListenPort)
}

// GetAdminAddress returns the full admin/metrics listen address.
func (c *Config) GetAdminAddress() string {
	return fmt.Sprintf("%s:%d", c.AdminAddr, c.AdminPort)
}

// IsTLSEnabled returns true if an explicit certificate/key pair is
// configured; without one the transport falls back to a self-signed cert.
func (c *Config) IsTLSEnabled() bool {
	return c.TLSCertPath != "" && c.TLSKeyPath != ""
}

