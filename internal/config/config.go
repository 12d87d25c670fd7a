package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	RepingRounds       uint64        `mapstructure:"reping_rounds" yaml:"reping_rounds"`
	EvictAfterRounds   uint64        `mapstructure:"evict_after_rounds" yaml:"evict_after_rounds"`
	InboundBuffer      int           `mapstructure:"inbound_buffer" yaml:"inbound_buffer"`
	OutboundBuffer     int           `mapstructure:"outbound_buffer" yaml:"outbound_buffer"`
	RegisterTimeout    time.Duration `mapstructure:"register_timeout" yaml:"register_timeout"`
	MaxFramesPerMinute int           `mapstructure:"max_frames_per_minute" yaml:"max_frames_per_minute"`
	MaxFrameBytes      int64         `mapstructure:"max_frame_bytes" yaml:"max_frame_bytes"`
	VerifySender       bool          `mapstructure:"verify_sender" yaml:"verify_sender"`

	// HistoryPath is the SQLite file for session history; empty disables it.
	HistoryPath string `mapstructure:"history_path" yaml:"history_path"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	TLS TLSConfig `mapstructure:"tls" yaml:"tls"`
}

// TLSConfig selects static certificates or ACME. Both empty means plain HTTP.
type TLSConfig struct {
	CertFile         string   `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile          string   `mapstructure:"key_file" yaml:"key_file"`
	AutocertDomains  []string `mapstructure:"autocert_domains" yaml:"autocert_domains"`
	AutocertCacheDir string   `mapstructure:"autocert_cache_dir" yaml:"autocert_cache_dir"`
}

// Enabled reports whether the server should terminate TLS.
func (t TLSConfig) Enabled() bool {
	return (t.CertFile != "" && t.KeyFile != "") || len(t.AutocertDomains) > 0
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		HeartbeatInterval:  10 * time.Second,
		RepingRounds:       2,
		EvictAfterRounds:   0,
		InboundBuffer:      10,
		OutboundBuffer:     10,
		RegisterTimeout:    5 * time.Second,
		MaxFramesPerMinute: 0,
		MaxFrameBytes:      64 << 10,
		VerifySender:       true,
		JWTIssuer:          "wirechat-rendezvous",
		TLS: TLSConfig{
			AutocertCacheDir: "autocert",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// VerifySender is a plain bool and is not merged; set it directly.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.HeartbeatInterval != 0 {
		c.HeartbeatInterval = other.HeartbeatInterval
	}
	if other.RepingRounds != 0 {
		c.RepingRounds = other.RepingRounds
	}
	if other.EvictAfterRounds != 0 {
		c.EvictAfterRounds = other.EvictAfterRounds
	}
	if other.InboundBuffer != 0 {
		c.InboundBuffer = other.InboundBuffer
	}
	if other.OutboundBuffer != 0 {
		c.OutboundBuffer = other.OutboundBuffer
	}
	if other.RegisterTimeout != 0 {
		c.RegisterTimeout = other.RegisterTimeout
	}
	if other.MaxFramesPerMinute != 0 {
		c.MaxFramesPerMinute = other.MaxFramesPerMinute
	}
	if other.MaxFrameBytes != 0 {
		c.MaxFrameBytes = other.MaxFrameBytes
	}
	if other.HistoryPath != "" {
		c.HistoryPath = other.HistoryPath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.TLS.CertFile != "" {
		c.TLS.CertFile = other.TLS.CertFile
	}
	if other.TLS.KeyFile != "" {
		c.TLS.KeyFile = other.TLS.KeyFile
	}
	if len(other.TLS.AutocertDomains) > 0 {
		c.TLS.AutocertDomains = other.TLS.AutocertDomains
	}
	if other.TLS.AutocertCacheDir != "" {
		c.TLS.AutocertCacheDir = other.TLS.AutocertCacheDir
	}
}
