// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/spf13/viper"
)

// GlobalConfig is the top-level static configuration for the device.
// Maps to the `gb28181-nvr:` root key in YAML.
type GlobalConfig struct {
	Device    DeviceConfig    `mapstructure:"device"`
	Sip       SipConfig       `mapstructure:"sip"`
	Control   ControlConfig   `mapstructure:"control"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Channels  []ChannelConfig `mapstructure:"channels"`
}

// ─── Device Identity ───

// DeviceConfig carries the 20-digit GB28181 device identity, immutable
// for the process lifetime.
type DeviceConfig struct {
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	Manufacturer string `mapstructure:"manufacturer"`
	Model        string `mapstructure:"model"`
	Owner        string `mapstructure:"owner"`
	CivilCode    string `mapstructure:"civil_code"`
}

// ─── SIP ───

// SipConfig configures the platform endpoint and local transport.
type SipConfig struct {
	Server            string `mapstructure:"server"`
	Port              int    `mapstructure:"port"`
	Transport         string `mapstructure:"transport"` // udp | tcp
	LocalIP           string `mapstructure:"local_ip"`
	LocalPort         int    `mapstructure:"local_port"`
	ContactIP         string `mapstructure:"contact_ip"` // NAT public address
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	Realm             string `mapstructure:"realm"`
	RegisterExpires   int    `mapstructure:"register_expires"`
	KeepaliveInterval int    `mapstructure:"keepalive_interval"`
}

// ─── Control plane (local UDS) ───

// ControlConfig contains local control socket settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Catalog & Recordings ───

// CatalogConfig configures the directory scan and UDP-safety cap.
type CatalogConfig struct {
	StreamDirectory  string `mapstructure:"stream_directory"`
	MaxItems         int    `mapstructure:"max_items"`
	RescanInterval   string `mapstructure:"rescan_interval"`
	DatagramBudget   int    `mapstructure:"datagram_budget_bytes"`
}

// ─── Channels (file-backed clips and live RTSP feeds) ───

// ChannelConfig binds a GB28181 channel ID to a media handle, either a
// configured RTSP source or a directory-scanned file (URL left empty).
type ChannelConfig struct {
	ChannelID   string `mapstructure:"channel_id"`
	Name        string `mapstructure:"name"`
	URL         string `mapstructure:"url"`     // rtsp://... for live sources
	Enabled     bool   `mapstructure:"enabled"`
	LoopPlayback bool  `mapstructure:"loop_playback"`
}

// ─── Streaming presets (GB28181 "format" resolution profiles) ───

// StreamingConfig holds named encoder parameter groups; the fixed
// GB28181 codec:resolution table is media.resolutionPresets, not config.
type StreamingConfig struct {
	DefaultPreset string                    `mapstructure:"default_preset"`
	Presets       map[string]StreamingPreset `mapstructure:"presets"`
}

// StreamingPreset is one named encoder parameter group.
type StreamingPreset struct {
	Profile       string `mapstructure:"profile"`        // baseline | main | high
	BitrateKbps   int    `mapstructure:"bitrate_kbps"`
	KeyframeEvery int    `mapstructure:"keyframe_interval"`
	ZeroLatency   bool   `mapstructure:"zero_latency"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings, unmarshalled straight into
// internal/log.Config.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Pattern string `mapstructure:"pattern"`
	Time    string `mapstructure:"time"`
	File    struct {
		Enabled    bool   `mapstructure:"enabled"`
		Filename   string `mapstructure:"filename"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"file"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure
// `gb28181-nvr: ...`.
type configRoot struct {
	NVR GlobalConfig `mapstructure:"gb28181-nvr"`
}

// Load loads configuration from file. The YAML file uses
// `gb28181-nvr:` as root key; env vars use GB28181_NVR_ prefix
// (e.g. GB28181_NVR_SIP_SERVER).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.NVR

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gb28181-nvr.control.socket", "/var/run/gb28181-nvr.sock")
	v.SetDefault("gb28181-nvr.control.pid_file", "/var/run/gb28181-nvr.pid")

	v.SetDefault("gb28181-nvr.sip.transport", "udp")
	v.SetDefault("gb28181-nvr.sip.local_port", 5080)
	v.SetDefault("gb28181-nvr.sip.register_expires", 3600)
	v.SetDefault("gb28181-nvr.sip.keepalive_interval", 30)

	v.SetDefault("gb28181-nvr.catalog.max_items", 20)
	v.SetDefault("gb28181-nvr.catalog.rescan_interval", "5m")
	v.SetDefault("gb28181-nvr.catalog.datagram_budget_bytes", 1400)

	v.SetDefault("gb28181-nvr.streaming.default_preset", "default")

	v.SetDefault("gb28181-nvr.metrics.enabled", true)
	v.SetDefault("gb28181-nvr.metrics.listen", ":9091")
	v.SetDefault("gb28181-nvr.metrics.path", "/metrics")

	v.SetDefault("gb28181-nvr.log.level", "info")
	v.SetDefault("gb28181-nvr.log.pattern", "%time [%level] %field %msg (%caller)")
	v.SetDefault("gb28181-nvr.log.time", "2006-01-02T15:04:05.000Z07:00")
}

// ValidateAndApplyDefaults validates required fields and fills in
// defaults that depend on other fields (e.g. contact IP falling back
// to the bind IP, the default streaming preset).
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	if cfg.Device.ID == "" {
		return fmt.Errorf("device.id is required")
	}
	if len(cfg.Device.ID) != 20 {
		return fmt.Errorf("device.id must be a 20-digit GB28181 ID, got %q", cfg.Device.ID)
	}
	if cfg.Sip.Server == "" {
		return fmt.Errorf("sip.server is required")
	}
	if cfg.Sip.Transport != "udp" && cfg.Sip.Transport != "tcp" {
		return fmt.Errorf("sip.transport must be udp or tcp, got %q", cfg.Sip.Transport)
	}

	if cfg.Sip.LocalIP == "" {
		ip, err := autoDetectIP()
		if err != nil {
			return fmt.Errorf("failed to auto-detect local_ip: %w", err)
		}
		cfg.Sip.LocalIP = ip
	}
	if cfg.Sip.ContactIP == "" {
		cfg.Sip.ContactIP = cfg.Sip.LocalIP
	}

	if cfg.Streaming.Presets == nil {
		cfg.Streaming.Presets = map[string]StreamingPreset{}
	}
	if _, ok := cfg.Streaming.Presets["default"]; !ok {
		cfg.Streaming.Presets["default"] = StreamingPreset{
			Profile:       "baseline",
			BitrateKbps:   1024,
			KeyframeEvery: 50,
			ZeroLatency:   true,
		}
	}
	if cfg.Streaming.DefaultPreset == "" {
		cfg.Streaming.DefaultPreset = "default"
	}

	return nil
}

// autoDetectIP picks the first non-loopback IPv4 address, mirroring
// the "configured IP may differ from bind IP" note in the spec: when
// unset we still need something to bind to.
func autoDetectIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}
