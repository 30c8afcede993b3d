/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package config loads the configuration of the intercom daemon from a YAML
// file, an optional .env file and INTERCOM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/tejzpr/intercom-go-sdk/calling"
	"github.com/tejzpr/intercom-go-sdk/devices"
	"github.com/tejzpr/intercom-go-sdk/identity"
	"github.com/tejzpr/intercom-go-sdk/intercomsdk"
	"github.com/tejzpr/intercom-go-sdk/prefs"
	"github.com/tejzpr/intercom-go-sdk/productions"
	"github.com/tejzpr/intercom-go-sdk/status"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration
type Config struct {
	Backend     BackendConfig     `yaml:"backend"`
	Client      ClientConfig      `yaml:"client"`
	Status      StatusConfig      `yaml:"status"`
	Calls       CallsConfig       `yaml:"calls"`
	Productions ProductionsConfig `yaml:"productions"`
	Devices     []DeviceConfig    `yaml:"devices"`
	Server      ServerConfig      `yaml:"server"`
}

// BackendConfig locates the intercom backend. It is fixed for the lifetime
// of the process.
type BackendConfig struct {
	URL        string        `yaml:"url"`
	APIVersion string        `yaml:"api_version"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ClientConfig holds the identity of this client
type ClientConfig struct {
	Username      string        `yaml:"username"`
	PrefsPath     string        `yaml:"prefs_path"`
	Namespace     string        `yaml:"namespace"`
	RefreshBefore time.Duration `yaml:"refresh_before"`
}

// StatusConfig tunes the status channel
type StatusConfig struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// CallsConfig tunes call sessions
type CallsConfig struct {
	ICEServers          []string      `yaml:"ice_servers"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	AudioLevelThreshold float64       `yaml:"audio_level_threshold"`
	InitialVolume       float64       `yaml:"initial_volume"`
	DuckedVolume        float64       `yaml:"ducked_volume"`
	DuckRestoreDelay    time.Duration `yaml:"duck_restore_delay"`
}

// ProductionsConfig tunes the production list refresher
type ProductionsConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	PageSize        int           `yaml:"page_size"`
}

// DeviceConfig declares one audio device of the static platform
type DeviceConfig struct {
	ID    string `yaml:"id"`
	Kind  string `yaml:"kind"`
	Label string `yaml:"label"`
}

// ServerConfig configures the local control API
type ServerConfig struct {
	Listen      string   `yaml:"listen"`
	CORSOrigins []string `yaml:"cors_origins"`
	LogLevel    string   `yaml:"log_level"`
}

// Default returns the configuration used for every field a file leaves out
func Default() *Config {
	core := intercomsdk.DefaultConfig()
	st := status.DefaultConfig()
	calls := calling.DefaultConfig()
	prefsCfg := prefs.DefaultConfig()

	return &Config{
		Backend: BackendConfig{
			URL:        core.BaseURL,
			APIVersion: core.APIVersion,
			Timeout:    core.Timeout,
			MaxRetries: core.MaxRetries,
		},
		Client: ClientConfig{
			PrefsPath:     prefsCfg.Path,
			Namespace:     prefsCfg.Namespace,
			RefreshBefore: identity.DefaultConfig().RefreshBefore,
		},
		Status: StatusConfig{
			InitialBackoff: st.InitialBackoff,
			MaxBackoff:     st.MaxBackoff,
			PingInterval:   st.PingInterval,
		},
		Calls: CallsConfig{
			ICEServers:          calls.Media.ICEServers[0].URLs,
			ConnectTimeout:      calls.ConnectTimeout,
			HeartbeatInterval:   calls.HeartbeatInterval,
			AudioLevelThreshold: calls.AudioLevelThreshold,
			InitialVolume:       calls.InitialVolume,
			DuckedVolume:        calls.DuckedVolume,
			DuckRestoreDelay:    calls.DuckRestoreDelay,
		},
		Productions: ProductionsConfig{
			RefreshInterval: 10 * time.Second,
			PageSize:        productions.DefaultConfig().DefaultLimit,
		},
		Server: ServerConfig{
			Listen:   "127.0.0.1:8787",
			LogLevel: "info",
		},
	}
}

// Load reads and validates the YAML configuration file at path
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates the
// result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv loads envFiles (".env" when none are given) without overriding
// variables already set, then overlays every INTERCOM_* variable onto cfg.
// Missing env files are skipped.
func ApplyEnv(cfg *Config, envFiles ...string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %q: %w", file, err)
		}
	}

	var errs []error
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setList := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = splitList(v)
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	setString("INTERCOM_BACKEND_URL", &cfg.Backend.URL)
	setString("INTERCOM_API_VERSION", &cfg.Backend.APIVersion)
	setDuration("INTERCOM_BACKEND_TIMEOUT", &cfg.Backend.Timeout)
	setInt("INTERCOM_MAX_RETRIES", &cfg.Backend.MaxRetries)
	setString("INTERCOM_USERNAME", &cfg.Client.Username)
	setString("INTERCOM_PREFS_PATH", &cfg.Client.PrefsPath)
	setString("INTERCOM_NAMESPACE", &cfg.Client.Namespace)
	setList("INTERCOM_ICE_SERVERS", &cfg.Calls.ICEServers)
	setDuration("INTERCOM_CONNECT_TIMEOUT", &cfg.Calls.ConnectTimeout)
	setDuration("INTERCOM_HEARTBEAT_INTERVAL", &cfg.Calls.HeartbeatInterval)
	setDuration("INTERCOM_REFRESH_INTERVAL", &cfg.Productions.RefreshInterval)
	setString("INTERCOM_LISTEN", &cfg.Server.Listen)
	setList("INTERCOM_CORS_ORIGINS", &cfg.Server.CORSOrigins)
	setString("INTERCOM_LOG_LEVEL", &cfg.Server.LogLevel)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks cfg and returns every problem found, joined
func Validate(cfg *Config) error {
	var errs []error

	if u, err := url.Parse(cfg.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.url %q must be an absolute URL", cfg.Backend.URL))
	}
	if cfg.Backend.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("backend.timeout must be positive"))
	}
	if cfg.Backend.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("backend.max_retries must not be negative"))
	}
	if cfg.Status.InitialBackoff <= 0 || cfg.Status.MaxBackoff < cfg.Status.InitialBackoff {
		errs = append(errs, fmt.Errorf("status: backoff must satisfy 0 < initial_backoff <= max_backoff"))
	}
	if cfg.Calls.AudioLevelThreshold < 0 || cfg.Calls.AudioLevelThreshold > 1 {
		errs = append(errs, fmt.Errorf("calls.audio_level_threshold %.2f is out of range [0, 1]", cfg.Calls.AudioLevelThreshold))
	}
	if cfg.Calls.InitialVolume < 0 || cfg.Calls.InitialVolume > 1 {
		errs = append(errs, fmt.Errorf("calls.initial_volume %.2f is out of range [0, 1]", cfg.Calls.InitialVolume))
	}
	if cfg.Calls.DuckedVolume < 0 || cfg.Calls.DuckedVolume > 1 {
		errs = append(errs, fmt.Errorf("calls.ducked_volume %.2f is out of range [0, 1]", cfg.Calls.DuckedVolume))
	}
	if cfg.Productions.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("productions.page_size must be positive"))
	}

	seen := make(map[string]int, len(cfg.Devices))
	for i, d := range cfg.Devices {
		prefix := fmt.Sprintf("devices[%d]", i)
		if d.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		}
		kind := devices.Kind(d.Kind)
		if kind != devices.KindInput && kind != devices.KindOutput {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: %s, %s", prefix, d.Kind, devices.KindInput, devices.KindOutput))
		}
		key := d.Kind + "/" + d.ID
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of devices[%d]", prefix, d.ID, prev))
		}
		seen[key] = i
	}

	if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen %q: %w", cfg.Server.Listen, err))
	}
	if _, err := zerolog.ParseLevel(cfg.Server.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid", cfg.Server.LogLevel))
	}

	return errors.Join(errs...)
}

// LogLevel returns the configured zerolog level, info if unset
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Server.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Core returns the configuration of the REST core client
func (c *Config) Core(logger *zerolog.Logger) *intercomsdk.Config {
	core := intercomsdk.DefaultConfig()
	core.BaseURL = c.Backend.URL
	core.APIVersion = c.Backend.APIVersion
	core.Timeout = c.Backend.Timeout
	core.MaxRetries = c.Backend.MaxRetries
	core.Logger = logger
	return core
}

// Identity returns the configuration of the identity client
func (c *Config) Identity() *identity.Config {
	id := identity.DefaultConfig()
	id.RefreshBefore = c.Client.RefreshBefore
	return id
}

// Prefs returns the configuration of the preference store
func (c *Config) Prefs() *prefs.Config {
	return &prefs.Config{Path: c.Client.PrefsPath, Namespace: c.Client.Namespace}
}

// StatusChannel returns the configuration of the status channel
func (c *Config) StatusChannel() *status.Config {
	st := status.DefaultConfig()
	st.InitialBackoff = c.Status.InitialBackoff
	st.MaxBackoff = c.Status.MaxBackoff
	st.PingInterval = c.Status.PingInterval
	return st
}

// ProductionsClient returns the configuration of the productions client
func (c *Config) ProductionsClient() *productions.Config {
	return &productions.Config{DefaultLimit: c.Productions.PageSize}
}

// Calling returns the configuration of call sessions
func (c *Config) Calling() *calling.Config {
	calls := calling.DefaultConfig()
	calls.Media.ICEServers = nil
	if len(c.Calls.ICEServers) > 0 {
		calls.Media.ICEServers = []webrtc.ICEServer{{URLs: c.Calls.ICEServers}}
	}
	calls.ConnectTimeout = c.Calls.ConnectTimeout
	calls.HeartbeatInterval = c.Calls.HeartbeatInterval
	calls.AudioLevelThreshold = c.Calls.AudioLevelThreshold
	calls.InitialVolume = c.Calls.InitialVolume
	calls.DuckedVolume = c.Calls.DuckedVolume
	calls.DuckRestoreDelay = c.Calls.DuckRestoreDelay
	return calls
}

// Platform returns a static platform serving the configured devices
func (c *Config) Platform() *devices.StaticPlatform {
	devs := make([]devices.Device, 0, len(c.Devices))
	for _, d := range c.Devices {
		label := d.Label
		if label == "" {
			label = d.ID
		}
		devs = append(devs, devices.Device{DeviceID: d.ID, Kind: devices.Kind(d.Kind), Label: label})
	}
	return devices.NewStaticPlatform(devs...)
}
