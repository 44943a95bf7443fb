// Package config implements Ratchet's layered configuration (ambient
// stack, spec §2.3), generalized from internal/config/loader.go's
// defaults-then-file-then-env-then-overrides pattern and its
// per-field value-source tracking, narrowed to Ratchet's own field set:
// worker pool sizing, IPC/coordinator deadlines, registry source
// locations, and MCP/metrics/tracing endpoints.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValueSource describes where a configuration value was last set from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Config is Ratchet's full runtime configuration, spec §2.3.
type Config struct {
	WorkerCount          int           `yaml:"worker_count"`
	WorkerCommand        string        `yaml:"worker_command"`
	WorkerMaxInflight    int           `yaml:"worker_max_inflight"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	RestartBackoffMax    time.Duration `yaml:"restart_backoff_max"`
	StartupTimeout       time.Duration `yaml:"startup_timeout"`
	StartupRetries       int           `yaml:"startup_retries"`
	WorkerAcquireTimeout time.Duration `yaml:"worker_acquire_timeout"`

	DefaultTaskTimeout time.Duration `yaml:"default_task_timeout"`
	GlobalMaxTimeout   time.Duration `yaml:"global_max_timeout"`
	MaxMessageSize     uint32        `yaml:"max_message_size"`

	RegistryFilesystemRoot string `yaml:"registry_filesystem_root"`
	RegistryGitURL         string `yaml:"registry_git_url"`
	RegistryGitBranch      string `yaml:"registry_git_branch"`
	RegistryHTTPBaseURL    string `yaml:"registry_http_base_url"`

	MCPTransport string `yaml:"mcp_transport"` // "stdio" or "sse"
	MCPListen    string `yaml:"mcp_listen"`    // host:port, for sse

	RESTListen      string `yaml:"rest_listen"`
	RESTBearerToken string `yaml:"rest_bearer_token"`

	MetricsListen string `yaml:"metrics_listen"`
	TracingFile   string `yaml:"tracing_file"`
	TracingEnabled bool  `yaml:"tracing_enabled"`

	HARRecordingDir string `yaml:"har_recording_dir"`

	Environment string `yaml:"environment"`
	LogDir      string `yaml:"log_dir"`
	Verbose     bool   `yaml:"verbose"`
}

// Metadata carries per-field provenance, mirroring the teacher's
// Metadata type.
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Source returns the origin of field, or SourceDefault if untouched.
func (m Metadata) Source(field string) ValueSource {
	if m.sources == nil {
		return SourceDefault
	}
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// LoadedAt returns when this configuration was constructed.
func (m Metadata) LoadedAt() time.Time { return m.loadedAt }

// Overrides carries CLI-flag-sourced values, applied last and winning
// over file and environment.
type Overrides struct {
	WorkerCount  *int
	MCPTransport *string
	RESTListen   *string
	Environment  *string
	Verbose      *bool
	ConfigPath   *string
}

// EnvLookup resolves an environment variable, for test injection.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) { return os.LookupEnv(key) }

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	overrides  Overrides
	configPath string
}

// WithEnv supplies a custom environment lookup, used by tests.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader injects a custom file reader, used by tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = reader }
}

// WithConfigPath forces Load to read from a specific YAML file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithOverrides applies CLI-flag values, highest precedence.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) { o.overrides = overrides }
}

func defaults() Config {
	return Config{
		WorkerCount:          4,
		WorkerCommand:        "ratchet",
		WorkerMaxInflight:    1,
		HeartbeatInterval:    10 * time.Second,
		RestartBackoffMax:    30 * time.Second,
		StartupTimeout:       5 * time.Second,
		StartupRetries:       3,
		WorkerAcquireTimeout: 5 * time.Second,
		DefaultTaskTimeout:   300 * time.Second,
		GlobalMaxTimeout:     15 * time.Minute,
		MaxMessageSize:       1 << 20,
		MCPTransport:         "stdio",
		RESTListen:           "127.0.0.1:8080",
		MetricsListen:        "127.0.0.1:9090",
		HARRecordingDir:      "",
		Environment:          "development",
		LogDir:               "./logs",
	}
}

// Load builds the runtime Config by merging defaults, an optional YAML
// file, environment variables, and CLI overrides, in that precedence
// order (later layers win).
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{envLookup: DefaultEnvLookup, readFile: os.ReadFile}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := defaults()
	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}

	if err := applyFile(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}
	if err := applyEnv(&cfg, &meta, options.envLookup); err != nil {
		return Config{}, Metadata{}, err
	}
	applyOverrides(&cfg, &meta, options.overrides)

	return cfg, meta, nil
}

func applyFile(cfg *Config, meta *Metadata, opts loadOptions) error {
	path := strings.TrimSpace(opts.configPath)
	if path == "" {
		return nil
	}
	data, err := opts.readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	for field, apply := range fileSetters(&file) {
		if apply(cfg) {
			meta.sources[field] = SourceFile
		}
	}
	return nil
}

// fileSetters returns, per field, a function that copies a non-zero
// parsed value into cfg and reports whether it did so. Kept as a map
// so applyFile and its provenance bookkeeping stay in lockstep.
func fileSetters(file *Config) map[string]func(*Config) bool {
	return map[string]func(*Config) bool{
		"worker_count":             setIfNonZeroInt(file.WorkerCount, func(c *Config, v int) { c.WorkerCount = v }),
		"worker_command":           setIfNonEmptyStr(file.WorkerCommand, func(c *Config, v string) { c.WorkerCommand = v }),
		"worker_max_inflight":      setIfNonZeroInt(file.WorkerMaxInflight, func(c *Config, v int) { c.WorkerMaxInflight = v }),
		"heartbeat_interval":       setIfNonZeroDuration(file.HeartbeatInterval, func(c *Config, v time.Duration) { c.HeartbeatInterval = v }),
		"restart_backoff_max":      setIfNonZeroDuration(file.RestartBackoffMax, func(c *Config, v time.Duration) { c.RestartBackoffMax = v }),
		"startup_timeout":          setIfNonZeroDuration(file.StartupTimeout, func(c *Config, v time.Duration) { c.StartupTimeout = v }),
		"startup_retries":          setIfNonZeroInt(file.StartupRetries, func(c *Config, v int) { c.StartupRetries = v }),
		"worker_acquire_timeout":   setIfNonZeroDuration(file.WorkerAcquireTimeout, func(c *Config, v time.Duration) { c.WorkerAcquireTimeout = v }),
		"default_task_timeout":     setIfNonZeroDuration(file.DefaultTaskTimeout, func(c *Config, v time.Duration) { c.DefaultTaskTimeout = v }),
		"global_max_timeout":       setIfNonZeroDuration(file.GlobalMaxTimeout, func(c *Config, v time.Duration) { c.GlobalMaxTimeout = v }),
		"max_message_size":         setIfNonZeroUint32(file.MaxMessageSize, func(c *Config, v uint32) { c.MaxMessageSize = v }),
		"registry_filesystem_root": setIfNonEmptyStr(file.RegistryFilesystemRoot, func(c *Config, v string) { c.RegistryFilesystemRoot = v }),
		"registry_git_url":         setIfNonEmptyStr(file.RegistryGitURL, func(c *Config, v string) { c.RegistryGitURL = v }),
		"registry_git_branch":      setIfNonEmptyStr(file.RegistryGitBranch, func(c *Config, v string) { c.RegistryGitBranch = v }),
		"registry_http_base_url":   setIfNonEmptyStr(file.RegistryHTTPBaseURL, func(c *Config, v string) { c.RegistryHTTPBaseURL = v }),
		"mcp_transport":            setIfNonEmptyStr(file.MCPTransport, func(c *Config, v string) { c.MCPTransport = v }),
		"mcp_listen":               setIfNonEmptyStr(file.MCPListen, func(c *Config, v string) { c.MCPListen = v }),
		"rest_listen":              setIfNonEmptyStr(file.RESTListen, func(c *Config, v string) { c.RESTListen = v }),
		"rest_bearer_token":        setIfNonEmptyStr(file.RESTBearerToken, func(c *Config, v string) { c.RESTBearerToken = v }),
		"metrics_listen":           setIfNonEmptyStr(file.MetricsListen, func(c *Config, v string) { c.MetricsListen = v }),
		"tracing_file":             setIfNonEmptyStr(file.TracingFile, func(c *Config, v string) { c.TracingFile = v }),
		"tracing_enabled":          setBool(file.TracingEnabled, func(c *Config, v bool) { c.TracingEnabled = v }),
		"har_recording_dir":        setIfNonEmptyStr(file.HARRecordingDir, func(c *Config, v string) { c.HARRecordingDir = v }),
		"environment":              setIfNonEmptyStr(file.Environment, func(c *Config, v string) { c.Environment = v }),
		"log_dir":                  setIfNonEmptyStr(file.LogDir, func(c *Config, v string) { c.LogDir = v }),
		"verbose":                  setBool(file.Verbose, func(c *Config, v bool) { c.Verbose = v }),
	}
}

func setIfNonZeroInt(v int, set func(*Config, int)) func(*Config) bool {
	return func(c *Config) bool {
		if v == 0 {
			return false
		}
		set(c, v)
		return true
	}
}

func setIfNonZeroUint32(v uint32, set func(*Config, uint32)) func(*Config) bool {
	return func(c *Config) bool {
		if v == 0 {
			return false
		}
		set(c, v)
		return true
	}
}

func setIfNonZeroDuration(v time.Duration, set func(*Config, time.Duration)) func(*Config) bool {
	return func(c *Config) bool {
		if v == 0 {
			return false
		}
		set(c, v)
		return true
	}
}

func setIfNonEmptyStr(v string, set func(*Config, string)) func(*Config) bool {
	return func(c *Config) bool {
		if v == "" {
			return false
		}
		set(c, v)
		return true
	}
}

// setBool always applies: a YAML `false` is indistinguishable from an
// absent key with Config's plain-bool fields, so file-level booleans
// are only meaningful when the field is actually present in the
// document; callers who need strict tri-state tracking should promote
// these to *bool, which Ratchet's config surface does not currently
// need.
func setBool(v bool, set func(*Config, bool)) func(*Config) bool {
	return func(c *Config) bool {
		set(c, v)
		return v
	}
}

func applyEnv(cfg *Config, meta *Metadata, lookup EnvLookup) error {
	if lookup == nil {
		lookup = DefaultEnvLookup
	}
	str := func(key, field string, set func(string)) error {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			set(strings.TrimSpace(v))
			meta.sources[field] = SourceEnv
		}
		return nil
	}
	intv := func(key, field string, set func(int)) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		set(n)
		meta.sources[field] = SourceEnv
		return nil
	}
	durv := func(key, field string, set func(time.Duration)) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		set(d)
		meta.sources[field] = SourceEnv
		return nil
	}
	boolv := func(key, field string, set func(bool)) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		set(b)
		meta.sources[field] = SourceEnv
		return nil
	}

	for _, err := range []error{
		intv("RATCHET_WORKER_COUNT", "worker_count", func(v int) { cfg.WorkerCount = v }),
		str("RATCHET_WORKER_COMMAND", "worker_command", func(v string) { cfg.WorkerCommand = v }),
		intv("RATCHET_WORKER_MAX_INFLIGHT", "worker_max_inflight", func(v int) { cfg.WorkerMaxInflight = v }),
		durv("RATCHET_HEARTBEAT_INTERVAL", "heartbeat_interval", func(v time.Duration) { cfg.HeartbeatInterval = v }),
		durv("RATCHET_RESTART_BACKOFF_MAX", "restart_backoff_max", func(v time.Duration) { cfg.RestartBackoffMax = v }),
		durv("RATCHET_STARTUP_TIMEOUT", "startup_timeout", func(v time.Duration) { cfg.StartupTimeout = v }),
		durv("RATCHET_WORKER_ACQUIRE_TIMEOUT", "worker_acquire_timeout", func(v time.Duration) { cfg.WorkerAcquireTimeout = v }),
		durv("RATCHET_DEFAULT_TASK_TIMEOUT", "default_task_timeout", func(v time.Duration) { cfg.DefaultTaskTimeout = v }),
		durv("RATCHET_GLOBAL_MAX_TIMEOUT", "global_max_timeout", func(v time.Duration) { cfg.GlobalMaxTimeout = v }),
		str("RATCHET_REGISTRY_FILESYSTEM_ROOT", "registry_filesystem_root", func(v string) { cfg.RegistryFilesystemRoot = v }),
		str("RATCHET_REGISTRY_GIT_URL", "registry_git_url", func(v string) { cfg.RegistryGitURL = v }),
		str("RATCHET_REGISTRY_GIT_BRANCH", "registry_git_branch", func(v string) { cfg.RegistryGitBranch = v }),
		str("RATCHET_REGISTRY_HTTP_BASE_URL", "registry_http_base_url", func(v string) { cfg.RegistryHTTPBaseURL = v }),
		str("RATCHET_MCP_TRANSPORT", "mcp_transport", func(v string) { cfg.MCPTransport = v }),
		str("RATCHET_MCP_LISTEN", "mcp_listen", func(v string) { cfg.MCPListen = v }),
		str("RATCHET_REST_LISTEN", "rest_listen", func(v string) { cfg.RESTListen = v }),
		str("RATCHET_REST_BEARER_TOKEN", "rest_bearer_token", func(v string) { cfg.RESTBearerToken = v }),
		str("RATCHET_METRICS_LISTEN", "metrics_listen", func(v string) { cfg.MetricsListen = v }),
		str("RATCHET_TRACING_FILE", "tracing_file", func(v string) { cfg.TracingFile = v }),
		boolv("RATCHET_TRACING_ENABLED", "tracing_enabled", func(v bool) { cfg.TracingEnabled = v }),
		str("RATCHET_HAR_RECORDING_DIR", "har_recording_dir", func(v string) { cfg.HARRecordingDir = v }),
		str("RATCHET_ENVIRONMENT", "environment", func(v string) { cfg.Environment = v }),
		str("RATCHET_LOG_DIR", "log_dir", func(v string) { cfg.LogDir = v }),
		boolv("RATCHET_VERBOSE", "verbose", func(v bool) { cfg.Verbose = v }),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func applyOverrides(cfg *Config, meta *Metadata, overrides Overrides) {
	if overrides.WorkerCount != nil {
		cfg.WorkerCount = *overrides.WorkerCount
		meta.sources["worker_count"] = SourceOverride
	}
	if overrides.MCPTransport != nil {
		cfg.MCPTransport = *overrides.MCPTransport
		meta.sources["mcp_transport"] = SourceOverride
	}
	if overrides.RESTListen != nil {
		cfg.RESTListen = *overrides.RESTListen
		meta.sources["rest_listen"] = SourceOverride
	}
	if overrides.Environment != nil {
		cfg.Environment = *overrides.Environment
		meta.sources["environment"] = SourceOverride
	}
	if overrides.Verbose != nil {
		cfg.Verbose = *overrides.Verbose
		meta.sources["verbose"] = SourceOverride
	}
}
