// Package config loads the host configuration from a YAML file and
// SNAKEPLANE_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"snakeplane/internal/host"
	"snakeplane/internal/settings"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// SNAKEPLANE_REMOTE_JOBNAME for remote.jobname.
const EnvPrefix = "SNAKEPLANE"

// Config holds all configuration values of a run.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Workdir   string          `mapstructure:"workdir"`
	Snakefile string          `mapstructure:"snakefile"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Storage   StorageConfig   `mapstructure:"storage"`
	// DeploymentMethods are software deployment choices (conda, apptainer, env-modules).
	DeploymentMethods []string       `mapstructure:"deployment_methods"`
	Resources         ResourceConfig `mapstructure:"resources"`
	LocalGroupID      string         `mapstructure:"local_groupid"`

	// DatabaseURL enables the submission ledger when set.
	DatabaseURL string          `mapstructure:"database_url"`
	Status      StatusConfig    `mapstructure:"status"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RemoteConfig configures the remote execution engine.
type RemoteConfig struct {
	JobName                    string        `mapstructure:"jobname"`
	JobScript                  string        `mapstructure:"jobscript"`
	ImmediateSubmit            bool          `mapstructure:"immediate_submit"`
	EnvVars                    []string      `mapstructure:"envvars"`
	MaxStatusChecksPerSecond   float64       `mapstructure:"max_status_checks_per_second"`
	SecondsBetweenStatusChecks time.Duration `mapstructure:"seconds_between_status_checks"`
	Interpreter                string        `mapstructure:"interpreter"`
	Precommand                 string        `mapstructure:"precommand"`
	SharedLocalGroupID         bool          `mapstructure:"shared_local_groupid"`
}

type ExecutionConfig struct {
	KeepIncomplete bool          `mapstructure:"keep_incomplete"`
	LatencyWait    time.Duration `mapstructure:"latency_wait"`
}

type StorageConfig struct {
	// SharedFSUsage lists shared filesystem usages; "none" disables all.
	SharedFSUsage []string `mapstructure:"shared_fs_usage"`
}

type ResourceConfig struct {
	Cores            int      `mapstructure:"cores"`
	Nodes            int      `mapstructure:"nodes"`
	DefaultResources []string `mapstructure:"default_resources"`
	// SetResources maps rule -> resource -> value.
	SetResources      map[string]map[string]string `mapstructure:"set_resources"`
	ExcludedResources []string                     `mapstructure:"excluded_resources"`
}

// StatusConfig configures the status API. An empty Addr disables it.
type StatusConfig struct {
	Addr      string   `mapstructure:"addr"`
	APIKeys   []string `mapstructure:"api_keys"`
	RateLimit float64  `mapstructure:"rate_limit"`
	RateBurst int      `mapstructure:"rate_burst"`
}

type TelemetryConfig struct {
	// OTLPEndpoint enables trace export when set.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("workdir", ".")
	v.SetDefault("snakefile", "Snakefile")

	v.SetDefault("remote.jobname", "snakejob.{name}.{jobid}.sh")
	v.SetDefault("remote.jobscript", "")
	v.SetDefault("remote.immediate_submit", false)
	v.SetDefault("remote.envvars", []string{})
	v.SetDefault("remote.max_status_checks_per_second", 10.0)
	v.SetDefault("remote.seconds_between_status_checks", 10*time.Second)
	v.SetDefault("remote.interpreter", "python")
	v.SetDefault("remote.precommand", "")
	v.SetDefault("remote.shared_local_groupid", false)

	v.SetDefault("execution.keep_incomplete", false)
	v.SetDefault("execution.latency_wait", 5*time.Second)

	var usages []string
	for _, u := range settings.AllSharedFSUsages() {
		usages = append(usages, u.ItemToChoice())
	}
	v.SetDefault("storage.shared_fs_usage", usages)
	v.SetDefault("deployment_methods", []string{})

	v.SetDefault("resources.cores", 0)
	v.SetDefault("resources.nodes", 0)
	v.SetDefault("resources.default_resources", []string{})
	v.SetDefault("resources.set_resources", map[string]map[string]string{})
	v.SetDefault("resources.excluded_resources", []string{})
	v.SetDefault("local_groupid", "")

	v.SetDefault("database_url", "")
	v.SetDefault("status.addr", "")
	v.SetDefault("status.api_keys", []string{})
	v.SetDefault("status.rate_limit", 20.0)
	v.SetDefault("status.rate_burst", 40)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "snakeplane")
}

// New returns a viper instance with defaults and environment bindings.
// Nested keys map to SNAKEPLANE_<SECTION>_<KEY>.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Conventional names without prefix.
	_ = v.BindEnv("database_url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("telemetry.otlp_endpoint", EnvPrefix+"_TELEMETRY_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	return v
}

// Load reads the config file at path (if any), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// Env values for list keys arrive as one space separated string.
	cfg.Remote.EnvVars = splitList(cfg.Remote.EnvVars)
	cfg.Storage.SharedFSUsage = splitList(cfg.Storage.SharedFSUsage)
	cfg.DeploymentMethods = splitList(cfg.DeploymentMethods)
	cfg.Status.APIKeys = splitList(cfg.Status.APIKeys)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		out = append(out, strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' })...)
	}
	return out
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	var errs []error
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log.format %q (want text or json)", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log.level %q", c.Log.Level))
	}
	if !strings.Contains(c.Remote.JobName, "{jobid}") {
		errs = append(errs, fmt.Errorf("remote.jobname %q must contain {jobid}", c.Remote.JobName))
	}
	if c.Remote.SecondsBetweenStatusChecks <= 0 {
		errs = append(errs, errors.New("remote.seconds_between_status_checks must be positive"))
	}
	if c.Remote.MaxStatusChecksPerSecond <= 0 {
		errs = append(errs, errors.New("remote.max_status_checks_per_second must be positive"))
	}
	if _, err := settings.ParseSharedFSUsage(c.Storage.SharedFSUsage); err != nil {
		errs = append(errs, err)
	}
	if _, err := settings.ParseDeploymentMethods(c.DeploymentMethods); err != nil {
		errs = append(errs, err)
	}
	if c.Status.Addr != "" && c.Status.RateLimit <= 0 {
		errs = append(errs, errors.New("status.rate_limit must be positive"))
	}
	return errors.Join(errs...)
}

// HostConfig converts the configuration into the settings of a host.
func (c *Config) HostConfig() (host.Config, error) {
	usage, err := settings.ParseSharedFSUsage(c.Storage.SharedFSUsage)
	if err != nil {
		return host.Config{}, err
	}
	methods, err := settings.ParseDeploymentMethods(c.DeploymentMethods)
	if err != nil {
		return host.Config{}, err
	}

	return host.Config{
		Snakefile:  c.Snakefile,
		Workdir:    c.Workdir,
		Precommand: c.Remote.Precommand,
		Remote: settings.RemoteExecution{
			JobName:                    c.Remote.JobName,
			JobScript:                  c.Remote.JobScript,
			ImmediateSubmit:            c.Remote.ImmediateSubmit,
			EnvVars:                    c.Remote.EnvVars,
			MaxStatusChecksPerSecond:   c.Remote.MaxStatusChecksPerSecond,
			SecondsBetweenStatusChecks: c.Remote.SecondsBetweenStatusChecks,
		},
		Execution: settings.Execution{
			KeepIncomplete: c.Execution.KeepIncomplete,
			LatencyWait:    c.Execution.LatencyWait,
		},
		Storage:    settings.Storage{SharedFSUsage: usage},
		Deployment: settings.Deployment{Methods: methods},
		Resources: settings.Resources{
			Cores:              c.Resources.Cores,
			Nodes:              c.Resources.Nodes,
			DefaultResources:   c.Resources.DefaultResources,
			OverwriteResources: c.Resources.SetResources,
			ExcludedResources:  c.Resources.ExcludedResources,
		},
		Group: settings.Group{LocalGroupID: c.LocalGroupID},
	}, nil
}
