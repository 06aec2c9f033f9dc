package registry

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"snakeplane/internal/executor"
	"snakeplane/internal/settings"
)

// Flag annotation keys set by RegisterCLIArgs.
const (
	AnnotationGroup = "group"
	AnnotationEnv   = "env"
)

// Plugin is a validated executor plugin.
type Plugin struct {
	// Name is the module name without the plugin prefix, e.g. "cluster-generic".
	Name    string
	Factory executor.Factory
	Common  settings.CommonSettings
	// Schema is nil for plugins without executor settings.
	Schema *settings.Schema
}

// FlagName returns the dashed flag name of a settings field, without the
// leading "--".
func (p *Plugin) FlagName(field string) string {
	return strings.ReplaceAll(p.Name+"_"+settings.CanonicalName(field), "_", "-")
}

// EnvVar returns the environment variable consulted for a settings field.
func (p *Plugin) EnvVar(field string) string {
	name := "SNAKEMAKE_" + p.Name + "_" + settings.CanonicalName(field)
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// GroupTitle is the help group the plugin's flags are annotated with.
func (p *Plugin) GroupTitle() string {
	return p.Name + " executor settings"
}

// RegisterCLIArgs adds one flag per settings field.
func (p *Plugin) RegisterCLIArgs(flags *pflag.FlagSet) error {
	if p.Schema == nil {
		return nil
	}
	if err := p.Schema.Validate(); err != nil {
		return &InvalidPluginError{Plugin: p.Name, Reason: fmt.Sprintf("invalid settings schema: %v", err)}
	}

	for _, f := range p.Schema.Fields {
		name := p.FlagName(f.Name)
		if flags.Lookup(name) != nil {
			return fmt.Errorf("flag --%s of executor plugin %s is already defined", name, p.Name)
		}
		usage := p.usage(f)

		switch f.Type {
		case settings.String:
			def, _ := f.Default.(string)
			flags.String(name, def, usage)
		case settings.Int:
			def, _ := f.Default.(int)
			flags.Int(name, def, usage)
		case settings.Float:
			def, _ := f.Default.(float64)
			flags.Float64(name, def, usage)
		case settings.Bool:
			def, _ := f.Default.(bool)
			flags.Bool(name, def, usage)
		case settings.StringSlice:
			def, _ := f.Default.([]string)
			flags.StringSlice(name, def, usage)
		}

		_ = flags.SetAnnotation(name, AnnotationGroup, []string{p.GroupTitle()})
		if f.EnvVar {
			_ = flags.SetAnnotation(name, AnnotationEnv, []string{p.EnvVar(f.Name)})
		}
	}
	return nil
}

func (p *Plugin) usage(f settings.Field) string {
	var b strings.Builder
	b.WriteString(f.Help)
	if len(f.Choices) > 0 {
		fmt.Fprintf(&b, " (choices: %s)", strings.Join(f.Choices, ", "))
	}
	if f.EnvVar {
		fmt.Fprintf(&b, " [env: %s]", p.EnvVar(f.Name))
	}
	if f.Required {
		b.WriteString(" (required)")
	}
	return b.String()
}

// ExecutorSettings builds the plugin's settings record from parsed flags,
// falling back to the environment for fields that allow it.
func (p *Plugin) ExecutorSettings(flags *pflag.FlagSet) (*settings.Record, error) {
	if p.Schema == nil {
		return settings.Empty(), nil
	}

	v := viper.New()
	supplied := make(map[string]any)
	for _, f := range p.Schema.Fields {
		key := f.Key()
		if flag := flags.Lookup(p.FlagName(f.Name)); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", flag.Name, err)
			}
		}
		if f.EnvVar {
			if err := v.BindEnv(key, p.EnvVar(f.Name)); err != nil {
				return nil, fmt.Errorf("failed to bind environment variable %s: %w", p.EnvVar(f.Name), err)
			}
		}

		if !v.IsSet(key) {
			if f.Required {
				err := &MissingSettingError{Plugin: p.Name, Flag: "--" + p.FlagName(f.Name)}
				if f.EnvVar {
					err.EnvVar = p.EnvVar(f.Name)
				}
				return nil, err
			}
			continue
		}
		supplied[key] = v.Get(key)
	}

	record, err := settings.NewRecord(p.Schema, supplied)
	if err != nil {
		return nil, fmt.Errorf("executor plugin %s: %w", p.Name, err)
	}
	return record, nil
}

// NewExecutor instantiates the plugin backend and starts a remote
// execution engine around it.
func (p *Plugin) NewExecutor(host executor.Host, record *settings.Record, config executor.RemoteConfig) (*executor.Remote, error) {
	if record == nil {
		record = settings.Empty()
	}
	backend, err := p.Factory(host, record)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor %s: %w", p.Name, err)
	}
	config.Plugin = p.Name
	config.Common = p.Common
	return executor.NewRemote(host, backend, config)
}
