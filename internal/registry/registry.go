// Package registry discovers executor plugin modules, checks them against
// the capability schema and hands out validated plugins by name.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/spf13/pflag"

	"snakeplane/internal/settings"
)

// CollectPolicy decides what Collect does with a module that fails validation.
type CollectPolicy int

const (
	// SkipInvalid logs the failure, records it and keeps collecting.
	SkipInvalid CollectPolicy = iota
	// FailFast aborts Collect on the first invalid module.
	FailFast
)

// Option configures a Registry.
type Option func(*Registry)

// WithCollectPolicy sets how Collect treats invalid modules.
func WithCollectPolicy(p CollectPolicy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Registry holds validated executor plugins keyed by their stripped name.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]*Plugin
	failures []error

	policy CollectPolicy
	logger *slog.Logger
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		plugins: make(map[string]*Plugin),
		policy:  SkipInvalid,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Collect enumerates modules from every source and registers those whose
// name carries the plugin prefix. Sources reporting ErrSourceUnavailable
// are skipped.
func (r *Registry) Collect(ctx context.Context, sources ...Source) error {
	for _, src := range sources {
		modules, err := src.Modules(ctx)
		if errors.Is(err, ErrSourceUnavailable) {
			r.logger.Debug("skipping unavailable plugin source", "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to enumerate plugin modules: %w", err)
		}

		for _, m := range modules {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !hasPrefix(m.Name) {
				continue
			}
			if err := r.Register(m.Name, m); err != nil {
				if r.policy == FailFast {
					return err
				}
				r.logger.Warn("skipping invalid executor plugin", "module", m.Name, "error", err)
				r.mu.Lock()
				r.failures = append(r.failures, err)
				r.mu.Unlock()
			}
		}
	}
	return nil
}

// Register validates a module and stores it under its stripped name.
// Registering an already known name is a no-op.
func (r *Registry) Register(name string, module Module) error {
	pluginName := PluginName(name)

	r.mu.RLock()
	_, known := r.plugins[pluginName]
	r.mu.RUnlock()
	if known {
		return nil
	}

	if err := r.Validate(name, module); err != nil {
		return err
	}
	plugin, err := newPlugin(pluginName, module)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.plugins[pluginName]; known {
		return nil
	}
	r.plugins[pluginName] = plugin
	r.logger.Debug("registered executor plugin", "plugin", pluginName)
	return nil
}

// Validate checks a module's attributes against ExpectedAttributes.
func (r *Registry) Validate(name string, module Module) error {
	pluginName := PluginName(name)
	expected := ExpectedAttributes()

	attrs := make([]string, 0, len(expected))
	for attr := range expected {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	for _, attr := range attrs {
		at := expected[attr]
		value, ok := module.Attributes[attr]
		if !ok {
			if at.Mode == Required {
				return &InvalidPluginError{Plugin: pluginName, Attribute: attr, Reason: "is missing"}
			}
			continue
		}
		if reason := at.check(value); reason != "" {
			return &InvalidPluginError{Plugin: pluginName, Attribute: attr, Reason: reason}
		}
	}
	return nil
}

func newPlugin(name string, module Module) (*Plugin, error) {
	factory, err := factoryFrom(module.Attributes[AttrExecutor])
	if err != nil {
		return nil, &InvalidPluginError{Plugin: name, Attribute: AttrExecutor, Reason: err.Error()}
	}
	common := module.Attributes[AttrCommonSettings].(*settings.CommonSettings)

	p := &Plugin{
		Name:    name,
		Factory: factory,
		Common:  *common,
	}
	if schema, ok := module.Attributes[AttrExecutorSettings].(*settings.Schema); ok {
		p.Schema = schema
	}
	return p, nil
}

// Get returns the plugin with the given name. Lookup ignores case, treats
// underscores and dashes alike and accepts the full module name.
func (r *Registry) Get(name string) (*Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[PluginName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	return p, nil
}

// Plugins returns all registered plugins sorted by name.
func (r *Registry) Plugins() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Failures returns the validation errors recorded by Collect under SkipInvalid.
func (r *Registry) Failures() []error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]error(nil), r.failures...)
}

// RegisterCLIArgs adds the settings flags of every plugin to flags.
func (r *Registry) RegisterCLIArgs(flags *pflag.FlagSet) error {
	for _, p := range r.Plugins() {
		if err := p.RegisterCLIArgs(flags); err != nil {
			return err
		}
	}
	return nil
}
