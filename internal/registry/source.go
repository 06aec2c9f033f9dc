package registry

import (
	"context"
	"strings"
)

// Prefix every executor plugin module name starts with. The underscore
// form is accepted as well.
const Prefix = "snakemake-executor-plugin-"

// Module is a named bag of attributes, the unit a Source hands to the registry.
type Module struct {
	Name       string
	Attributes map[string]any
}

// Source enumerates candidate plugin modules.
type Source interface {
	Modules(ctx context.Context) ([]Module, error)
}

// StaticSource is a fixed list of modules.
type StaticSource []Module

func (s StaticSource) Modules(ctx context.Context) ([]Module, error) {
	return s, nil
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(ctx context.Context) ([]Module, error)

func (f SourceFunc) Modules(ctx context.Context) ([]Module, error) {
	return f(ctx)
}

// hasPrefix reports whether a module name carries the plugin prefix.
func hasPrefix(name string) bool {
	n := strings.ReplaceAll(strings.ToLower(name), "_", "-")
	return strings.HasPrefix(n, Prefix) && len(n) > len(Prefix)
}

// PluginName strips the plugin prefix and normalises a module or plugin
// name to its lower-case dashed form.
func PluginName(name string) string {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	return strings.TrimPrefix(n, Prefix)
}
