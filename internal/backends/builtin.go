// Package backends bundles the executor plugins shipped with snakeplane.
package backends

import (
	"context"

	"snakeplane/internal/backends/clustergeneric"
	"snakeplane/internal/backends/docker"
	"snakeplane/internal/backends/dryrun"
	"snakeplane/internal/backends/kubernetes"
	"snakeplane/internal/registry"
)

// Builtin is the source of the built-in plugin modules.
func Builtin() registry.Source {
	return registry.SourceFunc(func(ctx context.Context) ([]registry.Module, error) {
		return []registry.Module{
			clustergeneric.Module(),
			docker.Module(),
			dryrun.Module(),
			kubernetes.Module(),
		}, nil
	})
}
