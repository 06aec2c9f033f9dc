package settings

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ExecMode tells a spawned process how it was started.
type ExecMode int

const (
	ExecModeDefault ExecMode = iota
	ExecModeSubprocess
	ExecModeRemote
)

// ItemToChoice renders the mode as its command-line choice.
func (m ExecMode) ItemToChoice() string {
	switch m {
	case ExecModeSubprocess:
		return "subprocess"
	case ExecModeRemote:
		return "remote"
	default:
		return "default"
	}
}

// SharedFSUsage lists what the host expects to live on a shared filesystem.
type SharedFSUsage int

const (
	SharedFSPersistence SharedFSUsage = iota
	SharedFSInputOutput
	SharedFSSoftwareDeployment
	SharedFSSources
	SharedFSStorageLocalCopies
	SharedFSSourceCache
)

var sharedFSChoices = map[SharedFSUsage]string{
	SharedFSPersistence:        "persistence",
	SharedFSInputOutput:        "input-output",
	SharedFSSoftwareDeployment: "software-deployment",
	SharedFSSources:            "sources",
	SharedFSStorageLocalCopies: "storage-local-copies",
	SharedFSSourceCache:        "source-cache",
}

func (u SharedFSUsage) ItemToChoice() string {
	return sharedFSChoices[u]
}

// AllSharedFSUsages is the default: everything is shared.
func AllSharedFSUsages() []SharedFSUsage {
	return []SharedFSUsage{
		SharedFSPersistence, SharedFSInputOutput, SharedFSSoftwareDeployment,
		SharedFSSources, SharedFSStorageLocalCopies, SharedFSSourceCache,
	}
}

// ParseSharedFSUsage maps choice strings back to usages. "none" yields an
// empty list.
func ParseSharedFSUsage(choices []string) ([]SharedFSUsage, error) {
	var out []SharedFSUsage
	for _, c := range choices {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "none" {
			return nil, nil
		}
		found := false
		for u, name := range sharedFSChoices {
			if name == c {
				out = append(out, u)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown shared filesystem usage %q", c)
		}
	}
	slices.Sort(out)
	return out, nil
}

// DeploymentMethod is a software deployment mechanism.
type DeploymentMethod int

const (
	DeploymentConda DeploymentMethod = iota
	DeploymentApptainer
	DeploymentEnvModules
)

func (d DeploymentMethod) ItemToChoice() string {
	switch d {
	case DeploymentConda:
		return "conda"
	case DeploymentApptainer:
		return "apptainer"
	case DeploymentEnvModules:
		return "env-modules"
	}
	return ""
}

// ParseDeploymentMethods maps choice strings to deployment methods.
func ParseDeploymentMethods(choices []string) ([]DeploymentMethod, error) {
	var out []DeploymentMethod
	for _, c := range choices {
		c = strings.ToLower(strings.TrimSpace(c))
		found := false
		for _, m := range []DeploymentMethod{DeploymentConda, DeploymentApptainer, DeploymentEnvModules} {
			if m.ItemToChoice() == c {
				if !slices.Contains(out, m) {
					out = append(out, m)
				}
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown deployment method %q", c)
		}
	}
	return out, nil
}

// RemoteExecution configures the remote execution engine.
type RemoteExecution struct {
	// JobName is the jobscript file name pattern; must contain {jobid}.
	JobName string
	// JobScript is a custom jobscript template path; empty uses the builtin.
	JobScript       string
	ImmediateSubmit bool
	// EnvVars are passed to spawned jobs by name.
	EnvVars                    []string
	MaxStatusChecksPerSecond   float64
	SecondsBetweenStatusChecks time.Duration
}

// Execution holds host execution behaviour relevant to executors.
type Execution struct {
	KeepIncomplete bool
	LatencyWait    time.Duration
}

// Storage describes the shared filesystem assumptions.
type Storage struct {
	SharedFSUsage []SharedFSUsage
}

// Uses reports whether the given usage is on the shared filesystem.
func (s Storage) Uses(u SharedFSUsage) bool {
	return slices.Contains(s.SharedFSUsage, u)
}

// AssumeSharedFS is true when persistence lives on a shared filesystem.
func (s Storage) AssumeSharedFS() bool {
	return s.Uses(SharedFSPersistence)
}

type Deployment struct {
	Methods []DeploymentMethod
}

// Resources are the host resource settings.
type Resources struct {
	// Cores is the core limit; zero means unconstrained.
	Cores int
	Nodes int
	// DefaultResources are `name=expression` defaults passed to spawned jobs.
	DefaultResources []string
	// OverwriteResources maps rule -> resource -> value.
	OverwriteResources map[string]map[string]string
	// ExcludedResources are scopes never declared on spawned jobs.
	ExcludedResources []string
}

type Group struct {
	LocalGroupID string
}
