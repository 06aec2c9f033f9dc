package settings

import "time"

// CommonSettings are the backend-wide behaviour flags every plugin declares.
// One value per plugin, read-only once the plugin is loaded.
type CommonSettings struct {
	// NonLocalExec is true when jobs run somewhere other than this machine.
	NonLocalExec bool
	// ImpliesNoSharedFS is true when the backend cannot see the host's filesystem.
	ImpliesNoSharedFS bool
	DryrunExec        bool
	TouchExec         bool
	UseThreads        bool
	// PassEnvvarDeclarationsToCmd prepends `export VAR=value &&` to the job command.
	PassEnvvarDeclarationsToCmd bool
	AutoDeploySoftware          bool
	// InitSecondsBeforeStatusChecks delays the first status check round.
	InitSecondsBeforeStatusChecks time.Duration
	PassDefaultStorageProviderArgs bool
	PassDefaultResourcesArgs       bool
	PassGroupArgs                  bool
	// SpawnedJobsAssumeSharedFS overrides the shared filesystem assumption
	// for jobs spawned by the backend. Nil keeps the host setting.
	SpawnedJobsAssumeSharedFS *bool
}

// LocalExec is the negation of NonLocalExec.
func (c CommonSettings) LocalExec() bool {
	return !c.NonLocalExec
}
