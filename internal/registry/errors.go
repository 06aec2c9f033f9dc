package registry

import (
	"errors"
	"fmt"
)

// ErrPluginNotFound is returned by Get for unknown plugin names.
var ErrPluginNotFound = errors.New("executor plugin not found")

// ErrSourceUnavailable is returned by a Source that cannot provide modules
// in the current process, e.g. host builtins in an isolated test binary.
// Collect skips such sources.
var ErrSourceUnavailable = errors.New("plugin source unavailable")

// InvalidPluginError reports a module that does not satisfy the capability schema.
type InvalidPluginError struct {
	Plugin string
	// Attribute is the offending attribute, empty for schema-level problems.
	Attribute string
	Reason    string
}

func (e *InvalidPluginError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("invalid executor plugin %s: %s", e.Plugin, e.Reason)
	}
	return fmt.Sprintf("invalid executor plugin %s: attribute %s %s", e.Plugin, e.Attribute, e.Reason)
}

// MissingSettingError reports a required plugin setting the user did not supply.
type MissingSettingError struct {
	Plugin string
	// Flag is the user-facing flag, e.g. --cluster-generic-submit-cmd.
	Flag   string
	EnvVar string
}

func (e *MissingSettingError) Error() string {
	msg := fmt.Sprintf("executor plugin %s requires setting %s", e.Plugin, e.Flag)
	if e.EnvVar != "" {
		msg += fmt.Sprintf(" (or environment variable %s)", e.EnvVar)
	}
	return msg
}
