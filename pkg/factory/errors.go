package factory

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jazware/essencefs/pkg/sga"
)

// ErrPluginNotFound is returned by a Resolver that has no handler for the
// requested name. Any other resolver error is treated as a load failure.
var ErrPluginNotFound = errors.New("factory: plugin not found")

// VersionNotSupportedError is returned when no handler is registered or
// resolvable for a version.
type VersionNotSupportedError struct {
	Version sga.Version
	Known   []sga.Version
}

func (e *VersionNotSupportedError) Error() string {
	known := make([]string, len(e.Known))
	for i, v := range e.Known {
		known[i] = v.String()
	}
	return fmt.Sprintf("factory: version %s not supported (registered: %s)", e.Version, strings.Join(known, ", "))
}

func (e *VersionNotSupportedError) Is(target error) bool { return target == sga.ErrVersion }

// PluginLoadError wraps a resolver failure other than ErrPluginNotFound.
type PluginLoadError struct {
	Name string
	Err  error
}

func (e *PluginLoadError) Error() string {
	return fmt.Sprintf("factory: loading plugin %q: %v", e.Name, e.Err)
}

func (e *PluginLoadError) Unwrap() error { return e.Err }

// MissingVersionError is returned by Write when the filesystem carries no
// usable version in its meta.
type MissingVersionError struct {
	Value any
}

func (e *MissingVersionError) Error() string {
	if e.Value == nil {
		return "factory: filesystem meta has no version"
	}
	return fmt.Sprintf("factory: filesystem meta version %v (%T) is not an sga.Version", e.Value, e.Value)
}

func (e *MissingVersionError) Is(target error) bool { return target == sga.ErrVersion }

func sortedVersions(m map[sga.Version]Handler) []sga.Version {
	vs := make([]sga.Version, 0, len(m))
	for v := range m {
		vs = append(vs, v)
	}
	slices.SortFunc(vs, func(a, b sga.Version) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return vs
}
