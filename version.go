package lockprof

import "github.com/kolkov/lockprof/internal/lockprof/eventlog"

// Version information for lockprof.
const (
	// Version is the current version of the lockprof runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about lockprof.
type Info struct {
	// Version is the runtime version string.
	Version string

	// EventLogFormat is the event log format version written by the agent.
	EventLogFormat string

	// Enabled indicates whether an agent is writing an event log.
	Enabled bool
}

// GetInfo returns information about the lockprof runtime.
//
// Example:
//
//	info := lockprof.GetInfo()
//	fmt.Printf("lockprof %s (events %s)\n", info.Version, info.EventLogFormat)
func GetInfo() Info {
	mu.Lock()
	enabled := running != nil && running.Enabled()
	mu.Unlock()

	return Info{
		Version:        Version,
		EventLogFormat: eventlog.FormatVersion,
		Enabled:        enabled,
	}
}
