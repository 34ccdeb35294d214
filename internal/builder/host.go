package builder

import "os"

// HostState reports whether the host project is in a state where a sync must
// not run, such as while it compiles scripts or enters play mode.
type HostState interface {
	Busy() (bool, string)
}

// MarkerHostState reports busy while any marker file exists.
type MarkerHostState struct {
	Markers []string
}

// Busy implements HostState.
func (m *MarkerHostState) Busy() (bool, string) {
	for _, marker := range m.Markers {
		if _, err := os.Stat(marker); err == nil {
			return true, "marker present: " + marker
		}
	}
	return false, ""
}
