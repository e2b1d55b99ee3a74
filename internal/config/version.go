package config

import "fmt"

// CurrentVersion is the configuration file format this build reads. Files
// without a version key are read as the current format.
const CurrentVersion = 1

// VersionError reports a configuration file written for another format.
type VersionError struct {
	Version int
}

func (e *VersionError) Error() string {
	if e.Version > CurrentVersion {
		return fmt.Sprintf("version %d requires a newer ragline (this build reads version %d)", e.Version, CurrentVersion)
	}
	return fmt.Sprintf("version %d is not supported; set version: %d", e.Version, CurrentVersion)
}

// ValidateVersion accepts CurrentVersion and rejects everything else.
func ValidateVersion(version int) error {
	if version == CurrentVersion {
		return nil
	}
	return &VersionError{Version: version}
}
