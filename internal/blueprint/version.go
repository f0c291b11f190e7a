// Package blueprint exports instance configuration into versioned,
// optionally tenant-agnostic documents and imports them into other
// instances behind a semantic-version gate.
package blueprint

import (
	"github.com/leozw/blueprint-sot/internal/core"
)

// CheckCompatibility enforces the import gate: the export's major version
// must equal the target's, and the export may not be newer than what the
// target supports.
func CheckCompatibility(exportVersion, supportedVersion string) error {
	const op = "blueprint.CheckCompatibility"

	exportMajor, ok := core.MajorVersion(exportVersion)
	if !ok {
		return core.Validation(op, "invalid export blueprint version %q", exportVersion)
	}
	supportedMajor, ok := core.MajorVersion(supportedVersion)
	if !ok {
		return core.Validation(op, "invalid supported blueprint version %q", supportedVersion)
	}

	if exportMajor != supportedMajor {
		return core.VersionIncompatible(op, "export major version %d cannot be imported into an instance supporting major %d",
			exportMajor, supportedMajor)
	}
	if core.CompareVersions(exportVersion, supportedVersion) > 0 {
		return core.VersionIncompatible(op, "export version %s is newer than supported version %s",
			exportVersion, supportedVersion)
	}
	return nil
}
