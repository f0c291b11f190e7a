package blueprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leozw/blueprint-sot/internal/core"
)

// Validate checks that the export's document survives a round trip through
// the import decoder unchanged and, for tenant-agnostic exports, that none
// of source's identifiers remain. It never fails the export itself; the
// outcome is returned as a validation status plus details.
func Validate(e *core.BlueprintExport, source Identity) (core.ValidationStatus, *string) {
	invalid := func(format string, args ...any) (core.ValidationStatus, *string) {
		details := fmt.Sprintf(format, args...)
		return core.ValidationInvalid, &details
	}

	if e.BlueprintData.Version != e.BlueprintVersion {
		return invalid("document version %q does not match export version %q", e.BlueprintData.Version, e.BlueprintVersion)
	}

	encoded, err := json.Marshal(e.BlueprintData)
	if err != nil {
		return invalid("encode: %v", err)
	}

	var decoded core.Document
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return invalid("decode: %v", err)
	}

	reencoded, err := json.Marshal(decoded)
	if err != nil {
		return invalid("re-encode: %v", err)
	}
	if !bytes.Equal(encoded, reencoded) {
		return invalid("document does not round-trip without loss")
	}

	if e.IsTenantAgnostic {
		if e.TenantID != nil {
			return invalid("tenant-agnostic export carries tenant id")
		}
		if found := residualIdentifiers(encoded, source.identifiers()); len(found) > 0 {
			return invalid("residual tenant identifiers: %s", strings.Join(found, ", "))
		}
	}

	return core.ValidationValid, nil
}
