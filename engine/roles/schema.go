package roles

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ValidateResponsePayload validates a decoded payload against the role's
// JSON schema. A validation failure is always a MalformedError: the engine
// never accepts partially conforming data.
func ValidateResponsePayload(role Role, payload map[string]any) error {
	raw, err := schemaFS.ReadFile(fmt.Sprintf("schemas/%s.json", role))
	if err != nil {
		return NewFatalConfigError(fmt.Sprintf("response schema for role '%s'", role))
	}

	schemaLoader := gojsonschema.NewBytesLoader(raw)
	documentLoader := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return NewMalformedError(role, "schema validation error", err)
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)

	return NewMalformedError(role, strings.Join(errs, "; "), nil)
}
