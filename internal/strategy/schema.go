package strategy

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// reflectSchema produces a JSON-schema document for a strategy's config
// type, the same reflection-based approach as argo-trading's
// engine.GetConfigSchema. A malformed sample (should only happen from a
// programming error at Register call sites, never at runtime) yields an
// empty schema rather than panicking the registry.
func reflectSchema(configSample any) string {
	reflector := jsonschema.Reflector{}
	schema := reflector.Reflect(configSample)
	b, err := json.Marshal(schema)
	if err != nil {
		return "{}"
	}
	return string(b)
}
