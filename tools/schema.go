package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// reflectInputSchema reflects a Go args struct into the JSON Schema served in
// tools/list. Definitions are inlined and the struct is expanded at the root
// so clients see one flat object schema. Unknown fields are tolerated at
// runtime (dispatcher metadata rides in the same object), so the schema does
// not forbid additionalProperties.
func reflectInputSchema[A any]() json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(new(A))
	raw, err := json.Marshal(s)
	if err != nil {
		// A reflected schema of a static Go type never fails to marshal;
		// degrade to an open object rather than panic during registration.
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}
