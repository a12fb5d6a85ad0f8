package script

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaID identifies the exported step-based document schema.
const SchemaID = "https://github.com/ormasoftchile/stepscript/schemas/script-v2.json"

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from the
// Script struct using invopop/jsonschema. Unknown members are allowed by the
// schema; the persisted-field allow-lists catch them with better messages.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false
	r.AllowAdditionalProperties = true

	s := r.Reflect(&Script{})
	s.ID = SchemaID
	s.Title = "Step-based test script v2"
	s.Description = "Schema for step-based test script documents (meta, steps, action_pool, variables)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// JSONSchema describes the common envelope of an action. Payload members
// depend on the type and are checked by DecodeAction.
func (Action) JSONSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set("id", &jsonschema.Schema{Type: "string"})
	props.Set("type", &jsonschema.Schema{Type: "string"})
	props.Set("timestamp", &jsonschema.Schema{Type: "number"})
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   []string{"id", "type", "timestamp"},
	}
}
