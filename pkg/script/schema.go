package script

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// JSONSchema describes the script file format, for editors and linters.
func JSONSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(&Script{})
	schema.Title = "convoflow script"
	return schema
}

// JSONSchemaString returns JSONSchema indented.
func JSONSchemaString() (string, error) {
	b, err := json.MarshalIndent(JSONSchema(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
