// Package schema generates JSON schemas for configuration structs.
package schema

import (
	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
)

// ToJSONSchema converts a struct to a JSON schema
func ToJSONSchema[T any](t T) (string, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = true
	schema := r.Reflect(t)

	jsonSchemaBytes, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}

	return string(jsonSchemaBytes), nil
}

// ToIndentedJSONSchema is ToJSONSchema with a title and indented output, for
// schema files checked into a repository.
func ToIndentedJSONSchema[T any](t T, title string) (string, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	schema := r.Reflect(t)
	schema.Title = title

	jsonSchemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(jsonSchemaBytes), nil
}
