package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	schemavalidator "github.com/santhosh-tekuri/jsonschema/v6"
)

// reflectParameters produces a flat JSON Schema object for an argument struct.
// No property is marked required and additionalProperties is left unset, so
// handlers stay the only place that decides what a usable argument is.
func reflectParameters(v any) (map[string]any, error) {
	r := jsonschema.Reflector{
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	stripSchemaIDs(m)
	return m, nil
}

// stripSchemaIDs removes the meta keys the model integration does not accept.
func stripSchemaIDs(m map[string]any) {
	delete(m, "$schema")
	delete(m, "$id")
	delete(m, "id")
	if props, ok := m["properties"].(map[string]any); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]any); ok {
				stripSchemaIDs(pm)
			}
		}
	}
}

// compileParameters turns a parameters object into a validator.
func compileParameters(name string, params map[string]any) (*schemavalidator.Schema, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	doc, err := schemavalidator.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	url := "mem://capabilities/" + name + ".json"
	c := schemavalidator.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return sch, nil
}
