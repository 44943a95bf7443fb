package coordinator

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateJSON compiles schemaDoc and validates doc against it. Schemas
// are small and called once per execution, so no compiled-schema cache is
// kept here (contrast internal/worker's per-script cache, which is
// amortized across many calls to the same script).
func validateJSON(schemaDoc json.RawMessage, doc json.RawMessage) error {
	var schemaAny any
	if err := json.Unmarshal(schemaDoc, &schemaAny); err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaAny); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var docAny any
	if err := json.Unmarshal(doc, &docAny); err != nil {
		return fmt.Errorf("document is not valid JSON: %w", err)
	}
	return schema.Validate(docAny)
}
