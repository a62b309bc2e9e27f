package tools

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateArgs checks model-produced arguments against the tool's declared
// input schema. Tools without a schema accept anything. Validation failures
// are permanent: re-running the same call with the same arguments cannot
// succeed, so callers should not retry.
func ValidateArgs(tool Tool, args map[string]any) error {
	schema := tool.InputSchema()
	if len(schema) == 0 {
		return nil
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshaling arguments: %w", err)
	}

	schemaLoader := gojsonschema.NewBytesLoader(schema)
	documentLoader := gojsonschema.NewBytesLoader(argsJSON)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validating arguments: %w", err)
	}
	if !result.Valid() {
		var msg string
		for _, verr := range result.Errors() {
			if msg != "" {
				msg += "; "
			}
			msg += verr.String()
		}
		return fmt.Errorf("invalid arguments for %s: %s", tool.Name(), msg)
	}
	return nil
}
