package oracle

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/nestor/pkg/supervisor"
)

// decisionPropertyOrdering is the field order the schema presents and
// providers are asked to honor. message comes last so a streaming
// consumer knows the decision is final before message text arrives.
var decisionPropertyOrdering = []string{"is_final", "delegate_to", "reasoning", "message"}

// decisionSchema reflects the decision type into a JSON Schema kept as
// raw bytes, preserving property declaration order for providers that
// embed the schema as prompt text.
func decisionSchema() (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}

	schema := reflector.Reflect(&supervisor.Decision{})
	schema.Version = ""

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decision schema: %w", err)
	}
	return raw, nil
}
