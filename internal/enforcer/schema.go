// Copyright 2025 James Ross
package enforcer

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// policySchema describes the wire shape a loaded policy blob must satisfy
// before it is unmarshaled and evaluated. A policy blob that merely happens
// to unmarshal into []Policy via Go's loose JSON decoding (wrong types
// coerced to zero values, unknown permission strings silently ignored)
// would let a malformed policy document evaluate as "no policies apply",
// which fails open; validating the raw shape first fails closed instead.
var policySchema = gojsonschema.NewStringLoader(`{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["permission", "action"],
		"additionalProperties": false,
		"properties": {
			"permission": {"enum": [0, 1], "description": "0=Allow, 1=Deny, matching enforcer.Permission's iota encoding"},
			"action": {
				"type": "object",
				"required": ["op", "handle_expr"],
				"additionalProperties": false,
				"properties": {
					"op": {"type": "integer", "minimum": 0},
					"handle_expr": {"type": "string"},
					"max_ttl": {"type": "integer", "minimum": 0}
				}
			}
		}
	}
}`)

// ValidatePolicyDocument checks a loaded policy blob's raw JSON shape
// against policySchema before it is unmarshaled into []Policy, so a
// malformed document is rejected with a field-level message instead of
// silently decoding to zero values.
func ValidatePolicyDocument(data []byte) error {
	result, err := gojsonschema.Validate(policySchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("enforcer: policy document invalid JSON: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.String())
		}
		return &InvalidPolicyDocumentError{Reasons: msgs}
	}
	return nil
}

// InvalidPolicyDocumentError is returned when a loaded policy blob fails
// schema validation; callers surface it as a policy-denial-shaped failure
// rather than silently treating a malformed document as an empty policy
// set.
type InvalidPolicyDocumentError struct {
	Reasons []string
}

func (e *InvalidPolicyDocumentError) Error() string {
	return fmt.Sprintf("enforcer: invalid policy document: %v", e.Reasons)
}
