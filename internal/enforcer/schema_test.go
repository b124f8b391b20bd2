// Copyright 2025 James Ross
package enforcer

import "testing"

func TestValidatePolicyDocumentAcceptsWellFormed(t *testing.T) {
	doc := []byte(`[{"permission":0,"action":{"op":3,"handle_expr":"job/myapp/*"}}]`)
	if err := ValidatePolicyDocument(doc); err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}
}

func TestValidatePolicyDocumentRejectsUnknownPermission(t *testing.T) {
	doc := []byte(`[{"permission":"maybe","action":{"op":3,"handle_expr":"job/myapp/*"}}]`)
	if err := ValidatePolicyDocument(doc); err == nil {
		t.Fatal("expected schema validation to reject an unrecognized permission value")
	}
}

func TestValidatePolicyDocumentRejectsMissingAction(t *testing.T) {
	doc := []byte(`[{"permission":0}]`)
	if err := ValidatePolicyDocument(doc); err == nil {
		t.Fatal("expected schema validation to reject a policy missing its action")
	}
}
