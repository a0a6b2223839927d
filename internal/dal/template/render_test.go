package template

import "testing"

func schemaRequiring(fields ...string) []byte {
	props := `"replicas":{"type":"integer"}`
	req := `[`
	for i, f := range fields {
		if i > 0 {
			req += ","
		}
		req += `"` + f + `"`
	}
	req += `]`
	return []byte(`{"type":"object","properties":{` + props + `},"required":` + req + `}`)
}

func TestValidateParamsAcceptsSatisfyingParams(t *testing.T) {
	tpl := &Template{ParamSchema: schemaRequiring("replicas")}
	if err := tpl.ValidateParams(map[string]any{"replicas": 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateParamsRejectsMissingRequiredField(t *testing.T) {
	tpl := &Template{ParamSchema: schemaRequiring("replicas")}
	if err := tpl.ValidateParams(map[string]any{}); err == nil {
		t.Fatal("expected an error for a missing required field")
	}
}

func TestValidateParamsRejectsWrongType(t *testing.T) {
	tpl := &Template{ParamSchema: schemaRequiring("replicas")}
	if err := tpl.ValidateParams(map[string]any{"replicas": "three"}); err == nil {
		t.Fatal("expected an error for a wrong-typed field")
	}
}

func TestValidateParamsRejectsMalformedStoredSchema(t *testing.T) {
	tpl := &Template{ParamSchema: []byte(`not json`)}
	if err := tpl.ValidateParams(map[string]any{}); err == nil {
		t.Fatal("expected an error for an unparseable stored schema")
	}
}

func TestRenderSubstitutesParams(t *testing.T) {
	tpl := &Template{
		TextContent: "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: {{.name}}\ndata:\n  replicas: \"{{.replicas}}\"\n",
		ParamSchema: schemaRequiring("name", "replicas"),
	}
	out, err := tpl.Render(map[string]any{"name": "quick-start", "replicas": 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(out, "name: quick-start") {
		t.Fatalf("expected rendered name substitution, got: %s", out)
	}
}

func TestRenderRejectsParamsFailingSchema(t *testing.T) {
	tpl := &Template{
		TextContent: "kind: ConfigMap\nmetadata:\n  name: {{.name}}\n",
		ParamSchema: schemaRequiring("name"),
	}
	if _, err := tpl.Render(map[string]any{}); err == nil {
		t.Fatal("expected an error when required params are missing")
	}
}

func TestRenderRejectsUnknownTemplateKey(t *testing.T) {
	tpl := &Template{
		TextContent: "kind: {{.nonexistentKey}}\n",
		ParamSchema: []byte(`{"type":"object"}`),
	}
	if _, err := tpl.Render(map[string]any{"name": "x"}); err == nil {
		t.Fatal("expected missingkey=error to reject an undeclared template field")
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
