package template

import (
	"bytes"
	"encoding/json"
	"strings"
	tmpl "text/template"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
)

// allowedFuncs is the restricted function map a template body may call —
// deliberately small, mirroring the "safe substitution language" spec.md
// §4.9 calls for. No filesystem, network, or os/exec access is exposed,
// unlike text/template's default environment which would let a template
// body call arbitrary registered funcs.
var allowedFuncs = tmpl.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"default": func(def, v any) any {
		if v == nil || v == "" {
			return def
		}
		return v
	},
}

// ValidateParams checks params against the template's declared JSON
// Schema, returning a Validation error listing the schema's complaint.
func (t *Template) ValidateParams(params map[string]any) error {
	var schema jsonschema.Schema
	if err := json.Unmarshal(t.ParamSchema, &schema); err != nil {
		return brokkrerrors.Wrap(brokkrerrors.FatalIntegrity, "stored template schema is not valid JSON Schema", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.FatalIntegrity, "stored template schema failed to resolve", err)
	}
	if err := resolved.Validate(params); err != nil {
		return brokkrerrors.Wrap(brokkrerrors.Validation, "template parameters failed schema validation", err)
	}
	return nil
}

// Render validates params against the schema, then executes the template
// body in the restricted function environment. The result is the raw
// rendered text — the caller (Instantiate) is responsible for parsing it
// as YAML before writing a deployment object.
func (t *Template) Render(params map[string]any) (string, error) {
	if err := t.ValidateParams(params); err != nil {
		return "", err
	}

	parsed, err := tmpl.New(t.Name).Funcs(allowedFuncs).Option("missingkey=error").Parse(t.TextContent)
	if err != nil {
		return "", brokkrerrors.Wrap(brokkrerrors.FatalIntegrity, "stored template body failed to parse", err)
	}

	var buf bytes.Buffer
	if err := parsed.Execute(&buf, params); err != nil {
		return "", brokkrerrors.Wrap(brokkrerrors.Validation, "template rendering failed", err)
	}
	return buf.String(), nil
}
