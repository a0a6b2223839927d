// Package template is the data-access layer for versioned deployment-object
// templates (spec.md §4.9): a named, versioned text body rendered with a
// caller-supplied parameter set and written out as a new deployment object.
// Grounded on the teacher's internal/controlplane/automationpacks package —
// Definition/Input's typed-constraint parameter shape and dryrun.go's
// `{{ inputs.X }}` substitution markers — generalized from automation-pack
// pre-flight simulation into real Go text/template rendering with a
// declared JSON Schema replacing the hand-rolled InputConstraints struct.
package template

import "time"

// Template is one named, versioned text body plus the JSON Schema its
// instantiation parameters must satisfy.
type Template struct {
	ID             string
	Name           string
	Version        int
	TextContent    string
	ParamSchema    []byte // raw JSON Schema document
	RequiredLabels []string
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

// CreateParams are the fields needed to register a new template version.
type CreateParams struct {
	Name           string
	Version        int
	TextContent    string
	ParamSchema    []byte
	RequiredLabels []string
}
