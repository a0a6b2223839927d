package template

import (
	"context"

	"gopkg.in/yaml.v3"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
	"github.com/colliery-io/brokkr/internal/dal/deploymentobject"
	"github.com/colliery-io/brokkr/internal/dal/label"
)

// Instantiator renders a template against a target stack and writes the
// result as a new deployment object. Grounded on
// internal/controlplane/automationpacks' dry-run-then-execute split
// (dryrun.go resolves+validates, execution.go commits), narrowed here to a
// single validate-render-write call since a template instantiation has no
// multi-step workflow to dry-run against.
type Instantiator struct {
	templates   *Store
	labels      *label.Store
	deployments *deploymentobject.Store
}

func NewInstantiator(templates *Store, labels *label.Store, deployments *deploymentobject.Store) *Instantiator {
	return &Instantiator{templates: templates, labels: labels, deployments: deployments}
}

// Instantiate renders templateID against params, confirms stackID carries
// every label the template requires, parses the rendered text as YAML, and
// writes it as a new deployment object on that stack.
func (in *Instantiator) Instantiate(ctx context.Context, templateID, stackID string, params map[string]any) (*deploymentobject.DeploymentObject, error) {
	tpl, err := in.templates.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}

	if len(tpl.RequiredLabels) > 0 {
		ok, err := in.labels.HasAll(ctx, label.EntityStack, stackID, tpl.RequiredLabels)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrMissingRequiredLabel
		}
	}

	rendered, err := tpl.Render(params)
	if err != nil {
		return nil, err
	}

	var probe any
	if err := yaml.Unmarshal([]byte(rendered), &probe); err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.Validation, "rendered template is not valid YAML", err)
	}

	return in.deployments.Create(ctx, stackID, []byte(rendered), "", false)
}
