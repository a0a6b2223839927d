// Package buildapi holds minimal stand-in Go types for the external
// Shipwright/Tekton-style Build and BuildRun custom resources. Brokkr
// treats that build system as an opaque CRD-watching collaborator (the
// agent creates a BuildRun and polls its status conditions) so these
// types carry only the fields the agent actually reads or writes, not a
// full copy of the upstream CRD schema.
package buildapi

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Build describes a named, reusable build recipe (source + strategy +
// output image). The agent applies a Build manifest the same way it
// applies any other resource in a deployment object's YAML.
type Build struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec BuildSpec `json:"spec"`
}

type BuildSpec struct {
	Source   BuildSource `json:"source"`
	Strategy BuildStrategy `json:"strategy"`
	Output   BuildOutput `json:"output"`
}

type BuildSource struct {
	URL      string `json:"url"`
	Revision string `json:"revision,omitempty"`
}

type BuildStrategy struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

type BuildOutput struct {
	Image string `json:"image"`
}

// BuildRun is a single execution of a Build. The agent creates one per
// "build" work order and watches its status conditions for a terminal
// result.
type BuildRun struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   BuildRunSpec   `json:"spec"`
	Status BuildRunStatus `json:"status,omitempty"`
}

type BuildRunSpec struct {
	BuildRef BuildRunBuildRef `json:"buildRef"`
}

type BuildRunBuildRef struct {
	Name string `json:"name"`
}

type BuildRunStatus struct {
	Conditions []metav1.Condition `json:"conditions,omitempty"`
	Output     *BuildRunOutput    `json:"output,omitempty"`
}

type BuildRunOutput struct {
	Digest string `json:"digest,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// ConditionSucceeded is the condition type the agent watches for a
// terminal result, matching Shipwright's BuildRun status convention.
const ConditionSucceeded = "Succeeded"

// Succeeded reports whether the BuildRun has reached a terminal
// "Succeeded=True" condition.
func (s BuildRunStatus) Succeeded() bool {
	for _, c := range s.Conditions {
		if c.Type == ConditionSucceeded {
			return c.Status == metav1.ConditionTrue
		}
	}
	return false
}

// Failed reports whether the BuildRun has reached a terminal
// "Succeeded=False" condition.
func (s BuildRunStatus) Failed() bool {
	for _, c := range s.Conditions {
		if c.Type == ConditionSucceeded {
			return c.Status == metav1.ConditionFalse
		}
	}
	return false
}

// Terminal reports whether the BuildRun has reached any terminal state.
func (s BuildRunStatus) Terminal() bool {
	return s.Succeeded() || s.Failed()
}

// FailureMessage returns the message attached to the terminal Succeeded=False
// condition, if any.
func (s BuildRunStatus) FailureMessage() string {
	for _, c := range s.Conditions {
		if c.Type == ConditionSucceeded && c.Status == metav1.ConditionFalse {
			return c.Message
		}
	}
	return ""
}
