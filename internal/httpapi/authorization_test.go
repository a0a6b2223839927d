package httpapi

import (
	"testing"

	"github.com/colliery-io/brokkr/internal/auth"
)

func TestAuthorizeStackCreateAdminCanSetAnyOwner(t *testing.T) {
	owner := "generator-2"
	got, err := authorizeStackCreate(auth.Principal{Kind: auth.KindAdmin}, createStackRequest{OwningGeneratorID: &owner})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || *got != owner {
		t.Fatalf("expected owner %q, got %v", owner, got)
	}
}

func TestAuthorizeStackCreateAdminCanLeaveOwnerUnset(t *testing.T) {
	got, err := authorizeStackCreate(auth.Principal{Kind: auth.KindAdmin}, createStackRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil owner, got %v", *got)
	}
}

func TestAuthorizeStackCreateGeneratorDefaultsToSelf(t *testing.T) {
	got, err := authorizeStackCreate(auth.Principal{Kind: auth.KindGenerator, GeneratorID: "g1"}, createStackRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || *got != "g1" {
		t.Fatalf("expected owner g1, got %v", got)
	}
}

func TestAuthorizeStackCreateGeneratorCannotClaimAnotherOwner(t *testing.T) {
	other := "g2"
	_, err := authorizeStackCreate(auth.Principal{Kind: auth.KindGenerator, GeneratorID: "g1"}, createStackRequest{OwningGeneratorID: &other})
	if err == nil {
		t.Fatal("expected an error when a generator targets another generator's ownership")
	}
}

func TestAuthorizeStackCreateAgentAlwaysForbidden(t *testing.T) {
	_, err := authorizeStackCreate(auth.Principal{Kind: auth.KindAgent, AgentID: "a1"}, createStackRequest{})
	if err == nil {
		t.Fatal("expected an error for an agent principal")
	}
}

func TestAuthorizeAgentAccessAdminAllowed(t *testing.T) {
	if err := authorizeAgentAccess(auth.Principal{Kind: auth.KindAdmin}, "agent-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthorizeAgentAccessSelfAllowed(t *testing.T) {
	if err := authorizeAgentAccess(auth.Principal{Kind: auth.KindAgent, AgentID: "agent-1"}, "agent-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthorizeAgentAccessOtherAgentForbidden(t *testing.T) {
	if err := authorizeAgentAccess(auth.Principal{Kind: auth.KindAgent, AgentID: "agent-2"}, "agent-1"); err == nil {
		t.Fatal("expected an error for a different agent")
	}
}

func TestAuthorizeAgentAccessGeneratorForbidden(t *testing.T) {
	if err := authorizeAgentAccess(auth.Principal{Kind: auth.KindGenerator, GeneratorID: "g1"}, "agent-1"); err == nil {
		t.Fatal("expected an error for a generator principal")
	}
}

func TestResolveTargetSpecTranslatesAnnotationMap(t *testing.T) {
	spec := resolveTargetSpec([]string{"agent-1"}, []string{"env=prod"}, map[string]string{"team": "platform"})

	if len(spec.ExplicitAgentIDs) != 1 || spec.ExplicitAgentIDs[0] != "agent-1" {
		t.Fatalf("unexpected explicit agent ids: %+v", spec.ExplicitAgentIDs)
	}
	if len(spec.Labels) != 1 || spec.Labels[0] != "env=prod" {
		t.Fatalf("unexpected labels: %+v", spec.Labels)
	}
	if len(spec.Annotations) != 1 || spec.Annotations[0].Key != "team" || spec.Annotations[0].Value != "platform" {
		t.Fatalf("unexpected annotations: %+v", spec.Annotations)
	}
}

func TestResolveTargetSpecHandlesEmptyInputs(t *testing.T) {
	spec := resolveTargetSpec(nil, nil, nil)
	if len(spec.ExplicitAgentIDs) != 0 || len(spec.Labels) != 0 || len(spec.Annotations) != 0 {
		t.Fatalf("expected an empty spec, got %+v", spec)
	}
}
