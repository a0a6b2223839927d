package apply

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func newObj(kind, group, name string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	apiVersion := "v1"
	if group != "" {
		apiVersion = group + "/v1"
	}
	u.SetAPIVersion(apiVersion)
	u.SetKind(kind)
	u.SetName(name)
	return u
}

func TestOrderAppliesNamespacesFirst(t *testing.T) {
	docs := []*unstructured.Unstructured{
		newObj("Deployment", "apps", "web"),
		newObj("Namespace", "", "team-a"),
		newObj("ConfigMap", "", "cfg"),
	}

	ordered := Order(docs)
	if ordered[0].GetKind() != "Namespace" {
		t.Fatalf("expected Namespace first, got %s", ordered[0].GetKind())
	}
	if ordered[len(ordered)-1].GetKind() != "Deployment" {
		t.Fatalf("expected Deployment last, got %s", ordered[len(ordered)-1].GetKind())
	}
}

func TestOrderFollowsFixedBucketSequence(t *testing.T) {
	docs := []*unstructured.Unstructured{
		newObj("Secret", "", "s"),
		newObj("ClusterRoleBinding", "rbac.authorization.k8s.io", "crb"),
		newObj("CustomResourceDefinition", "apiextensions.k8s.io", "crd"),
		newObj("Namespace", "", "ns"),
		newObj("Job", "batch", "j"),
		newObj("Widget", "example.com", "w"),
	}

	ordered := Order(docs)
	var kinds []string
	for _, o := range ordered {
		kinds = append(kinds, o.GetKind())
	}
	want := []string{"Namespace", "CustomResourceDefinition", "ClusterRoleBinding", "Secret", "Job", "Widget"}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d resources, got %d", len(want), len(kinds))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s (full order: %v)", i, want[i], kinds[i], kinds)
		}
	}
}

func TestOrderPreservesDocumentOrderWithinBucket(t *testing.T) {
	docs := []*unstructured.Unstructured{
		newObj("Deployment", "apps", "second"),
		newObj("Deployment", "apps", "first"),
	}

	ordered := Order(docs)
	if ordered[0].GetName() != "second" || ordered[1].GetName() != "first" {
		t.Fatalf("expected document order preserved within a bucket, got %s then %s", ordered[0].GetName(), ordered[1].GetName())
	}
}

func TestParseManifestsSplitsMultiDocumentYAML(t *testing.T) {
	yamlContent := []byte(`
apiVersion: v1
kind: Namespace
metadata:
  name: team-a
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
  namespace: team-a
`)

	docs, err := ParseManifests(yamlContent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].GetKind() != "Namespace" || docs[1].GetKind() != "Deployment" {
		t.Fatalf("unexpected kinds: %s, %s", docs[0].GetKind(), docs[1].GetKind())
	}
}

func TestParseManifestsSkipsEmptyDocuments(t *testing.T) {
	yamlContent := []byte(`
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: only
---
`)

	docs, err := ParseManifests(yamlContent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document (empty docs skipped), got %d", len(docs))
	}
}
