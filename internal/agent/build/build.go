// Package build implements the agent's "build" work-order handler
// (spec.md §4.5 step 7): it applies the Build manifest embedded in the
// work order's YAML, creates a BuildRun referencing it, and polls the
// BuildRun's status conditions until a terminal result or a timeout.
// Brokkr treats the external Shipwright/Tekton-style build system as an
// opaque CRD-watching collaborator, so this package never imports the
// upstream build system's API packages — only the minimal stand-in
// types in internal/buildapi. Grounded on the teacher's
// internal/controller package for the reconcile-by-polling shape
// (fetch, inspect conditions, requeue), narrowed from a full
// controller-runtime manager/reconciler to a direct poll loop since the
// agent is not itself a long-running Kubernetes controller.
package build

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	"github.com/colliery-io/brokkr/internal/agent/apply"
	"github.com/colliery-io/brokkr/internal/buildapi"
)

// Config controls how BuildRuns are located and polled.
type Config struct {
	Namespace     string
	BuildGVR      schema.GroupVersionResource
	BuildRunGVR   schema.GroupVersionResource
	PollInterval  time.Duration
	HandlerTimeout time.Duration
}

// Result is what the agent reports back to the broker for a completed
// build work order.
type Result struct {
	Success      bool
	ImageDigest  string
	ErrorDetail  string
}

// Handler applies a Build manifest, runs it, and waits for a result.
type Handler struct {
	apply    *apply.Client
	dyn      dynamic.Interface
	cfg      Config
	verifier *DigestVerifier
}

func NewHandler(applyClient *apply.Client, dyn dynamic.Interface, cfg Config) *Handler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 10 * time.Minute
	}
	return &Handler{apply: applyClient, dyn: dyn, cfg: cfg}
}

// WithDigestVerifier enables a post-success registry check: once a
// BuildRun reports success, the handler confirms the registry actually
// recognizes the reported digest before reporting completion upstream.
func (h *Handler) WithDigestVerifier(v *DigestVerifier) *Handler {
	h.verifier = v
	return h
}

// Handle applies the embedded Build manifest(s), creates a BuildRun
// referencing the first Build resource found, and blocks until the
// BuildRun reaches a terminal condition or the handler timeout expires.
func (h *Handler) Handle(ctx context.Context, workOrderYAML []byte) Result {
	docs, err := apply.ParseManifests(workOrderYAML)
	if err != nil {
		return Result{ErrorDetail: fmt.Sprintf("parse work order yaml: %s", err)}
	}

	buildName, outputImage, err := h.applyBuild(ctx, docs)
	if err != nil {
		return Result{ErrorDetail: err.Error()}
	}

	runName, err := h.createBuildRun(ctx, buildName)
	if err != nil {
		return Result{ErrorDetail: fmt.Sprintf("create build run: %s", err)}
	}

	result := h.watch(ctx, runName)
	if result.Success && h.verifier != nil && outputImage != "" && result.ImageDigest != "" {
		if err := h.verifier.Verify(ctx, outputImage, result.ImageDigest); err != nil {
			return Result{ErrorDetail: fmt.Sprintf("digest verification failed: %s", err)}
		}
	}
	return result
}

func (h *Handler) applyBuild(ctx context.Context, docs []*unstructured.Unstructured) (name string, outputImage string, err error) {
	if err := h.apply.Apply(ctx, docs); err != nil {
		return "", "", fmt.Errorf("apply build manifest: %w", err)
	}
	for _, d := range docs {
		if d.GetKind() == "Build" {
			image, _, _ := unstructured.NestedString(d.Object, "spec", "output", "image")
			return d.GetName(), image, nil
		}
	}
	return "", "", fmt.Errorf("work order yaml contains no Build resource")
}

func (h *Handler) createBuildRun(ctx context.Context, buildName string) (string, error) {
	run := &buildapi.BuildRun{
		Spec: buildapi.BuildRunSpec{
			BuildRef: buildapi.BuildRunBuildRef{Name: buildName},
		},
	}
	run.GenerateName = buildName + "-run-"
	run.Namespace = h.cfg.Namespace

	obj, err := toUnstructured(run)
	if err != nil {
		return "", err
	}

	created, err := h.dyn.Resource(h.cfg.BuildRunGVR).Namespace(h.cfg.Namespace).Create(ctx, obj, metav1.CreateOptions{})
	if err != nil {
		return "", err
	}
	return created.GetName(), nil
}

// watch polls the BuildRun's status conditions until terminal or timeout.
func (h *Handler) watch(ctx context.Context, runName string) Result {
	deadline := time.Now().Add(h.cfg.HandlerTimeout)
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := h.fetchStatus(ctx, runName)
		if err != nil {
			return Result{ErrorDetail: fmt.Sprintf("fetch build run status: %s", err)}
		}
		if status.Succeeded() {
			digest := ""
			if status.Output != nil {
				digest = status.Output.Digest
			}
			return Result{Success: true, ImageDigest: digest}
		}
		if status.Failed() {
			return Result{ErrorDetail: status.FailureMessage()}
		}
		if time.Now().After(deadline) {
			return Result{ErrorDetail: "build run did not reach a terminal condition before the handler timeout"}
		}

		select {
		case <-ctx.Done():
			return Result{ErrorDetail: ctx.Err().Error()}
		case <-ticker.C:
		}
	}
}

func (h *Handler) fetchStatus(ctx context.Context, runName string) (buildapi.BuildRunStatus, error) {
	obj, err := h.dyn.Resource(h.cfg.BuildRunGVR).Namespace(h.cfg.Namespace).Get(ctx, runName, metav1.GetOptions{})
	if err != nil {
		return buildapi.BuildRunStatus{}, err
	}
	var run buildapi.BuildRun
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &run); err != nil {
		return buildapi.BuildRunStatus{}, fmt.Errorf("decode build run: %w", err)
	}
	return run.Status, nil
}

func toUnstructured(obj any) (*unstructured.Unstructured, error) {
	m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, fmt.Errorf("convert to unstructured: %w", err)
	}
	return &unstructured.Unstructured{Object: m}, nil
}
