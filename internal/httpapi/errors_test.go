package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
)

func TestRenderErrorUsesKindStatusAndSafeMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	cause := errors.New("pq: connection refused")
	renderError(rec, brokkrerrors.Wrap(brokkrerrors.Conflict, "stack name already exists", cause))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body APIError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	if body.Code != string(brokkrerrors.Conflict) {
		t.Fatalf("unexpected code: %q", body.Code)
	}
	if body.Error != "stack name already exists" {
		t.Fatalf("unexpected error message: %q", body.Error)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("connection refused")) {
		t.Fatal("renderError must never leak the wrapped cause to the client")
	}
}

func TestRenderErrorUnclassifiedErrorIsGeneric500(t *testing.T) {
	rec := httptest.NewRecorder()
	renderError(rec, errors.New("some unexpected internal failure"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body APIError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	if body.Error != "internal error" {
		t.Fatalf("unclassified error leaked internal detail: %q", body.Error)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"name":"x","bogus":true}`))
	var out struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(req, &out); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestDecodeJSONAcceptsKnownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"name":"x"}`))
	var out struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(req, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Name != "x" {
		t.Fatalf("unexpected decoded value: %q", out.Name)
	}
}

func TestWriteJSONSetsContentTypeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"id": "abc"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type: %q", ct)
	}
}
