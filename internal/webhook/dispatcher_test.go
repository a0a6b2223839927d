package webhook

import (
	"testing"
	"time"
)

func TestNewDefaultsRequestTimeout(t *testing.T) {
	d := New(nil, nil, Config{}, nil)
	if d.httpClient.Timeout != 10*time.Second {
		t.Fatalf("expected default timeout of 10s, got %s", d.httpClient.Timeout)
	}
}

func TestNewHonorsExplicitRequestTimeout(t *testing.T) {
	d := New(nil, nil, Config{RequestTimeout: 3 * time.Second}, nil)
	if d.httpClient.Timeout != 3*time.Second {
		t.Fatalf("expected 3s timeout, got %s", d.httpClient.Timeout)
	}
}
