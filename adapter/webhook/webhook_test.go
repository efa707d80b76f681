package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/modpatch/adapter"
	"github.com/pithecene-io/modpatch/iox"
	"github.com/pithecene-io/modpatch/types"
)

func init() {
	baseBackoff = time.Millisecond
}

func testEvent() *adapter.PatchCompletedEvent {
	return &adapter.PatchCompletedEvent{
		EventType:  adapter.EventType,
		AttemptID:  "att-001",
		Package:    "com.example.mod",
		Outcome:    types.OutcomeSuccess,
		Message:    "attempt completed successfully",
		Versions:   types.ComponentVersions{Base: "126.21", Injector: "2.1.0"},
		Timestamp:  "2026-03-01T12:00:00Z",
		DurationMs: 1500,
	}
}

func TestPublish_Success(t *testing.T) {
	var received adapter.PatchCompletedEvent
	var headers http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer ts.Close()

	a, err := New(Config{URL: ts.URL, Headers: map[string]string{"Authorization": "Bearer tok"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer iox.DiscardClose(a)

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if received.AttemptID != "att-001" || received.Package != "com.example.mod" || received.Versions.Injector != "2.1.0" {
		t.Errorf("received = %+v", received)
	}
	if headers.Get("Content-Type") != "application/json" || headers.Get("Authorization") != "Bearer tok" {
		t.Errorf("headers = %v", headers)
	}
}

func TestPublish_Retries(t *testing.T) {
	tests := []struct {
		name         string
		failFirst    int32
		status       int
		retries      int
		wantAttempts int32
		wantErr      bool
	}{
		{"recovers after 5xx", 2, http.StatusInternalServerError, 3, 3, false},
		{"exhausts retries", 100, http.StatusBadGateway, 2, 3, true},
		{"4xx not retried", 100, http.StatusBadRequest, 3, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if n.Add(1) <= tt.failFirst {
					w.WriteHeader(tt.status)
				}
			}))
			defer ts.Close()

			a, err := New(Config{URL: ts.URL, Retries: tt.retries})
			if err != nil {
				t.Fatal(err)
			}
			err = a.Publish(t.Context(), testEvent())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := n.Load(); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
			var se *StatusError
			if tt.wantErr && (!errors.As(err, &se) || se.Code != tt.status) {
				t.Errorf("err = %v, want StatusError %d", err, tt.status)
			}
		})
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	a, err := New(Config{URL: ts.URL, Retries: 5})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	if err := a.Publish(ctx, testEvent()); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("empty URL accepted")
	}
	if _, err := New(Config{URL: "http://example.com", Retries: -1}); err == nil {
		t.Error("negative retries accepted")
	}
	a, err := New(Config{URL: "http://example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if a.config.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v", a.config.Timeout)
	}
}
