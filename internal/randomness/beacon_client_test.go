package randomness

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBeaconClient_DecodesSample(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/beacon/latest" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"round":42,"value":"0x0a","secure":true,"observed_at":"2025-06-01T12:00:00Z"}`))
	}))
	defer srv.Close()

	c, err := NewBeaconClient(srv.URL)
	if err != nil {
		t.Fatalf("NewBeaconClient: %v", err)
	}
	sample, err := c.Draw(context.Background())
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if sample.Value.Int64() != 10 {
		t.Fatalf("value: got %s want 10", sample.Value)
	}
	if !sample.Secure {
		t.Fatalf("expected secure sample")
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !sample.ObservedAt.Equal(want) {
		t.Fatalf("observedAt: got %s want %s", sample.ObservedAt, want)
	}
}

func TestBeaconClient_RejectsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewBeaconClient(srv.URL)
	if err != nil {
		t.Fatalf("NewBeaconClient: %v", err)
	}
	if _, err := c.Draw(context.Background()); err == nil {
		t.Fatalf("expected error on non-200 status")
	}
}

func TestLocalSource_ReportsConfiguredSecurity(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewLocalSource(false, func() time.Time { return now })
	sample, err := s.Draw(context.Background())
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if sample.Secure {
		t.Fatalf("expected insecure sample")
	}
	if sample.Value == nil {
		t.Fatalf("nil value")
	}
	if !sample.ObservedAt.Equal(now) {
		t.Fatalf("observedAt: got %s want %s", sample.ObservedAt, now)
	}
}
