package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitProvider_ServesMetrics(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	p, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.ChunkEnqueued(context.Background(), 4800)

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, want := range []string{"mirchi_playback_chunks", "mirchi_playback_bytes", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output missing %s", want)
		}
	}
}

func TestTracerOptions_Sampling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ratio float64
		want  int
	}{
		{0, 1},
		{1, 1},
		{0.25, 2},
	}
	for _, tc := range tests {
		if got := len(tracerOptions(nil, ProviderConfig{SampleRatio: tc.ratio})); got != tc.want {
			t.Errorf("ratio %v: %d options, want %d", tc.ratio, got, tc.want)
		}
	}
}
