package observe

import (
	"context"
	"io"
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

	tel, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordFrameSent(context.Background(), 4096)

	rec := httptest.NewRecorder()
	tel.MetricsHandler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(string(body), "careercompass_audio_frames_sent") {
		t.Errorf("exposition lacks frame counter:\n%s", body)
	}
	if !strings.Contains(string(body), `service_name="careercompass"`) {
		t.Errorf("exposition lacks service name:\n%s", body)
	}

	// A second init gets its own registry.
	tel2, err := InitProvider(context.Background(), ProviderConfig{})
	if err != nil {
		t.Fatalf("second InitProvider: %v", err)
	}
	_ = tel2.Shutdown(context.Background())
}
