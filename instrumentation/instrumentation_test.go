package instrumentation

import (
	"context"
	"testing"
)

func TestNewDisabled(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.Metrics() == nil {
		t.Fatal("Metrics() should not be nil")
	}

	// No-op providers must accept recordings without panicking
	ctx := context.Background()
	inst.Metrics().RecordHTTPRequest(ctx, "POST", "/oauth/token", 200, 1.5)
	inst.Metrics().RecordCodeExchange(ctx, "client-1", "S256")
	inst.Metrics().RecordStorageOperation(ctx, "save_token", "success", 0.2)
}

func TestNilSafety(t *testing.T) {
	var inst *Instrumentation
	ctx := context.Background()

	// Nil instrumentation yields nil metrics, and nil metrics are inert
	m := inst.Metrics()
	m.RecordHTTPRequest(ctx, "GET", "/oauth/userinfo", 401, 0.1)
	m.RecordCodeReuseDetected(ctx)
	m.RecordTokenReuseDetected(ctx)

	// Nil instrumentation still hands out a usable tracer
	_, span := inst.Tracer("server").Start(ctx, "test")
	RecordError(span, nil)
	SetSpanSuccess(span)
	span.End()
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 1 },
		func() int64 { return 2 },
		func() int64 { return 3 },
	)
	if err != nil {
		t.Errorf("RegisterStorageSizeCallbacks() error = %v", err)
	}
}
