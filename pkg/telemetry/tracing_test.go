package telemetry_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jazware/essencefs/pkg/essencefs"
	"github.com/jazware/essencefs/pkg/factory"
	"github.com/jazware/essencefs/pkg/sgav2"
	"github.com/jazware/essencefs/pkg/telemetry"
)

func TestArchiveSpans(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()
	shutdown, err := telemetry.StartTracing(ctx,
		telemetry.WithExporter(exporter),
		telemetry.WithSyncExport(),
		telemetry.WithServiceName("essencefs-test"),
		telemetry.WithServiceVersion("v0.0.0-test"),
	)
	if err != nil {
		t.Fatalf("StartTracing: %v", err)
	}
	defer shutdown(ctx)

	fsys := essencefs.New()
	d, err := fsys.CreateDrive("data", "Data")
	if err != nil {
		t.Fatal(err)
	}
	d.WriteBytes("/hello.txt", []byte("hello"))
	fsys.SetMeta(essencefs.MetaNamespace, map[string]any{essencefs.MetaVersion: sgav2.Version})

	reg := factory.NewRegistry()
	sgav2.Register(reg)
	var buf bytes.Buffer
	if _, err := reg.Write(ctx, &buf, fsys); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := reg.Read(ctx, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got.Close()

	seen := make(map[string]bool)
	var factorySpans int
	for _, span := range exporter.GetSpans() {
		seen[span.Name] = true
		if strings.HasPrefix(span.Name, "factory.") {
			factorySpans++
		}
		if v, ok := span.Resource.Set().Value("service.version"); !ok || v.AsString() != "v0.0.0-test" {
			t.Errorf("span %q resource version: %q", span.Name, v.AsString())
		}
	}
	for _, name := range []string{"Read", "Write"} {
		if !seen[name] {
			t.Errorf("no %q span exported; got %v", name, seen)
		}
	}
	if factorySpans < 2 {
		t.Errorf("expected registry dispatch spans, got %d", factorySpans)
	}
}

func TestStartTracingRejectsBadRatio(t *testing.T) {
	_, err := telemetry.StartTracing(context.Background(),
		telemetry.WithExporter(tracetest.NewInMemoryExporter()),
		telemetry.WithSampleRatio(1.5),
	)
	if err == nil {
		t.Fatal("expected error for a sample ratio above 1")
	}
}
