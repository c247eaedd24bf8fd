package factory

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jazware/essencefs/pkg/sga"
)

var tracer = otel.Tracer("sga-factory")

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sga_factory_dispatch_total",
		Help: "Archive reads and writes dispatched by version.",
	}, []string{"op", "version", "result"})

	pluginLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sga_factory_plugin_lookups_total",
		Help: "Resolver lookups for unregistered versions.",
	}, []string{"result"})
)

// observe starts a span for a dispatch and returns a done function that
// records the outcome once the version is known.
func observe(ctx context.Context, op string, err *error) (context.Context, func(v sga.Version)) {
	ctx, span := tracer.Start(ctx, "factory."+op, trace.WithAttributes(
		attribute.String("sga.operation", op),
	))

	return ctx, func(v sga.Version) {
		span.SetAttributes(attribute.String("sga.version", v.String()))
		if *err != nil {
			span.RecordError(*err)
		}
		span.End()

		dispatchTotal.WithLabelValues(op, v.String(), resultLabel(*err)).Inc()
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, sga.ErrVersion):
		return "unsupported"
	case errors.Is(err, sga.ErrFormat):
		return "format_error"
	case errors.Is(err, sga.ErrIntegrity):
		return "integrity_error"
	}
	return "error"
}
