package observability

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	otelmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total requests by service, endpoint, method, and status.",
		},
		[]string{"service", "endpoint", "method", "status"},
	)

	BusEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beyflow_bus_events_total",
			Help: "Events emitted on the bus by event name.",
		},
		[]string{"event"},
	)

	SubscriberFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beyflow_bus_subscriber_failures_total",
			Help: "Subscriber callbacks that returned an error or panicked.",
		},
		[]string{"event"},
	)

	RuleExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beyflow_rule_executions_total",
			Help: "Automation rule executions by rule and outcome.",
		},
		[]string{"rule", "outcome"},
	)

	WorkflowSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beyflow_workflow_steps_total",
			Help: "Workflow node executions by node type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	AdapterStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beyflow_adapter_status",
			Help: "1 when the adapter is in the given connectivity state.",
		},
		[]string{"component", "status"},
	)

	AdapterCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beyflow_adapter_call_duration_seconds",
			Help:    "Latency of outbound adapter calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component", "method"},
	)

	RoutedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beyflow_router_requests_total",
			Help: "Inbound endpoint routings by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(requestCounter, BusEvents, SubscriberFailures, RuleExecutions, WorkflowSteps, AdapterStatus, AdapterCallDuration, RoutedRequests)
}

// SetAdapterStatus flips the status gauge so exactly one state reads 1.
func SetAdapterStatus(component, status string) {
	for _, s := range []string{"checking", "connected", "offline"} {
		v := 0.0
		if s == status {
			v = 1
		}
		AdapterStatus.WithLabelValues(component, s).Set(v)
	}
}

const meterName = "github.com/becmacc/beyflow-chat-sub000"

// RecordWorkflowRun records one graph execution on the otel meter, which
// SetupObservability exports through /metrics.
func RecordWorkflowRun(ctx context.Context, d time.Duration, outcome string) {
	hist, err := otel.Meter(meterName).Float64Histogram(
		"beyflow.workflow.run.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of workflow graph executions."),
	)
	if err != nil {
		slog.Debug("workflow run histogram unavailable", "error", err)
		return
	}
	hist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// SetupObservability wires the otel meter provider to prometheus and, when
// otlpEndpoint is set, batches spans to an OTLP/HTTP collector.
func SetupObservability(serviceName, otlpEndpoint string) (shutdown func(), promHandler http.Handler, tracer oteltrace.Tracer, err error) {
	propagator := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	otel.SetTextMapPropagator(propagator)

	promExporter, err := otelprom.New()
	if err != nil {
		return nil, nil, nil, err
	}
	meterProvider := otelmetric.NewMeterProvider(otelmetric.WithReader(promExporter))
	otel.SetMeterProvider(meterProvider)

	res, err := resource.New(context.Background(), resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, nil, nil, err
	}

	var tp *trace.TracerProvider
	if endpoint := strings.TrimSpace(otlpEndpoint); endpoint != "" {
		exp, err := otlptracehttp.New(context.Background(), otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, nil, nil, err
		}
		tp = trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
		slog.Info("otlp tracing enabled", "endpoint", endpoint)
	} else {
		tp = trace.NewTracerProvider(trace.WithResource(res))
	}
	otel.SetTracerProvider(tp)

	shutdown = func() {
		_ = tp.Shutdown(context.Background())
		_ = meterProvider.Shutdown(context.Background())
	}
	promHandler = promhttp.Handler()
	tracer = otel.Tracer(serviceName)
	return shutdown, promHandler, tracer, nil
}

func MetricsAndTracingMiddleware(tracer oteltrace.Tracer, serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			method := r.Method
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			ctx, span := tracer.Start(ctx, method+" "+r.URL.Path)
			span.SetAttributes(
				attribute.String("http.method", method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("service.name", serviceName),
			)
			if rid := middleware.GetReqID(ctx); rid != "" {
				span.SetAttributes(attribute.String("http.request_id", rid))
			}
			w.Header().Set("Trace-ID", span.SpanContext().TraceID().String())

			next.ServeHTTP(rw, r.WithContext(ctx))

			// Label by route pattern so ids in paths don't explode cardinality.
			endpoint := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					endpoint = p
				}
			}
			span.SetAttributes(attribute.Int("http.status_code", rw.status))
			requestCounter.WithLabelValues(serviceName, endpoint, method, strconv.Itoa(rw.status)).Inc()
			span.End()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
